// Copyright 2024 The Multiapps Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package database

import (
	"gorm.io/gorm"
)

var (
	listScopes = []listOptionsToScope{spaceFilter{}, namespaceFilter{}, cutoffFilter{}, limiter{}}
)

type listOptionsToScope interface {
	ToScope(opts *ListOptions) func(db *gorm.DB) *gorm.DB
}

type spaceFilter struct{}

func (spaceFilter) ToScope(opts *ListOptions) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if opts.Space == nil {
			return db
		}
		return db.Where("space = ?", *opts.Space)
	}
}

type namespaceFilter struct{}

func (namespaceFilter) ToScope(opts *ListOptions) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if opts.Namespace == nil {
			return db
		}
		return db.Where("namespace = ?", *opts.Namespace)
	}
}

type cutoffFilter struct{}

func (cutoffFilter) ToScope(opts *ListOptions) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if opts.ModifiedBefore == nil {
			return db
		}
		// Expired-first ordering keeps page fetches deterministic for
		// the retention cleaner.
		return db.Where("modified < ?", *opts.ModifiedBefore).Order("modified asc")
	}
}

type limiter struct{}

func (limiter) ToScope(opts *ListOptions) func(db *gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if opts.Limit <= 0 {
			return db
		}
		return db.Limit(opts.Limit)
	}
}

func (o *ListOptions) scopes() []func(db *gorm.DB) *gorm.DB {
	scopesToApply := []func(db *gorm.DB) *gorm.DB{}
	for _, scope := range listScopes {
		scopesToApply = append(scopesToApply, scope.ToScope(o))
	}

	return scopesToApply
}
