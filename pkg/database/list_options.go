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

import "time"

type ListOption interface {
	ApplyToList(*ListOptions)
}

type ListOptions struct {
	Space          *string
	Namespace      *string
	ModifiedBefore *time.Time
	Limit          int
}

func (o *ListOptions) ApplyOptions(opts []ListOption) *ListOptions {
	for _, opt := range opts {
		opt.ApplyToList(o)
	}
	return o
}

func InSpace(space string) ListOption {
	return inSpace(space)
}

type inSpace string

func (f inSpace) ApplyToList(opts *ListOptions) {
	space := string(f)
	opts.Space = &space
}

func InNamespace(namespace string) ListOption {
	return inNamespace(namespace)
}

type inNamespace string

func (f inNamespace) ApplyToList(opts *ListOptions) {
	namespace := string(f)
	opts.Namespace = &namespace
}

func ModifiedBefore(cutoff time.Time) ListOption {
	return modifiedBefore(cutoff)
}

type modifiedBefore time.Time

func (f modifiedBefore) ApplyToList(opts *ListOptions) {
	cutoff := time.Time(f)
	opts.ModifiedBefore = &cutoff
}

func Limit(n int) ListOption {
	return limit(n)
}

type limit int

func (f limit) ApplyToList(opts *ListOptions) {
	opts.Limit = int(f)
}
