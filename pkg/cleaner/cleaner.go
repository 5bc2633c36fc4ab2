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

// Package cleaner implements the paginated, partial-failure-tolerant
// expiry algorithm shared by every record kind with a retention cutoff.
// The loop exists exactly once; record kinds plug in through the Source
// capability triple.
package cleaner

import (
	"context"
	"time"

	"emperror.dev/errors"
	"github.com/go-logr/logr"
)

const DefaultPageSize = 100

// Source is the capability triple a record kind must provide: count the
// expired items, fetch a page of still-expired items, delete one item.
// FetchExpiredPage must re-query by the cutoff rather than paging by
// offset, so items deleted in earlier pages (by this run or by anyone
// else) drop out of later fetches on their own.
type Source[T any] interface {
	CountExpired(ctx context.Context, cutoff time.Time) (int64, error)
	FetchExpiredPage(ctx context.Context, cutoff time.Time, pageSize int) ([]T, error)
	DeleteOne(ctx context.Context, item T) error
}

// Cleaner is one retention job. Execute reports the number of items
// successfully deleted; per-item failures never fail a run.
type Cleaner interface {
	Name() string
	Execute(ctx context.Context, cutoff time.Time) (int64, error)
}

// Paged runs the expiry loop over a Source. It is sequential by design:
// one page at a time, one item at a time, bounding memory to a page and
// keeping progress observable. A second invocation after a partial run
// only sees the still-expired remainder, which makes the job idempotent
// and crash-resumable. It is not safe against a second concurrent
// instance of itself; the scheduler guarantees a single active run.
type Paged[T any] struct {
	name     string
	source   Source[T]
	pageSize int
	log      logr.Logger
}

type PagedOption func(pageSize *int)

func WithPageSize(n int) PagedOption {
	return func(pageSize *int) {
		if n > 0 {
			*pageSize = n
		}
	}
}

func NewPaged[T any](name string, source Source[T], log logr.Logger, opts ...PagedOption) *Paged[T] {
	pageSize := DefaultPageSize
	for _, opt := range opts {
		opt(&pageSize)
	}
	return &Paged[T]{
		name:     name,
		source:   source,
		pageSize: pageSize,
		log:      log.WithName(name),
	}
}

func (c *Paged[T]) Name() string {
	return c.name
}

// Execute deletes everything expired at the cutoff. Only a failure of the
// counting or page-fetch step is fatal; a failed per-item delete is
// logged, excluded from the reported count, and the run moves on.
func (c *Paged[T]) Execute(ctx context.Context, cutoff time.Time) (int64, error) {
	total, err := c.source.CountExpired(ctx, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "counting expired items")
	}

	pages := pageCount(total, c.pageSize)
	c.log.Info("deleting expired items", "cutoff", cutoff, "expired", total, "pages", pages)

	var deleted int64
	for page := int64(0); page < pages; page++ {
		items, err := c.source.FetchExpiredPage(ctx, cutoff, c.pageSize)
		if err != nil {
			return deleted, errors.Wrap(err, "fetching page of expired items")
		}

		for _, item := range items {
			if err := c.source.DeleteOne(ctx, item); err != nil {
				c.log.Error(err, "could not delete expired item", "item", item)
				continue
			}
			deleted++
		}
	}

	c.log.Info("deleted expired items", "deleted", deleted)
	return deleted, nil
}

func pageCount(total int64, pageSize int) int64 {
	return (total + int64(pageSize) - 1) / int64(pageSize)
}
