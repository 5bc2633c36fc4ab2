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

// Package blobstore holds raw uploaded content addressed by (space, id).
// It knows nothing about the metadata index; the file service composes the
// two and encodes the write/delete ordering between them.
package blobstore

import (
	"context"
	"io"
	"time"

	"emperror.dev/errors"
)

const (
	// ErrNotFound is returned by Open when no blob exists for the
	// requested (space, id).
	ErrNotFound = errors.Sentinel("blob not found")
)

// Ref is the addressing triple a store needs to locate blobs for bulk
// operations. Namespace is carried alongside because namespace-scoped
// deletion happens at the blob level before the metadata level.
type Ref struct {
	Space     string
	ID        string
	Namespace string
}

// Store is the blob backend contract. Delete of an absent blob is a no-op,
// not an error; Open of an absent blob fails with ErrNotFound.
type Store interface {
	// Put consumes r and stores its content under (ref.Space, ref.ID).
	// An existing blob with the same address is overwritten. The
	// namespace travels with the blob so namespace-scoped deletion can
	// find it later.
	Put(ctx context.Context, ref Ref, r io.Reader) error

	// Open returns a stream over the blob content. The caller owns the
	// returned ReadCloser.
	Open(ctx context.Context, space, id string) (io.ReadCloser, error)

	// Delete removes the blob if present.
	Delete(ctx context.Context, space, id string) error

	// DeleteBySpaceAndNamespace removes all blobs uploaded to the given
	// space under the given namespace.
	DeleteBySpaceAndNamespace(ctx context.Context, space, namespace string) error

	// DeleteBySpaces removes all blobs of the given spaces.
	DeleteBySpaces(ctx context.Context, spaces []string) error

	// DeleteModifiedBefore removes all blobs stored before the cutoff and
	// reports how many were removed.
	DeleteModifiedBefore(ctx context.Context, cutoff time.Time) (int, error)

	// WithoutContent returns the subset of refs that have no blob. It is
	// the storage half of the reconciliation sweep.
	WithoutContent(ctx context.Context, refs []Ref) ([]Ref, error)
}
