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

package blobstore

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/go-logr/logr"
	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"
)

const (
	tempDirName    = ".tmp"
	metaFileSuffix = ".meta.json"

	compressionNone = "none"
	compressionZstd = "zstd"
)

// blobMeta is the sidecar record written next to each blob. It carries the
// attributes bulk operations filter on, so they never have to consult the
// metadata index.
type blobMeta struct {
	Namespace   string    `json:"namespace,omitempty"`
	Modified    time.Time `json:"modified"`
	Compression string    `json:"compression"`
}

// FSStore keeps blobs on the local filesystem under root/space/id with a
// JSON sidecar per blob. Writes are staged in a temp directory and renamed
// into place so a blob is either fully present or absent.
type FSStore struct {
	root     string
	log      logr.Logger
	compress bool
}

type FSOption func(*FSStore)

// WithZstdCompression stores blob content zstd-compressed. Reads remain
// transparent; mixed stores work because the sidecar records the
// compression per blob.
func WithZstdCompression() FSOption {
	return func(s *FSStore) {
		s.compress = true
	}
}

func NewFSStore(root string, log logr.Logger, opts ...FSOption) (*FSStore, error) {
	root = filepath.Clean(root)

	if err := os.MkdirAll(filepath.Join(root, tempDirName), 0o750); err != nil {
		return nil, errors.Wrap(err, "creating blob temp directory")
	}

	s := &FSStore{
		root: root,
		log:  log.WithName("fs_blobstore"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *FSStore) blobPath(space, id string) string {
	return filepath.Join(s.root, space, id)
}

func (s *FSStore) metaPath(space, id string) string {
	return s.blobPath(space, id) + metaFileSuffix
}

func (s *FSStore) Put(ctx context.Context, ref Ref, r io.Reader) error {
	space, id := ref.Space, ref.ID

	if err := os.MkdirAll(filepath.Join(s.root, space), 0o750); err != nil {
		return errors.Wrap(err, "creating space directory")
	}

	tmp, err := os.CreateTemp(filepath.Join(s.root, tempDirName), "put-*")
	if err != nil {
		return errors.Wrap(err, "staging blob")
	}
	defer os.Remove(tmp.Name())

	compression := compressionNone
	if s.compress {
		compression = compressionZstd
		enc, err := zstd.NewWriter(tmp)
		if err != nil {
			tmp.Close()
			return errors.Wrap(err, "creating zstd writer")
		}
		if _, err := io.Copy(enc, r); err != nil {
			enc.Close()
			tmp.Close()
			return errors.Wrap(err, "writing blob content")
		}
		if err := enc.Close(); err != nil {
			tmp.Close()
			return errors.Wrap(err, "flushing zstd writer")
		}
	} else {
		if _, err := io.Copy(tmp, r); err != nil {
			tmp.Close()
			return errors.Wrap(err, "writing blob content")
		}
	}

	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing staged blob")
	}

	meta := blobMeta{
		Namespace:   ref.Namespace,
		Modified:    time.Now().UTC(),
		Compression: compression,
	}
	if err := s.writeMeta(space, id, meta); err != nil {
		return err
	}

	if err := os.Rename(tmp.Name(), s.blobPath(space, id)); err != nil {
		os.Remove(s.metaPath(space, id))
		return errors.Wrap(err, "committing blob")
	}

	return nil
}

func (s *FSStore) Open(ctx context.Context, space, id string) (io.ReadCloser, error) {
	f, err := os.Open(s.blobPath(space, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WithDetails(ErrNotFound, "space", space, "id", id)
		}
		return nil, errors.Wrap(err, "opening blob")
	}

	meta, err := s.readMeta(space, id)
	if err != nil {
		f.Close()
		return nil, err
	}

	if meta.Compression == compressionZstd {
		dec, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, errors.Wrap(err, "creating zstd reader")
		}
		return &zstdReadCloser{dec: dec, f: f}, nil
	}

	return f, nil
}

func (s *FSStore) Delete(ctx context.Context, space, id string) error {
	if err := os.Remove(s.blobPath(space, id)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "deleting blob")
	}
	if err := os.Remove(s.metaPath(space, id)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "deleting blob sidecar")
	}
	return nil
}

func (s *FSStore) DeleteBySpaceAndNamespace(ctx context.Context, space, namespace string) error {
	ids, err := s.listSpace(space)
	if err != nil {
		return err
	}

	for _, id := range ids {
		meta, err := s.readMeta(space, id)
		if err != nil {
			return err
		}
		if meta.Namespace != namespace {
			continue
		}
		if err := s.Delete(ctx, space, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *FSStore) DeleteBySpaces(ctx context.Context, spaces []string) error {
	g, _ := errgroup.WithContext(ctx)
	for _, space := range spaces {
		dir := filepath.Join(s.root, space)
		g.Go(func() error {
			if err := os.RemoveAll(dir); err != nil {
				return errors.Wrap(err, "deleting space directory")
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *FSStore) DeleteModifiedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	spaces, err := s.listSpaces()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, space := range spaces {
		ids, err := s.listSpace(space)
		if err != nil {
			return deleted, err
		}
		for _, id := range ids {
			meta, err := s.readMeta(space, id)
			if err != nil {
				return deleted, err
			}
			if !meta.Modified.Before(cutoff) {
				continue
			}
			if err := s.Delete(ctx, space, id); err != nil {
				return deleted, err
			}
			deleted++
		}
	}
	return deleted, nil
}

func (s *FSStore) WithoutContent(ctx context.Context, refs []Ref) ([]Ref, error) {
	var missing []Ref
	for _, ref := range refs {
		_, err := os.Stat(s.blobPath(ref.Space, ref.ID))
		if err == nil {
			continue
		}
		if !os.IsNotExist(err) {
			return nil, errors.Wrap(err, "checking blob content")
		}
		missing = append(missing, ref)
	}
	return missing, nil
}

func (s *FSStore) listSpaces() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.Wrap(err, "listing spaces")
	}

	var spaces []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == tempDirName {
			continue
		}
		spaces = append(spaces, e.Name())
	}
	return spaces, nil
}

func (s *FSStore) listSpace(space string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, space))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "listing space")
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), metaFileSuffix) {
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}

func (s *FSStore) readMeta(space, id string) (*blobMeta, error) {
	bs, err := os.ReadFile(s.metaPath(space, id))
	if err != nil {
		if os.IsNotExist(err) {
			// Blob without sidecar: tolerate and fall back to
			// uncompressed defaults so content stays readable.
			return &blobMeta{Compression: compressionNone}, nil
		}
		return nil, errors.Wrap(err, "reading blob sidecar")
	}

	meta := blobMeta{}
	if err := json.Unmarshal(bs, &meta); err != nil {
		return nil, errors.Wrap(err, "decoding blob sidecar")
	}
	return &meta, nil
}

func (s *FSStore) writeMeta(space, id string, meta blobMeta) error {
	bs, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "encoding blob sidecar")
	}
	if err := os.WriteFile(s.metaPath(space, id), bs, 0o640); err != nil {
		return errors.Wrap(err, "writing blob sidecar")
	}
	return nil
}

type zstdReadCloser struct {
	dec *zstd.Decoder
	f   *os.File
}

func (z *zstdReadCloser) Read(p []byte) (int, error) {
	return z.dec.Read(p)
}

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.f.Close()
}
