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

// Package fileservice orchestrates the metadata index and the blob store.
// Consistency between the two stores comes from a fixed operation order,
// not from a transaction: blobs are written before their metadata row and
// deleted before it, so the only inconsistency either order can leave
// behind is an orphan blob. Orphan metadata (row without blob) can still
// appear through external content loss and is repaired exclusively by the
// reconciliation sweep.
package fileservice

import (
	"context"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"time"

	"emperror.dev/errors"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/multiapps/artifact-service/pkg/blobstore"
	"github.com/multiapps/artifact-service/pkg/database"
	"github.com/multiapps/artifact-service/pkg/digest"
	"github.com/multiapps/artifact-service/pkg/models"
)

const (
	// ErrStorage wraps any metadata-store or blob-backend failure.
	ErrStorage = errors.Sentinel("storage operation failed")

	// ErrNotFound means the requested id has no metadata in the space,
	// or metadata exists but the blob is absent. During a concurrent
	// delete the latter is a normal, retriable outcome.
	ErrNotFound = errors.Sentinel("file not found")

	// ErrDigest means the upload content could not be fully read and
	// hashed. It always aborts the upload before any persistent write.
	ErrDigest = errors.Sentinel("could not compute content digest")
)

// FileService exposes upload, retrieval, scoped content access, deletion
// and reconciliation over the two stores.
type FileService struct {
	entries   database.FileEntryStore
	blobs     blobstore.Store
	algorithm digest.Algorithm
	log       logr.Logger
}

type Option func(*FileService)

func WithDigestAlgorithm(alg digest.Algorithm) Option {
	return func(s *FileService) {
		s.algorithm = alg
	}
}

func New(entries database.FileEntryStore, blobs blobstore.Store, log logr.Logger, opts ...Option) *FileService {
	s := &FileService{
		entries:   entries,
		blobs:     blobs,
		algorithm: digest.DefaultAlgorithm,
		log:       log.WithName("file_service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// fileInfo is the transient, upload-scoped handle to staged content plus
// its computed attributes. It never outlives the upload operation.
type fileInfo struct {
	path      string
	size      int64
	digest    string
	algorithm digest.Algorithm
	staged    bool
}

// AddFile uploads new content. The source is consumed exactly once while
// size and digest are computed, then the blob is written, then the
// metadata row. A crash between the last two steps leaves an orphan blob,
// which is invisible and harmless; it never leaves metadata pointing at
// missing content.
func (s *FileService) AddFile(ctx context.Context, space, namespace, name string, content io.Reader) (*models.FileEntry, error) {
	info, err := s.stageContent(content)
	if err != nil {
		return nil, err
	}
	defer s.removeStaged(info)

	return s.addFile(ctx, space, namespace, name, info)
}

// AddFileFromPath uploads content that already exists as a local file,
// consuming it in place without staging a copy.
func (s *FileService) AddFileFromPath(ctx context.Context, space, namespace, name, path string) (*models.FileEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Append(ErrStorage, errors.Wrap(err, "finding file to upload"))
	}
	defer f.Close()

	size, hexDigest, err := digest.Compute(s.algorithm, f)
	if err != nil {
		return nil, errors.Append(ErrDigest, err)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Append(ErrStorage, err)
	}

	info := &fileInfo{
		path:      path,
		size:      size,
		digest:    hexDigest,
		algorithm: s.algorithm,
	}
	return s.addFile(ctx, space, namespace, name, info)
}

// GetFile is a pure metadata read. It may return an entry whose blob is
// currently missing; reads never trigger reconciliation.
func (s *FileService) GetFile(ctx context.Context, space, id string) (*models.FileEntry, error) {
	entry, err := s.entries.Get(ctx, space, id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, errors.Append(ErrNotFound, err)
		}
		return nil, errors.Append(ErrStorage, err)
	}
	return entry, nil
}

// ListFiles is a pure metadata read, scoped by space and namespace.
func (s *FileService) ListFiles(ctx context.Context, space, namespace string) ([]models.FileEntry, error) {
	entries, err := s.entries.List(ctx, space, namespace)
	if err != nil {
		return nil, errors.Append(ErrStorage, err)
	}
	return entries, nil
}

// ConsumeFileContent invokes consume exactly once with a stream over the
// blob content. The stream is released on every exit path, whether consume
// returns normally or fails. A missing blob surfaces as ErrNotFound even
// when metadata for the id exists.
func (s *FileService) ConsumeFileContent(ctx context.Context, space, id string, consume func(io.Reader) error) error {
	rc, err := s.blobs.Open(ctx, space, id)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return errors.Append(ErrNotFound, err)
		}
		return errors.Append(ErrStorage, err)
	}
	defer rc.Close()

	return consume(rc)
}

// ProcessFileContent is ConsumeFileContent for consumers that produce a
// value from the stream.
func ProcessFileContent[T any](ctx context.Context, s *FileService, space, id string, process func(io.Reader) (T, error)) (T, error) {
	var result T
	err := s.ConsumeFileContent(ctx, space, id, func(r io.Reader) error {
		var perr error
		result, perr = process(r)
		return perr
	})
	return result, err
}

// DeleteFile removes the blob first, then the metadata row, and reports
// whether a row was removed. Deleting an absent blob is a no-op, so the
// row still goes away when content is already gone.
func (s *FileService) DeleteFile(ctx context.Context, space, id string) (bool, error) {
	if err := s.blobs.Delete(ctx, space, id); err != nil {
		return false, errors.Append(ErrStorage, err)
	}

	removed, err := s.entries.Delete(ctx, space, id)
	if err != nil {
		return false, errors.Append(ErrStorage, err)
	}
	return removed, nil
}

// DeleteBySpaceAndNamespace removes all content of a namespace in a space,
// blobs first, and reports the number of metadata rows removed.
func (s *FileService) DeleteBySpaceAndNamespace(ctx context.Context, space, namespace string) (int64, error) {
	if err := s.blobs.DeleteBySpaceAndNamespace(ctx, space, namespace); err != nil {
		return 0, errors.Append(ErrStorage, err)
	}

	deleted, err := s.entries.DeleteBySpaceAndNamespace(ctx, space, namespace)
	if err != nil {
		return 0, errors.Append(ErrStorage, err)
	}
	return deleted, nil
}

// DeleteBySpaces removes all content of the given spaces, blobs first, and
// reports the number of metadata rows removed.
func (s *FileService) DeleteBySpaces(ctx context.Context, spaces []string) (int64, error) {
	if err := s.blobs.DeleteBySpaces(ctx, spaces); err != nil {
		return 0, errors.Append(ErrStorage, err)
	}

	deleted, err := s.entries.DeleteBySpaces(ctx, spaces)
	if err != nil {
		return 0, errors.Append(ErrStorage, err)
	}
	return deleted, nil
}

// DeleteModifiedBefore removes all content stored before the cutoff, blobs
// first. The returned count is metadata rows only; the two stores are not
// required to agree.
func (s *FileService) DeleteModifiedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if _, err := s.blobs.DeleteModifiedBefore(ctx, cutoff); err != nil {
		return 0, errors.Append(ErrStorage, err)
	}

	deleted, err := s.entries.DeleteModifiedBefore(ctx, cutoff)
	if err != nil {
		return 0, errors.Append(ErrStorage, err)
	}
	return deleted, nil
}

// DeleteEntriesWithoutContent is the reconciliation sweep: it removes
// exactly those metadata rows whose blob is missing and reports how many
// were removed. It is the only mechanism that may remove orphan metadata,
// and it never removes orphan blobs.
func (s *FileService) DeleteEntriesWithoutContent(ctx context.Context) (int64, error) {
	entries, err := s.entries.ListAll(ctx)
	if err != nil {
		return 0, errors.Append(ErrStorage, err)
	}

	refs := make([]blobstore.Ref, 0, len(entries))
	for _, entry := range entries {
		refs = append(refs, blobstore.Ref{Space: entry.Space, ID: entry.ID, Namespace: entry.Namespace})
	}

	missing, err := s.blobs.WithoutContent(ctx, refs)
	if err != nil {
		return 0, errors.Append(ErrStorage, err)
	}
	if len(missing) == 0 {
		return 0, nil
	}

	missingSet := make(map[string]struct{}, len(missing))
	for _, ref := range missing {
		missingSet[ref.Space+"\x00"+ref.ID] = struct{}{}
	}

	orphaned := make([]models.FileEntry, 0, len(missing))
	for _, entry := range entries {
		if _, ok := missingSet[entry.Space+"\x00"+entry.ID]; ok {
			orphaned = append(orphaned, entry)
		}
	}

	deleted, err := s.entries.DeleteEntries(ctx, orphaned)
	if err != nil {
		return deleted, errors.Append(ErrStorage, err)
	}

	s.log.Info("removed file entries without content", "count", deleted)
	return deleted, nil
}

func (s *FileService) addFile(ctx context.Context, space, namespace, name string, info *fileInfo) (*models.FileEntry, error) {
	entry := &models.FileEntry{
		ID:              uuid.NewString(),
		Space:           space,
		Namespace:       namespace,
		Name:            name,
		Size:            info.size,
		Digest:          info.digest,
		DigestAlgorithm: info.algorithm.String(),
		Modified:        time.Now().UTC(),
	}

	f, err := os.Open(info.path)
	if err != nil {
		return nil, errors.Append(ErrStorage, err)
	}
	defer f.Close()

	ref := blobstore.Ref{Space: entry.Space, ID: entry.ID, Namespace: entry.Namespace}
	if err := s.blobs.Put(ctx, ref, f); err != nil {
		return nil, errors.Append(ErrStorage, err)
	}

	if err := s.entries.Save(ctx, entry); err != nil {
		// The blob written above is now an orphan. That is the
		// tolerated side of the inconsistency window; it is not
		// cleaned up here.
		return nil, errors.Append(ErrStorage, err)
	}

	s.log.V(1).Info("stored file", "id", entry.ID, "space", space, "name", name, "size", entry.Size)
	return entry, nil
}

// stageContent spools the upload source to a local temp file while
// computing size and digest in the same pass.
func (s *FileService) stageContent(content io.Reader) (*fileInfo, error) {
	hash, err := s.algorithm.NewHash()
	if err != nil {
		return nil, errors.Append(ErrDigest, err)
	}

	tmp, err := os.CreateTemp("", "upload-*")
	if err != nil {
		return nil, errors.Append(ErrStorage, err)
	}

	size, err := io.Copy(io.MultiWriter(tmp, hash), content)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, errors.Append(ErrDigest, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, errors.Append(ErrStorage, err)
	}

	return &fileInfo{
		path:      tmp.Name(),
		size:      size,
		digest:    hexSum(hash),
		algorithm: s.algorithm,
		staged:    true,
	}, nil
}

// removeStaged drops the temp copy of an upload. Failures here are logged
// and swallowed: the upload itself already succeeded or failed on its own
// terms, and a leaked temp file must not change that outcome.
func (s *FileService) removeStaged(info *fileInfo) {
	if !info.staged {
		return
	}
	if err := os.Remove(info.path); err != nil && !os.IsNotExist(err) {
		s.log.Error(err, "could not remove staged upload", "path", info.path)
	}
}

func hexSum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
