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

package cleaner

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/multiapps/artifact-service/pkg/database"
	"github.com/multiapps/artifact-service/pkg/fileservice"
	"github.com/multiapps/artifact-service/pkg/models"
)

// NewFilesCleaner expires file entries page by page, deleting each one
// through the file service so blob and metadata row go together in the
// usual order.
func NewFilesCleaner(files *fileservice.FileService, entries database.FileEntryStore, log logr.Logger, opts ...PagedOption) Cleaner {
	return NewPaged[models.FileEntry]("files_cleaner", &fileEntrySource{
		files:   files,
		entries: entries,
	}, log, opts...)
}

type fileEntrySource struct {
	files   *fileservice.FileService
	entries database.FileEntryStore
}

func (s *fileEntrySource) CountExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.entries.CountModifiedBefore(ctx, cutoff)
}

func (s *fileEntrySource) FetchExpiredPage(ctx context.Context, cutoff time.Time, pageSize int) ([]models.FileEntry, error) {
	return s.entries.ListModifiedBefore(ctx, cutoff, pageSize)
}

func (s *fileEntrySource) DeleteOne(ctx context.Context, entry models.FileEntry) error {
	_, err := s.files.DeleteFile(ctx, entry.Space, entry.ID)
	return err
}

// BulkFilesCleaner is the single-shot alternative: it hands the whole
// cutoff to the file service's bulk-by-age path. Preferable when the
// backend can delete by range cheaply and per-item accounting isn't
// needed.
type BulkFilesCleaner struct {
	Files *fileservice.FileService
}

func (c *BulkFilesCleaner) Name() string {
	return "bulk_files_cleaner"
}

func (c *BulkFilesCleaner) Execute(ctx context.Context, cutoff time.Time) (int64, error) {
	return c.Files.DeleteModifiedBefore(ctx, cutoff)
}
