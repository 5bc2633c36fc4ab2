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

// Package database is the relational metadata index for stored blobs and
// the historic operation archive. It never touches the blob store; the
// file service composes the two.
package database

import (
	"context"
	"io"
	"time"

	"emperror.dev/errors"
	"github.com/go-logr/logr"
	"gorm.io/gorm"

	"github.com/multiapps/artifact-service/pkg/models"
)

const (
	ErrNotFound = errors.Sentinel("no file entry found")
)

// FileEntryStore is the metadata half of the dual-store design. Rows are
// immutable; there is deliberately no update method.
type FileEntryStore interface {
	Save(ctx context.Context, entry *models.FileEntry) error
	Get(ctx context.Context, space, id string) (*models.FileEntry, error)
	List(ctx context.Context, space, namespace string) ([]models.FileEntry, error)
	ListWith(ctx context.Context, opts ...ListOption) ([]models.FileEntry, error)
	ListAll(ctx context.Context) ([]models.FileEntry, error)
	ListModifiedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.FileEntry, error)
	CountModifiedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	Delete(ctx context.Context, space, id string) (bool, error)
	DeleteBySpaceAndNamespace(ctx context.Context, space, namespace string) (int64, error)
	DeleteBySpaces(ctx context.Context, spaces []string) (int64, error)
	DeleteModifiedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteEntries(ctx context.Context, entries []models.FileEntry) (int64, error)
}

func NewFileEntryStore(db *gorm.DB, log logr.Logger) (FileEntryStore, io.Closer) {
	store := &fileEntryStore{
		db:  db,
		log: log.WithName("file_entry_store"),
	}
	return store, store
}

type fileEntryStore struct {
	db  *gorm.DB
	log logr.Logger
}

func (s *fileEntryStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		s.log.Error(err, "couldn't close db")
		return err
	}
	return sqlDB.Close()
}

func (s *fileEntryStore) Save(ctx context.Context, entry *models.FileEntry) error {
	if entry == nil || entry.ID == "" {
		return errors.New("file entry or its id is empty")
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return errors.Wrap(err, "inserting file entry")
	}

	s.log.V(1).Info("saved file entry", "id", entry.ID, "space", entry.Space, "size", entry.Size)
	return nil
}

func (s *fileEntryStore) Get(ctx context.Context, space, id string) (*models.FileEntry, error) {
	entry := models.FileEntry{}
	err := s.db.WithContext(ctx).
		Where("space = ? AND id = ?", space, id).
		First(&entry).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.WithDetails(ErrNotFound, "space", space, "id", id)
		}
		return nil, errors.Wrap(err, "querying file entry")
	}
	return &entry, nil
}

func (s *fileEntryStore) List(ctx context.Context, space, namespace string) ([]models.FileEntry, error) {
	return s.ListWith(ctx, InSpace(space), InNamespace(namespace))
}

func (s *fileEntryStore) ListAll(ctx context.Context) ([]models.FileEntry, error) {
	return s.ListWith(ctx)
}

func (s *fileEntryStore) ListModifiedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.FileEntry, error) {
	return s.ListWith(ctx, ModifiedBefore(cutoff), Limit(limit))
}

func (s *fileEntryStore) ListWith(ctx context.Context, opts ...ListOption) ([]models.FileEntry, error) {
	listOpts := (&ListOptions{}).ApplyOptions(opts)

	entries := []models.FileEntry{}
	err := s.db.WithContext(ctx).
		Scopes(listOpts.scopes()...).
		Find(&entries).Error

	if err != nil {
		return nil, errors.Wrap(err, "listing file entries")
	}
	return entries, nil
}

func (s *fileEntryStore) CountModifiedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.FileEntry{}).
		Where("modified < ?", cutoff).
		Count(&count).Error

	if err != nil {
		return 0, errors.Wrap(err, "counting expired file entries")
	}
	return count, nil
}

func (s *fileEntryStore) Delete(ctx context.Context, space, id string) (bool, error) {
	tx := s.db.WithContext(ctx).
		Where("space = ? AND id = ?", space, id).
		Delete(&models.FileEntry{})

	if tx.Error != nil {
		return false, errors.Wrap(tx.Error, "deleting file entry")
	}
	return tx.RowsAffected > 0, nil
}

func (s *fileEntryStore) DeleteBySpaceAndNamespace(ctx context.Context, space, namespace string) (int64, error) {
	tx := s.db.WithContext(ctx).
		Where("space = ? AND namespace = ?", space, namespace).
		Delete(&models.FileEntry{})

	if tx.Error != nil {
		return 0, errors.Wrap(tx.Error, "deleting file entries by space and namespace")
	}
	return tx.RowsAffected, nil
}

func (s *fileEntryStore) DeleteBySpaces(ctx context.Context, spaces []string) (int64, error) {
	if len(spaces) == 0 {
		return 0, nil
	}

	tx := s.db.WithContext(ctx).
		Where("space IN ?", spaces).
		Delete(&models.FileEntry{})

	if tx.Error != nil {
		return 0, errors.Wrap(tx.Error, "deleting file entries by spaces")
	}
	return tx.RowsAffected, nil
}

func (s *fileEntryStore) DeleteModifiedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx := s.db.WithContext(ctx).
		Where("modified < ?", cutoff).
		Delete(&models.FileEntry{})

	if tx.Error != nil {
		return 0, errors.Wrap(tx.Error, "deleting expired file entries")
	}
	return tx.RowsAffected, nil
}

func (s *fileEntryStore) DeleteEntries(ctx context.Context, entries []models.FileEntry) (int64, error) {
	var deleted int64
	for _, entry := range entries {
		removed, err := s.Delete(ctx, entry.Space, entry.ID)
		if err != nil {
			return deleted, err
		}
		if removed {
			deleted++
		}
	}
	return deleted, nil
}
