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
	"context"
	"time"

	"emperror.dev/errors"
	"github.com/go-logr/logr"
	"gorm.io/gorm"

	"github.com/multiapps/artifact-service/pkg/models"
)

// OperationStore archives finished deploy processes. Its expiry surface
// matches the retention cleaner's capability triple; expiry is by start
// time, so long-running processes don't dodge the cutoff.
type OperationStore interface {
	Save(ctx context.Context, op *models.HistoricOperation) error
	CountStartedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ListStartedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.HistoricOperation, error)
	Delete(ctx context.Context, processID string) error
}

func NewOperationStore(db *gorm.DB, log logr.Logger) OperationStore {
	return &operationStore{
		db:  db,
		log: log.WithName("operation_store"),
	}
}

type operationStore struct {
	db  *gorm.DB
	log logr.Logger
}

func (s *operationStore) Save(ctx context.Context, op *models.HistoricOperation) error {
	if op == nil || op.ProcessID == "" {
		return errors.New("historic operation or its process id is empty")
	}

	if err := s.db.WithContext(ctx).Create(op).Error; err != nil {
		return errors.Wrap(err, "inserting historic operation")
	}
	return nil
}

func (s *operationStore) CountStartedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.HistoricOperation{}).
		Where("started_at < ?", cutoff).
		Count(&count).Error

	if err != nil {
		return 0, errors.Wrap(err, "counting expired historic operations")
	}
	return count, nil
}

func (s *operationStore) ListStartedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.HistoricOperation, error) {
	ops := []models.HistoricOperation{}
	tx := s.db.WithContext(ctx).
		Where("started_at < ?", cutoff).
		Order("started_at asc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}

	if err := tx.Find(&ops).Error; err != nil {
		return nil, errors.Wrap(err, "listing expired historic operations")
	}
	return ops, nil
}

func (s *operationStore) Delete(ctx context.Context, processID string) error {
	err := s.db.WithContext(ctx).
		Where("process_id = ?", processID).
		Delete(&models.HistoricOperation{}).Error

	if err != nil {
		return errors.Wrap(err, "deleting historic operation")
	}
	return nil
}
