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
	gormigrate "github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"

	"github.com/multiapps/artifact-service/pkg/models"
)

var (
	migrations = []*gormigrate.Migration{
		{
			ID: "202402060001",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(models.FileEntry{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("file_entries")
			},
		},
		{
			ID: "202402060002",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(models.HistoricOperation{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("historic_operations")
			},
		},
	}
)

func migrator(db *gorm.DB) *gormigrate.Gormigrate {
	return gormigrate.New(db, gormigrate.DefaultOptions, migrations)
}

func Migrate(db *gorm.DB) error {
	m := migrator(db)

	if err := m.Migrate(); err != nil {
		return err
	}

	return db.AutoMigrate(models.FileEntry{}, models.HistoricOperation{})
}
