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

package models

import "time"

// HistoricOperation is the record of a finished deploy process kept for
// auditing. Rows accumulate until the retention cleaner expires them by
// StartedAt.
type HistoricOperation struct {
	ID          uint   `gorm:"primaryKey"`
	ProcessID   string `gorm:"uniqueIndex"`
	ProcessType string
	Space       string
	State       string
	StartedAt   time.Time `gorm:"index"`
	EndedAt     time.Time
}

func (HistoricOperation) TableName() string {
	return "historic_operations"
}
