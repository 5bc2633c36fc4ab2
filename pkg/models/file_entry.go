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

// FileEntry is the metadata row describing one stored blob. Entries are
// write-once: there is no update path and Modified is the creation time.
// The corresponding blob is addressed by (Space, ID) in the blob store.
type FileEntry struct {
	ID              string `gorm:"primaryKey"`
	Space           string `gorm:"index:idx_file_entries_space_namespace"`
	Namespace       string `gorm:"index:idx_file_entries_space_namespace"`
	Name            string
	Size            int64
	Digest          string
	DigestAlgorithm string
	Modified        time.Time `gorm:"index"`
}

func (FileEntry) TableName() string {
	return "file_entries"
}
