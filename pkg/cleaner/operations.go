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
	"github.com/multiapps/artifact-service/pkg/models"
)

// NewOperationsCleaner expires historic operation records. Same loop as
// the files cleaner, entirely different record kind — the Source triple is
// all they share.
func NewOperationsCleaner(ops database.OperationStore, log logr.Logger, opts ...PagedOption) Cleaner {
	return NewPaged[models.HistoricOperation]("operations_cleaner", &operationSource{ops: ops}, log, opts...)
}

type operationSource struct {
	ops database.OperationStore
}

func (s *operationSource) CountExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.ops.CountStartedBefore(ctx, cutoff)
}

func (s *operationSource) FetchExpiredPage(ctx context.Context, cutoff time.Time, pageSize int) ([]models.HistoricOperation, error) {
	return s.ops.ListStartedBefore(ctx, cutoff, pageSize)
}

func (s *operationSource) DeleteOne(ctx context.Context, op models.HistoricOperation) error {
	return s.ops.Delete(ctx, op.ProcessID)
}
