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

// Package scheduler triggers the retention cleaners and the
// reconciliation sweep periodically. The design assumes a single active
// scheduler per deployment; in-process, gocron's wait mode keeps jobs
// from overlapping.
package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/go-logr/logr"

	"github.com/multiapps/artifact-service/pkg/cleaner"
)

var cronExpression = "0 0 * * *" // Every day at 12:00 AM

// Reconciler is the maintenance trigger for the reconciliation sweep.
// Satisfied by the file service.
type Reconciler interface {
	DeleteEntriesWithoutContent(ctx context.Context) (int64, error)
}

type SchedulerConfig struct {
	Log      logr.Logger
	Cleaners []cleaner.Cleaner

	// MaxAge determines the expiration cutoff of each run: now − MaxAge.
	MaxAge time.Duration

	// Cron overrides the default daily schedule when set.
	Cron string

	// Reconciler, when set, gets its own job on the same schedule.
	Reconciler Reconciler
}

// createScheduler returns a gocron scheduler with one job per cleaner,
// or nil when there is nothing to run.
func (sfg *SchedulerConfig) createScheduler() *gocron.Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SetMaxConcurrentJobs(1, gocron.WaitMode)

	expr := sfg.Cron
	if expr == "" {
		expr = cronExpression
	}

	for _, c := range sfg.Cleaners {
		sfg.createJob(s, expr, c)
	}

	if sfg.Reconciler != nil {
		sfg.createReconcileJob(s, expr)
	}

	if len(s.Jobs()) == 0 {
		return nil
	}

	return s
}

// createJob creates a scheduler job for one cleaner.
func (sfg *SchedulerConfig) createJob(s *gocron.Scheduler, expr string, c cleaner.Cleaner) {
	_, err := s.Cron(expr).Tag(c.Name()).Do(func() {
		deleted, err := sfg.handler(context.Background(), c)
		if err != nil {
			sfg.Log.Error(err, "cleanup run failed", "cleaner", c.Name())
			return
		}
		sfg.Log.Info("cleanup run finished", "cleaner", c.Name(), "deleted", deleted)
	})
	if err != nil {
		sfg.Log.Error(err, "error creating job", "cleaner", c.Name())
	}
}

func (sfg *SchedulerConfig) createReconcileJob(s *gocron.Scheduler, expr string) {
	_, err := s.Cron(expr).Tag("reconciliation").Do(func() {
		deleted, err := sfg.Reconciler.DeleteEntriesWithoutContent(context.Background())
		if err != nil {
			sfg.Log.Error(err, "reconciliation run failed")
			return
		}
		sfg.Log.Info("reconciliation run finished", "deleted", deleted)
	})
	if err != nil {
		sfg.Log.Error(err, "error creating reconciliation job")
	}
}

// handler runs one cleaner with the cutoff derived from MaxAge.
func (sfg *SchedulerConfig) handler(ctx context.Context, c cleaner.Cleaner) (int64, error) {
	cutoff := time.Now().Add(-sfg.MaxAge)
	return c.Execute(ctx, cutoff)
}

// StartScheduler starts all job(s) for the created scheduler.
func (sfg *SchedulerConfig) StartScheduler() {
	s := sfg.createScheduler()

	if s != nil {
		sfg.Log.Info("starting scheduler")
		s.StartAsync()
	} else {
		sfg.Log.Info("no scheduler to start")
	}
}
