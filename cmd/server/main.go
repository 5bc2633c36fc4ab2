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

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"emperror.dev/errors"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/multiapps/artifact-service/pkg/blobstore"
	"github.com/multiapps/artifact-service/pkg/cleaner"
	"github.com/multiapps/artifact-service/pkg/database"
	"github.com/multiapps/artifact-service/pkg/digest"
	"github.com/multiapps/artifact-service/pkg/fileservice"
	"github.com/multiapps/artifact-service/pkg/scheduler"
)

var log logr.Logger

func main() {
	cmd := &cobra.Command{
		Use:   "artifact-service",
		Short: "Command to start up the artifact retention service",
		Long:  `Command to start up the artifact stores and the periodic retention and reconciliation jobs`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	flags := cmd.Flags()
	flags.String("db", "artifacts.db", "path of the sqlite metadata database")
	flags.String("storage", "fs", "blob backend: fs or s3")
	flags.String("dir", "/var/lib/artifact-service/blobs", "blob directory for the fs backend")
	flags.Bool("compress", false, "zstd-compress blobs in the fs backend")
	flags.String("bucket", "", "bucket for the s3 backend")
	flags.String("prefix", "artifacts", "key prefix for the s3 backend")
	flags.String("digest-algorithm", digest.DefaultAlgorithm.String(), "digest algorithm for uploads")
	flags.Duration("max-age", 0, "age after which files and historic operations expire; 0 disables cleanup")
	flags.Int("page-size", cleaner.DefaultPageSize, "page size of the retention cleaners")
	flags.String("cron", "", "cron expression overriding the daily cleanup schedule")

	viper.SetEnvPrefix("ARTIFACT_SERVICE")
	viper.AutomaticEnv()
	if err := viper.BindPFlags(flags); err != nil {
		log.Error(err, "failed to bind flags")
		os.Exit(1)
	}

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	db, err := gorm.Open(sqlite.Open(viper.GetString("db")), &gorm.Config{})
	if err != nil {
		return errors.Wrap(err, "opening metadata database")
	}

	if err := database.Migrate(db); err != nil {
		return errors.Wrap(err, "migrating metadata database")
	}

	blobs, err := newBlobStore()
	if err != nil {
		return err
	}

	alg, err := digest.Parse(viper.GetString("digest-algorithm"))
	if err != nil {
		return err
	}

	entries, closer := database.NewFileEntryStore(db, log)
	defer closer.Close()
	ops := database.NewOperationStore(db, log)

	files := fileservice.New(entries, blobs, log, fileservice.WithDigestAlgorithm(alg))

	cfg := scheduler.SchedulerConfig{
		Log:        log,
		MaxAge:     viper.GetDuration("max-age"),
		Cron:       viper.GetString("cron"),
		Reconciler: files,
	}
	if cfg.MaxAge > 0 {
		pageSize := cleaner.WithPageSize(viper.GetInt("page-size"))
		cfg.Cleaners = []cleaner.Cleaner{
			cleaner.NewFilesCleaner(files, entries, log, pageSize),
			cleaner.NewOperationsCleaner(ops, log, pageSize),
		}
	}
	cfg.StartScheduler()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	<-ch

	return nil
}

func newBlobStore() (blobstore.Store, error) {
	switch backend := viper.GetString("storage"); backend {
	case "fs":
		opts := []blobstore.FSOption{}
		if viper.GetBool("compress") {
			opts = append(opts, blobstore.WithZstdCompression())
		}
		return blobstore.NewFSStore(viper.GetString("dir"), log, opts...)
	case "s3":
		bucket := viper.GetString("bucket")
		if bucket == "" {
			return nil, errors.New("bucket is required for the s3 backend")
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, errors.Wrap(err, "loading aws configuration")
		}
		client := s3.NewFromConfig(awsCfg)
		return blobstore.NewS3Store(client, bucket, viper.GetString("prefix"), log), nil
	default:
		return nil, errors.Errorf("unknown blob backend: %s", backend)
	}
}

func init() {
	zapLog, err := zap.NewDevelopment()
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize zapr, due to error: %v", err))
	}
	log = zapr.NewLogger(zapLog)
}
