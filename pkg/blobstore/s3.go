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

package blobstore

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/avast/retry-go/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/go-logr/logr"
)

const (
	metaKeyNamespace = "namespace"
	metaKeyModified  = "modified"

	s3RetryAttempts = 3
)

// S3Store keeps blobs in an S3-compatible bucket under prefix/space/id.
// Namespace and upload time live in object metadata, mirroring the sidecar
// of the filesystem store.
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
	log    logr.Logger
}

func NewS3Store(client *s3.Client, bucket, prefix string, log logr.Logger) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		log:    log.WithName("s3_blobstore"),
	}
}

func (s *S3Store) objectKey(space, id string) string {
	return path.Join(s.prefix, space, id)
}

func (s *S3Store) spacePrefix(space string) string {
	return path.Join(s.prefix, space) + "/"
}

// Put buffers the content to give PutObject a seekable body, so transient
// failures can be retried from the start of the stream.
func (s *S3Store) Put(ctx context.Context, ref Ref, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "reading blob content")
	}

	key := s.objectKey(ref.Space, ref.ID)
	metadata := map[string]string{
		metaKeyNamespace: ref.Namespace,
		metaKeyModified:  time.Now().UTC().Format(time.RFC3339),
	}

	body := bytes.NewReader(data)
	err = retry.Do(func() error {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return err
		}
		_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:   &s.bucket,
			Key:      &key,
			Body:     body,
			Metadata: metadata,
		})
		return err
	}, retry.Attempts(s3RetryAttempts), retry.Context(ctx), retry.LastErrorOnly(true))

	if err != nil {
		return errors.Wrap(err, "putting blob to s3")
	}
	return nil
}

func (s *S3Store) Open(ctx context.Context, space, id string) (io.ReadCloser, error) {
	key := s.objectKey(space, id)
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, errors.WithDetails(ErrNotFound, "space", space, "id", id)
		}
		return nil, errors.Wrap(err, "getting blob from s3")
	}
	return out.Body, nil
}

func (s *S3Store) Delete(ctx context.Context, space, id string) error {
	key := s.objectKey(space, id)

	// DeleteObject succeeds for absent keys, which gives us the
	// idempotent no-op semantics for free.
	err := retry.Do(func() error {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: &s.bucket,
			Key:    &key,
		})
		return err
	}, retry.Attempts(s3RetryAttempts), retry.Context(ctx), retry.LastErrorOnly(true))

	if err != nil {
		return errors.Wrap(err, "deleting blob from s3")
	}
	return nil
}

func (s *S3Store) DeleteBySpaceAndNamespace(ctx context.Context, space, namespace string) error {
	return s.deleteMatching(ctx, s.spacePrefix(space), func(key string, head *s3.HeadObjectOutput) bool {
		return head.Metadata[metaKeyNamespace] == namespace
	})
}

func (s *S3Store) DeleteBySpaces(ctx context.Context, spaces []string) error {
	for _, space := range spaces {
		err := s.deleteMatching(ctx, s.spacePrefix(space), func(string, *s3.HeadObjectOutput) bool {
			return true
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *S3Store) DeleteModifiedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0
	err := s.forEachObject(ctx, s.prefix, func(obj types.Object) error {
		if obj.LastModified == nil || !obj.LastModified.Before(cutoff) {
			return nil
		}
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: &s.bucket,
			Key:    obj.Key,
		}); err != nil {
			return errors.Wrap(err, "deleting expired blob from s3")
		}
		deleted++
		return nil
	})
	return deleted, err
}

func (s *S3Store) WithoutContent(ctx context.Context, refs []Ref) ([]Ref, error) {
	var missing []Ref
	for _, ref := range refs {
		key := s.objectKey(ref.Space, ref.ID)
		_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: &s.bucket,
			Key:    &key,
		})
		if err != nil {
			var notFound *types.NotFound
			if errors.As(err, &notFound) {
				missing = append(missing, ref)
				continue
			}
			return nil, errors.Wrap(err, "checking blob content in s3")
		}
	}
	return missing, nil
}

func (s *S3Store) deleteMatching(ctx context.Context, prefix string, match func(string, *s3.HeadObjectOutput) bool) error {
	return s.forEachObject(ctx, prefix, func(obj types.Object) error {
		head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: &s.bucket,
			Key:    obj.Key,
		})
		if err != nil {
			return errors.Wrap(err, "heading blob in s3")
		}
		if !match(*obj.Key, head) {
			return nil
		}
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: &s.bucket,
			Key:    obj.Key,
		}); err != nil {
			return errors.Wrap(err, "deleting blob from s3")
		}
		return nil
	})
}

func (s *S3Store) forEachObject(ctx context.Context, prefix string, visit func(types.Object) error) error {
	prefix = strings.TrimPrefix(prefix, "/")
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: &s.bucket,
		Prefix: &prefix,
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return errors.Wrap(err, "listing blobs in s3")
		}
		for _, obj := range page.Contents {
			if err := visit(obj); err != nil {
				return err
			}
		}
	}
	return nil
}
