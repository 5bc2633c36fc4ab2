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
	"fmt"
	"io"
	"os"
	"time"

	"emperror.dev/errors"
	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/multiapps/artifact-service/pkg/models"
)

var _ = Describe("file entry store", func() {
	var (
		db     *gorm.DB
		sut    FileEntryStore
		closer io.Closer
		ctx    = context.Background()
	)

	newEntry := func(id, space, namespace string, modified time.Time) *models.FileEntry {
		return &models.FileEntry{
			ID:              id,
			Space:           space,
			Namespace:       namespace,
			Name:            id + ".zip",
			Size:            4,
			Digest:          "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d",
			DigestAlgorithm: "SHA-1",
			Modified:        modified,
		}
	}

	BeforeEach(func() {
		os.Remove("fileentries.gorm.db")
		var err error
		db, err = gorm.Open(sqlite.Open("fileentries.gorm.db"), &gorm.Config{})
		Expect(err).To(Succeed())
		Expect(Migrate(db)).To(Succeed())
		sut, closer = NewFileEntryStore(db, logr.Discard())
	})

	AfterEach(func() {
		Expect(closer.Close()).To(Succeed())
		os.Remove("fileentries.gorm.db")
	})

	Context("crud", func() {
		It("should save and get back the entry", func() {
			now := time.Now().UTC()
			Expect(sut.Save(ctx, newEntry("id-1", "S1", "NS", now))).To(Succeed())

			entry, err := sut.Get(ctx, "S1", "id-1")
			Expect(err).To(Succeed())
			Expect(entry.ID).To(Equal("id-1"))
			Expect(entry.Space).To(Equal("S1"))
			Expect(entry.Namespace).To(Equal("NS"))
			Expect(entry.Name).To(Equal("id-1.zip"))
			Expect(entry.Size).To(Equal(int64(4)))
			Expect(entry.Modified).To(BeTemporally("~", now, time.Second))
		})

		It("should reject an entry without id", func() {
			Expect(sut.Save(ctx, &models.FileEntry{Space: "S1"})).ToNot(Succeed())
		})

		It("should not find entries of another space", func() {
			Expect(sut.Save(ctx, newEntry("id-1", "S1", "NS", time.Now()))).To(Succeed())

			_, err := sut.Get(ctx, "S2", "id-1")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("should list by space and namespace", func() {
			Expect(sut.Save(ctx, newEntry("id-1", "S1", "NS", time.Now()))).To(Succeed())
			Expect(sut.Save(ctx, newEntry("id-2", "S1", "NS", time.Now()))).To(Succeed())
			Expect(sut.Save(ctx, newEntry("id-3", "S1", "other", time.Now()))).To(Succeed())
			Expect(sut.Save(ctx, newEntry("id-4", "S2", "NS", time.Now()))).To(Succeed())

			entries, err := sut.List(ctx, "S1", "NS")
			Expect(err).To(Succeed())
			Expect(entries).To(HaveLen(2))

			all, err := sut.ListAll(ctx)
			Expect(err).To(Succeed())
			Expect(all).To(HaveLen(4))
		})

		It("should report whether a delete removed a row", func() {
			Expect(sut.Save(ctx, newEntry("id-1", "S1", "NS", time.Now()))).To(Succeed())

			removed, err := sut.Delete(ctx, "S1", "id-1")
			Expect(err).To(Succeed())
			Expect(removed).To(BeTrue())

			removed, err = sut.Delete(ctx, "S1", "id-1")
			Expect(err).To(Succeed())
			Expect(removed).To(BeFalse())
		})
	})

	Context("retention", func() {
		var cutoff time.Time

		BeforeEach(func() {
			cutoff = time.Now().UTC()
			for i := 0; i < 5; i++ {
				id := fmt.Sprintf("old-%d", i)
				Expect(sut.Save(ctx, newEntry(id, "S1", "NS", cutoff.Add(-time.Hour)))).To(Succeed())
			}
			for i := 0; i < 3; i++ {
				id := fmt.Sprintf("new-%d", i)
				Expect(sut.Save(ctx, newEntry(id, "S1", "NS", cutoff.Add(time.Hour)))).To(Succeed())
			}
		})

		It("should count and list expired entries", func() {
			count, err := sut.CountModifiedBefore(ctx, cutoff)
			Expect(err).To(Succeed())
			Expect(count).To(Equal(int64(5)))

			page, err := sut.ListModifiedBefore(ctx, cutoff, 3)
			Expect(err).To(Succeed())
			Expect(page).To(HaveLen(3))
		})

		It("should delete exactly the expired entries", func() {
			deleted, err := sut.DeleteModifiedBefore(ctx, cutoff)
			Expect(err).To(Succeed())
			Expect(deleted).To(Equal(int64(5)))

			remaining, err := sut.ListAll(ctx)
			Expect(err).To(Succeed())
			Expect(remaining).To(HaveLen(3))
			for _, entry := range remaining {
				Expect(entry.Modified.Before(cutoff)).To(BeFalse())
			}
		})

		It("should retain entries modified exactly at the cutoff", func() {
			Expect(sut.Save(ctx, newEntry("boundary", "S1", "NS", cutoff))).To(Succeed())

			deleted, err := sut.DeleteModifiedBefore(ctx, cutoff)
			Expect(err).To(Succeed())
			Expect(deleted).To(Equal(int64(5)))

			_, err = sut.Get(ctx, "S1", "boundary")
			Expect(err).To(Succeed())
		})
	})

	Context("bulk deletion", func() {
		BeforeEach(func() {
			Expect(sut.Save(ctx, newEntry("id-1", "S1", "NS", time.Now()))).To(Succeed())
			Expect(sut.Save(ctx, newEntry("id-2", "S1", "NS", time.Now()))).To(Succeed())
			Expect(sut.Save(ctx, newEntry("id-3", "S1", "other", time.Now()))).To(Succeed())
			Expect(sut.Save(ctx, newEntry("id-4", "S2", "NS", time.Now()))).To(Succeed())
			Expect(sut.Save(ctx, newEntry("id-5", "S3", "NS", time.Now()))).To(Succeed())
		})

		It("should delete by space and namespace", func() {
			deleted, err := sut.DeleteBySpaceAndNamespace(ctx, "S1", "NS")
			Expect(err).To(Succeed())
			Expect(deleted).To(Equal(int64(2)))

			entries, err := sut.List(ctx, "S1", "other")
			Expect(err).To(Succeed())
			Expect(entries).To(HaveLen(1))
		})

		It("should delete by space set", func() {
			deleted, err := sut.DeleteBySpaces(ctx, []string{"S1", "S2"})
			Expect(err).To(Succeed())
			Expect(deleted).To(Equal(int64(4)))

			all, err := sut.ListAll(ctx)
			Expect(err).To(Succeed())
			Expect(all).To(HaveLen(1))
			Expect(all[0].Space).To(Equal("S3"))
		})

		It("should tolerate an empty space set", func() {
			deleted, err := sut.DeleteBySpaces(ctx, nil)
			Expect(err).To(Succeed())
			Expect(deleted).To(Equal(int64(0)))
		})

		It("should delete a given entry set", func() {
			all, err := sut.ListAll(ctx)
			Expect(err).To(Succeed())

			deleted, err := sut.DeleteEntries(ctx, all[:2])
			Expect(err).To(Succeed())
			Expect(deleted).To(Equal(int64(2)))

			remaining, err := sut.ListAll(ctx)
			Expect(err).To(Succeed())
			Expect(remaining).To(HaveLen(3))
		})
	})
})
