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
	"context"
	"io"
	"os"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("FSStore", func() {
	var (
		ctx   context.Context
		dir   string
		store *FSStore
	)

	put := func(ref Ref, content string) {
		Expect(store.Put(ctx, ref, strings.NewReader(content))).To(Succeed())
	}

	read := func(space, id string) string {
		rc, err := store.Open(ctx, space, id)
		Expect(err).ToNot(HaveOccurred())
		defer rc.Close()

		bs, err := io.ReadAll(rc)
		Expect(err).ToNot(HaveOccurred())
		return string(bs)
	}

	BeforeEach(func() {
		ctx = context.Background()

		var err error
		dir, err = os.MkdirTemp("", "blobstore-test-")
		Expect(err).ToNot(HaveOccurred())

		store, err = NewFSStore(dir, logr.Discard())
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() {
		os.RemoveAll(dir)
	})

	Context("put and open", func() {
		It("round trips blob content", func() {
			put(Ref{Space: "space-a", ID: "blob-1"}, "artifact content")
			Expect(read("space-a", "blob-1")).To(Equal("artifact content"))
		})

		It("keeps blobs in different spaces apart", func() {
			put(Ref{Space: "space-a", ID: "blob-1"}, "a content")
			put(Ref{Space: "space-b", ID: "blob-1"}, "b content")

			Expect(read("space-a", "blob-1")).To(Equal("a content"))
			Expect(read("space-b", "blob-1")).To(Equal("b content"))
		})

		It("returns ErrNotFound for a blob that was never put", func() {
			_, err := store.Open(ctx, "space-a", "absent")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("round trips compressed content", func() {
			compressed, err := NewFSStore(dir, logr.Discard(), WithZstdCompression())
			Expect(err).ToNot(HaveOccurred())

			content := strings.Repeat("compressible payload ", 512)
			Expect(compressed.Put(ctx, Ref{Space: "space-a", ID: "blob-z"}, strings.NewReader(content))).To(Succeed())

			rc, err := compressed.Open(ctx, "space-a", "blob-z")
			Expect(err).ToNot(HaveOccurred())
			defer rc.Close()

			bs, err := io.ReadAll(rc)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(bs)).To(Equal(content))
		})

		It("reads blobs written by a compressing store through a plain one", func() {
			compressed, err := NewFSStore(dir, logr.Discard(), WithZstdCompression())
			Expect(err).ToNot(HaveOccurred())

			Expect(compressed.Put(ctx, Ref{Space: "space-a", ID: "blob-z"}, strings.NewReader("mixed content"))).To(Succeed())
			Expect(read("space-a", "blob-z")).To(Equal("mixed content"))
		})
	})

	Context("delete", func() {
		It("removes the blob and its sidecar", func() {
			put(Ref{Space: "space-a", ID: "blob-1"}, "content")

			Expect(store.Delete(ctx, "space-a", "blob-1")).To(Succeed())

			_, err := store.Open(ctx, "space-a", "blob-1")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
		})

		It("is a no-op for an absent blob", func() {
			Expect(store.Delete(ctx, "space-a", "absent")).To(Succeed())
		})
	})

	Context("bulk deletion", func() {
		BeforeEach(func() {
			put(Ref{Space: "space-a", ID: "blob-1", Namespace: "ns-1"}, "a1")
			put(Ref{Space: "space-a", ID: "blob-2", Namespace: "ns-1"}, "a2")
			put(Ref{Space: "space-a", ID: "blob-3", Namespace: "ns-2"}, "a3")
			put(Ref{Space: "space-b", ID: "blob-1", Namespace: "ns-1"}, "b1")
		})

		It("deletes by space and namespace", func() {
			Expect(store.DeleteBySpaceAndNamespace(ctx, "space-a", "ns-1")).To(Succeed())

			_, err := store.Open(ctx, "space-a", "blob-1")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			_, err = store.Open(ctx, "space-a", "blob-2")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())

			Expect(read("space-a", "blob-3")).To(Equal("a3"))
			Expect(read("space-b", "blob-1")).To(Equal("b1"))
		})

		It("deletes whole spaces", func() {
			Expect(store.DeleteBySpaces(ctx, []string{"space-a"})).To(Succeed())

			_, err := store.Open(ctx, "space-a", "blob-3")
			Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			Expect(read("space-b", "blob-1")).To(Equal("b1"))
		})

		It("tolerates deleting a space that does not exist", func() {
			Expect(store.DeleteBySpaces(ctx, []string{"space-c"})).To(Succeed())
		})
	})

	Context("deletion by age", func() {
		It("deletes only blobs modified before the cutoff", func() {
			put(Ref{Space: "space-a", ID: "blob-old"}, "old")
			put(Ref{Space: "space-b", ID: "blob-older"}, "older")

			deleted, err := store.DeleteModifiedBefore(ctx, time.Now().Add(time.Hour))
			Expect(err).ToNot(HaveOccurred())
			Expect(deleted).To(Equal(2))

			deleted, err = store.DeleteModifiedBefore(ctx, time.Now().Add(time.Hour))
			Expect(err).ToNot(HaveOccurred())
			Expect(deleted).To(Equal(0))
		})

		It("retains blobs modified at or after the cutoff", func() {
			put(Ref{Space: "space-a", ID: "blob-new"}, "new")

			deleted, err := store.DeleteModifiedBefore(ctx, time.Now().Add(-time.Hour))
			Expect(err).ToNot(HaveOccurred())
			Expect(deleted).To(Equal(0))
			Expect(read("space-a", "blob-new")).To(Equal("new"))
		})
	})

	Context("content reconciliation", func() {
		It("reports refs whose content is missing", func() {
			put(Ref{Space: "space-a", ID: "blob-1"}, "present")

			refs := []Ref{
				{Space: "space-a", ID: "blob-1"},
				{Space: "space-a", ID: "blob-gone"},
				{Space: "space-b", ID: "blob-gone"},
			}
			missing, err := store.WithoutContent(ctx, refs)
			Expect(err).ToNot(HaveOccurred())
			Expect(missing).To(ConsistOf(
				Ref{Space: "space-a", ID: "blob-gone"},
				Ref{Space: "space-b", ID: "blob-gone"},
			))
		})

		It("reports nothing when all content is present", func() {
			put(Ref{Space: "space-a", ID: "blob-1"}, "present")

			missing, err := store.WithoutContent(ctx, []Ref{{Space: "space-a", ID: "blob-1"}})
			Expect(err).ToNot(HaveOccurred())
			Expect(missing).To(BeEmpty())
		})
	})
})
