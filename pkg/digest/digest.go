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

// Package digest computes content fingerprints for uploaded blobs. The
// digest is an integrity reference, not a deduplication key.
package digest

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"

	"emperror.dev/errors"
)

const (
	ErrUnknownAlgorithm = errors.Sentinel("unknown digest algorithm")
	ErrComputation      = errors.Sentinel("digest computation failed")
)

// Algorithm names a supported digest algorithm. The string form is what
// gets persisted in the metadata row, so these values are stable.
type Algorithm string

const (
	MD5    Algorithm = "MD5"
	SHA1   Algorithm = "SHA-1"
	SHA256 Algorithm = "SHA-256"

	// DefaultAlgorithm is used when the service is not configured
	// otherwise.
	DefaultAlgorithm = SHA1
)

func (a Algorithm) String() string {
	return string(a)
}

// NewHash returns a fresh hash for the algorithm.
func (a Algorithm) NewHash() (hash.Hash, error) {
	switch a {
	case MD5:
		return md5.New(), nil
	case SHA1:
		return sha1.New(), nil
	case SHA256:
		return sha256.New(), nil
	default:
		return nil, errors.WithDetails(ErrUnknownAlgorithm, "algorithm", string(a))
	}
}

// Parse maps a configuration value to an Algorithm.
func Parse(name string) (Algorithm, error) {
	switch name {
	case "MD5", "md5":
		return MD5, nil
	case "SHA-1", "SHA1", "sha-1", "sha1":
		return SHA1, nil
	case "SHA-256", "SHA256", "sha-256", "sha256":
		return SHA256, nil
	default:
		return "", errors.WithDetails(ErrUnknownAlgorithm, "algorithm", name)
	}
}

// Compute streams r exactly once and returns the number of bytes read and
// the hex-encoded digest. A read failure surfaces as ErrComputation.
func Compute(alg Algorithm, r io.Reader) (int64, string, error) {
	h, err := alg.NewHash()
	if err != nil {
		return 0, "", err
	}

	size, err := io.Copy(h, r)
	if err != nil {
		return 0, "", errors.Append(ErrComputation, err)
	}

	return size, hex.EncodeToString(h.Sum(nil)), nil
}
