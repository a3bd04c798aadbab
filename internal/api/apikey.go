// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"crypto/subtle"
	"errors"

	"github.com/awnumar/memguard"
)

// ErrNoAPIKey is returned when the server is started without an API key.
var ErrNoAPIKey = errors.New("an API key is required to serve /v1")

// minMemlockBytes is the smallest RLIMIT_MEMLOCK at which sealing the key
// is not expected to fail.
const minMemlockBytes = 64 * 1024

// APIKey holds the shared secret in an encrypted memguard enclave. The
// plaintext only exists in locked memory for the duration of a comparison.
type APIKey struct {
	enclave *memguard.Enclave
}

// NewAPIKey seals key. The caller's copy of the string cannot be wiped;
// load it from the environment as late as possible.
func NewAPIKey(key string) (*APIKey, error) {
	if key == "" {
		return nil, ErrNoAPIKey
	}
	buf := []byte(key)
	return &APIKey{enclave: memguard.NewEnclave(buf)}, nil
}

// Matches reports whether candidate equals the key in constant time.
func (k *APIKey) Matches(candidate string) bool {
	if k == nil || candidate == "" {
		return false
	}
	locked, err := k.enclave.Open()
	if err != nil {
		return false
	}
	defer locked.Destroy()
	return subtle.ConstantTimeCompare(locked.Bytes(), []byte(candidate)) == 1
}
