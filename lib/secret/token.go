// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Token is a fixed-size secret held in mmap-backed memory. A Token
// must not be copied after creation.
type Token struct {
	mu     sync.Mutex
	data   []byte
	locked bool
	closed bool
}

// NewToken copies source into protected memory and zeroes source in
// place, so the caller's slice no longer holds the secret.
func NewToken(source []byte) (*Token, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: empty token")
	}

	data, err := unix.Mmap(-1, 0, len(source), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap failed: %w", err)
	}

	token := &Token{data: data}
	if err := unix.Mlock(data); err == nil {
		token.locked = true
	}
	// Older kernels reject MADV_DONTDUMP; the token is still off-heap.
	_ = unix.Madvise(data, unix.MADV_DONTDUMP)

	copy(token.data, source)
	clear(source)
	return token, nil
}

// NewTokenFromString is NewToken for values that arrive as strings
// (JSON session files, environment variables). The string itself stays
// on the heap until collected.
func NewTokenFromString(value string) (*Token, error) {
	return NewToken([]byte(value))
}

// String returns a heap copy of the token for use at API boundaries
// (the Authorization header). Panics after Close.
func (t *Token) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		panic("secret: read from closed token")
	}
	return string(t.data)
}

// Len returns the token length in bytes.
func (t *Token) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.data)
}

// Locked reports whether the memory is locked against swap.
func (t *Token) Locked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.locked
}

// Close zeroes and releases the memory. Idempotent.
func (t *Token) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	clear(t.data)

	var firstError error
	if t.locked {
		if err := unix.Munlock(t.data); err != nil {
			firstError = fmt.Errorf("secret: munlock failed: %w", err)
		}
	}
	if err := unix.Munmap(t.data); err != nil && firstError == nil {
		firstError = fmt.Errorf("secret: munmap failed: %w", err)
	}
	t.data = nil
	return firstError
}
