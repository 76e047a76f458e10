// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds sensitive material — bearer tokens, CSRF tokens,
// passwords, vault keys — in memory that the Go runtime cannot observe.
//
// Buffer allocates outside the Go heap with mmap(MAP_ANONYMOUS), pins the
// pages with mlock so they never reach swap, and marks them MADV_DONTDUMP
// so they never reach a core dump. Close zeroes the region before
// unmapping. The garbage collector never sees the allocation, so it can
// neither copy nor relocate the secret.
package secret

import (
	"crypto/subtle"
	"fmt"
	"os"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer is a fixed-size region of protected memory. It must not be
// copied after creation. Reads after Close panic — a secret that has
// been released must never silently read as zeroes.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	length int
	closed bool
}

// New allocates a protected buffer of the given size. The caller must
// Close it when the secret is no longer needed.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap: %w", err)
	}

	if err := unix.Mlock(data); err != nil {
		unix.Munmap(data)
		return nil, fmt.Errorf("secret: mlock: %w", err)
	}

	if err := unix.Madvise(data, unix.MADV_DONTDUMP); err != nil {
		unix.Munlock(data)
		unix.Munmap(data)
		return nil, fmt.Errorf("secret: madvise(MADV_DONTDUMP): %w", err)
	}

	return &Buffer{data: data, length: size}, nil
}

// NewFromBytes copies source into a new protected buffer and zeroes
// source in place, so the caller's slice no longer holds the secret.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: cannot create buffer from empty source")
	}

	buffer, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(buffer.data, source)

	for index := range source {
		source[index] = 0
	}
	return buffer, nil
}

// NewFromString copies a string into a new protected buffer. The
// original string stays on the heap until collected — unavoidable, Go
// strings are immutable — so prefer NewFromBytes where the caller
// controls the allocation. Used at API boundaries that hand us strings.
func NewFromString(source string) (*Buffer, error) {
	if source == "" {
		return nil, fmt.Errorf("secret: cannot create buffer from empty string")
	}
	return NewFromBytes([]byte(source))
}

// ReadFile reads an entire file into a protected buffer. The transient
// heap copy made by os.ReadFile is zeroed before returning. Used for
// key files and password files.
func ReadFile(path string) (*Buffer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secret: reading %s: %w", path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("secret: %s is empty", path)
	}
	return NewFromBytes(data)
}

// Bytes returns the secret. The slice aliases the mmap region — do not
// retain it past the Buffer's lifetime. Panics after Close.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		panic("secret: read from closed buffer")
	}
	return b.data[:b.length]
}

// String returns the secret as a heap string. Go strings cannot be
// zeroed, so call this only at boundaries that demand a string (HTTP
// headers, JSON bodies) where the copy is request-scoped. Panics after
// Close.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		panic("secret: read from closed buffer")
	}
	return string(b.data[:b.length])
}

// Len returns the secret's size in bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length
}

// Equal compares two buffers in constant time. A nil or closed buffer
// is never equal to anything.
func Equal(a, b *Buffer) bool {
	if a == nil || b == nil {
		return false
	}
	if a == b {
		a.mu.Lock()
		defer a.mu.Unlock()
		return !a.closed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	b.mu.Lock()
	defer b.mu.Unlock()
	if a.closed || b.closed {
		return false
	}
	return subtle.ConstantTimeCompare(a.data[:a.length], b.data[:b.length]) == 1
}

// Close zeroes the contents and releases the mapping. Idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for index := range b.data {
		b.data[index] = 0
	}

	var firstError error
	if err := unix.Munlock(b.data); err != nil {
		firstError = fmt.Errorf("secret: munlock: %w", err)
	}
	if err := unix.Munmap(b.data); err != nil && firstError == nil {
		firstError = fmt.Errorf("secret: munmap: %w", err)
	}
	b.data = nil
	return firstError
}
