// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

// Package vault is the encrypted-at-rest credential store for the
// session core. It holds the session's secret tokens (bearer and CSRF)
// as opaque byte records; it never interprets them.
//
// Layout: a vault is a directory containing a 32-byte device master key
// (device.key, mode 0600) and one file per record. Record filenames are
// BLAKE3 keyed hashes of the logical key, so a directory listing reveals
// nothing about which credentials exist. Record payloads are
// deterministic CBOR encrypted with XChaCha20-Poly1305 under a
// per-record key derived from the master key with HKDF-SHA256.
//
// The vault has no retry logic. Callers decide whether a failure is
// fatal; the orchestrator treats a missing token as "signed out" and a
// backing-store failure as an error to surface.
package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/lagoon-social/lagoon-go/lib/codec"
	"github.com/lagoon-social/lagoon-go/lib/secret"
)

// masterKeySize is the size of the device master key. Every derived
// key is also 32 bytes (XChaCha20-Poly1305 key size).
const masterKeySize = 32

// recordVersion is prepended to every encrypted record and bound as
// additional authenticated data, so a downgraded or corrupted version
// byte fails authentication instead of being misparsed.
const recordVersion byte = 0x01

// masterKeyFile is the device master key filename inside the vault
// directory. ClearAll leaves it in place — destroying it would orphan
// any escrow bundles exported from this device.
const masterKeyFile = "device.key"

// Domain separation strings for key derivation and filename obscuring.
// Changing either invalidates every existing vault.
var (
	hkdfInfoRecord  = []byte("lagoon.vault.rec.v1")
	referenceDomain = []byte("lagoon.vault.ref.v1")
)

// Sentinel failure modes. Callers classify with errors.Is; the wrapped
// error carries the cause.
var (
	// ErrEncoding covers serialization and cipher failures: a record
	// that cannot be encoded, decoded, or authenticated.
	ErrEncoding = errors.New("vault: encoding failure")

	// ErrBackingStore covers filesystem failures: the vault directory
	// or a record file cannot be read or written.
	ErrBackingStore = errors.New("vault: backing store unavailable")
)

// record is the plaintext payload of one vault entry. The logical key
// travels inside the ciphertext so Get can verify it decrypted the
// record it asked for, and so escrow bundles carry key names.
type record struct {
	Key   string `cbor:"key"`
	Value []byte `cbor:"value"`
}

// Options configures Open. All fields are optional.
type Options struct {
	// Logger receives operational messages. If nil, slog.Default()
	// is used. Record keys are logged; record values never are.
	Logger *slog.Logger
}

// Vault is an open credential vault. Safe for concurrent use: records
// are independent files and the master key is read-only after Open.
type Vault struct {
	dir    string
	master *secret.Buffer
	logger *slog.Logger
}

// Open loads the vault in dir, creating the directory and the device
// master key on first use. The caller must Close the vault when done.
func Open(dir string, opts Options) (*Vault, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("vault: creating %s: %w: %w", dir, ErrBackingStore, err)
	}

	master, created, err := loadOrCreateMasterKey(filepath.Join(dir, masterKeyFile))
	if err != nil {
		return nil, err
	}
	if created {
		logger.Info("vault initialized", "dir", dir)
	}

	return &Vault{dir: dir, master: master, logger: logger}, nil
}

func loadOrCreateMasterKey(path string) (*secret.Buffer, bool, error) {
	if _, err := os.Stat(path); err == nil {
		master, err := secret.ReadFile(path)
		if err != nil {
			return nil, false, fmt.Errorf("vault: loading master key: %w: %w", ErrBackingStore, err)
		}
		if master.Len() != masterKeySize {
			master.Close()
			return nil, false, fmt.Errorf("vault: master key is %d bytes, want %d: %w", master.Len(), masterKeySize, ErrEncoding)
		}
		return master, false, nil
	} else if !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("vault: probing master key: %w: %w", ErrBackingStore, err)
	}

	raw := make([]byte, masterKeySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, false, fmt.Errorf("vault: generating master key: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return nil, false, fmt.Errorf("vault: writing master key: %w: %w", ErrBackingStore, err)
	}
	master, err := secret.NewFromBytes(raw)
	if err != nil {
		return nil, false, fmt.Errorf("vault: protecting master key: %w", err)
	}
	return master, true, nil
}

// Put stores value under key, overwriting any existing record. The
// value is copied; the caller retains ownership of the slice.
func (v *Vault) Put(key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("vault: key is required: %w", ErrEncoding)
	}

	payload, err := codec.Marshal(record{Key: key, Value: value})
	if err != nil {
		return fmt.Errorf("vault: encoding record %q: %w: %w", key, ErrEncoding, err)
	}

	name := v.recordName(key)
	blob, err := v.seal(payload, name)
	if err != nil {
		return fmt.Errorf("vault: sealing record %q: %w: %w", key, ErrEncoding, err)
	}

	if err := os.WriteFile(filepath.Join(v.dir, name), blob, 0o600); err != nil {
		return fmt.Errorf("vault: writing record %q: %w: %w", key, ErrBackingStore, err)
	}
	return nil
}

// Get retrieves the record stored under key. The second return value
// reports whether the record exists; absence is not an error. The
// returned buffer is owned by the caller and must be closed.
func (v *Vault) Get(key string) (*secret.Buffer, bool, error) {
	name := v.recordName(key)
	blob, err := os.ReadFile(filepath.Join(v.dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("vault: reading record %q: %w: %w", key, ErrBackingStore, err)
	}

	decoded, err := v.openRecord(blob, name)
	if err != nil {
		return nil, false, fmt.Errorf("vault: record %q: %w", key, err)
	}
	if decoded.Key != key {
		zero(decoded.Value)
		return nil, false, fmt.Errorf("vault: record key mismatch (got %q, want %q): %w", decoded.Key, key, ErrEncoding)
	}
	if len(decoded.Value) == 0 {
		return nil, false, fmt.Errorf("vault: record %q is empty: %w", key, ErrEncoding)
	}

	// NewFromBytes zeroes the heap copy of the plaintext.
	buffer, err := secret.NewFromBytes(decoded.Value)
	if err != nil {
		zero(decoded.Value)
		return nil, false, fmt.Errorf("vault: protecting record %q: %w", key, err)
	}
	return buffer, true, nil
}

// Delete removes the record stored under key. Deleting an absent
// record is a no-op.
func (v *Vault) Delete(key string) error {
	err := os.Remove(filepath.Join(v.dir, v.recordName(key)))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("vault: deleting record %q: %w: %w", key, ErrBackingStore, err)
	}
	return nil
}

// ClearAll removes every record but keeps the device master key, so
// previously exported escrow bundles stay importable on this device.
func (v *Vault) ClearAll() error {
	entries, err := os.ReadDir(v.dir)
	if err != nil {
		return fmt.Errorf("vault: listing records: %w: %w", ErrBackingStore, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == masterKeyFile {
			continue
		}
		if err := os.Remove(filepath.Join(v.dir, entry.Name())); err != nil {
			return fmt.Errorf("vault: clearing records: %w: %w", ErrBackingStore, err)
		}
	}
	v.logger.Info("vault cleared", "dir", v.dir)
	return nil
}

// Close releases the master key memory. The vault must not be used
// after Close.
func (v *Vault) Close() error {
	return v.master.Close()
}

// recordName computes the obscured filename for a logical key: the hex
// of a BLAKE3 keyed hash over the domain tag and the key. Deterministic
// per vault, opaque without the master key.
func (v *Vault) recordName(key string) string {
	hasher, err := blake3.NewKeyed(v.master.Bytes())
	if err != nil {
		// The master key is validated to 32 bytes in Open; NewKeyed
		// only fails on a wrong key size.
		panic("vault: keyed hasher: " + err.Error())
	}
	hasher.Write(referenceDomain)
	hasher.Write([]byte(key))
	return hex.EncodeToString(hasher.Sum(nil))
}

// seal encrypts payload with XChaCha20-Poly1305 under a key derived
// for this record name. Output layout:
//
//	[version: 1 byte] [nonce: 24 bytes] [ciphertext+tag]
//
// The version byte and record name are bound as AAD, so a record file
// renamed to another slot fails authentication.
func (v *Vault) seal(payload []byte, name string) ([]byte, error) {
	key, err := v.deriveRecordKey(name)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}

	var nonce [chacha20poly1305.NonceSizeX]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	output := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(payload)+aead.Overhead())
	output[0] = recordVersion
	copy(output[1:], nonce[:])
	return aead.Seal(output, nonce[:], payload, buildAAD(name)), nil
}

// openRecord decrypts and decodes a record blob produced by seal.
func (v *Vault) openRecord(blob []byte, name string) (record, error) {
	minimum := 1 + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
	if len(blob) < minimum {
		return record{}, fmt.Errorf("blob too short (%d bytes): %w", len(blob), ErrEncoding)
	}
	if blob[0] != recordVersion {
		return record{}, fmt.Errorf("unsupported record version 0x%02x: %w", blob[0], ErrEncoding)
	}

	key, err := v.deriveRecordKey(name)
	if err != nil {
		return record{}, err
	}
	defer key.Close()

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return record{}, fmt.Errorf("creating cipher: %w", err)
	}

	nonce := blob[1 : 1+chacha20poly1305.NonceSizeX]
	plaintext, err := aead.Open(nil, nonce, blob[1+chacha20poly1305.NonceSizeX:], buildAAD(name))
	if err != nil {
		return record{}, fmt.Errorf("authentication failed: %w", ErrEncoding)
	}

	var decoded record
	if err := codec.Unmarshal(plaintext, &decoded); err != nil {
		zero(plaintext)
		return record{}, fmt.Errorf("decoding record: %w: %w", ErrEncoding, err)
	}
	zero(plaintext)
	return decoded, nil
}

// deriveRecordKey derives the per-record encryption key from the
// master key and the obscured record name via HKDF-SHA256.
func (v *Vault) deriveRecordKey(name string) (*secret.Buffer, error) {
	info := make([]byte, 0, len(hkdfInfoRecord)+len(name))
	info = append(info, hkdfInfoRecord...)
	info = append(info, name...)

	key, err := secret.New(masterKeySize)
	if err != nil {
		return nil, fmt.Errorf("allocating record key: %w", err)
	}
	reader := hkdf.New(sha256.New, v.master.Bytes(), nil, info)
	if _, err := io.ReadFull(reader, key.Bytes()); err != nil {
		key.Close()
		return nil, fmt.Errorf("deriving record key: %w", err)
	}
	return key, nil
}

func buildAAD(name string) []byte {
	aad := make([]byte, 0, 1+len(name))
	aad = append(aad, recordVersion)
	aad = append(aad, name...)
	return aad
}

func zero(data []byte) {
	for index := range data {
		data[index] = 0
	}
}
