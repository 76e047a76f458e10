// Copyright 2026 The Lagoon Authors
// SPDX-License-Identifier: Apache-2.0

package vault

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"filippo.io/age"

	"github.com/lagoon-social/lagoon-go/lib/codec"
	"github.com/lagoon-social/lagoon-go/lib/secret"
)

// escrowBundle is the plaintext of an exported vault: every record,
// with its logical key, under a format version for forward
// compatibility.
type escrowBundle struct {
	Version int      `cbor:"version"`
	Records []record `cbor:"records"`
}

const escrowBundleVersion = 1

// Export encrypts every record in the vault to the given age X25519
// recipient public keys (age1... format) and returns the bundle as a
// base64 string. Intended for operator escrow: a device migration or a
// support flow can re-import the bundle with the matching identity.
//
// At least one recipient is required.
func (v *Vault) Export(recipientKeys []string) (string, error) {
	if len(recipientKeys) == 0 {
		return "", fmt.Errorf("vault: at least one escrow recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return "", fmt.Errorf("vault: parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	records, err := v.allRecords()
	if err != nil {
		return "", err
	}
	defer func() {
		for _, r := range records {
			zero(r.Value)
		}
	}()

	plaintext, err := codec.Marshal(escrowBundle{Version: escrowBundleVersion, Records: records})
	if err != nil {
		return "", fmt.Errorf("vault: encoding escrow bundle: %w: %w", ErrEncoding, err)
	}
	defer zero(plaintext)

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return "", fmt.Errorf("vault: creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return "", fmt.Errorf("vault: encrypting escrow bundle: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("vault: finalizing escrow bundle: %w", err)
	}

	v.logger.Info("vault exported for escrow", "records", len(records), "recipients", len(recipientKeys))
	return base64.StdEncoding.EncodeToString(ciphertext.Bytes()), nil
}

// Import decrypts a bundle produced by Export using the age identity
// held in identityKey (AGE-SECRET-KEY-1... format) and writes every
// record into this vault, overwriting records with the same keys.
//
// The identityKey is borrowed and NOT closed.
func (v *Vault) Import(bundle string, identityKey *secret.Buffer) error {
	identity, err := age.ParseX25519Identity(identityKey.String())
	if err != nil {
		return fmt.Errorf("vault: parsing escrow identity: %w", err)
	}

	raw, err := base64.StdEncoding.DecodeString(bundle)
	if err != nil {
		return fmt.Errorf("vault: decoding escrow bundle: %w: %w", ErrEncoding, err)
	}

	reader, err := age.Decrypt(bytes.NewReader(raw), identity)
	if err != nil {
		return fmt.Errorf("vault: decrypting escrow bundle: %w", err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("vault: reading escrow bundle: %w", err)
	}
	defer zero(plaintext)

	var decoded escrowBundle
	if err := codec.Unmarshal(plaintext, &decoded); err != nil {
		return fmt.Errorf("vault: decoding escrow bundle: %w: %w", ErrEncoding, err)
	}
	if decoded.Version != escrowBundleVersion {
		return fmt.Errorf("vault: unsupported escrow bundle version %d: %w", decoded.Version, ErrEncoding)
	}

	for _, r := range decoded.Records {
		if err := v.Put(r.Key, r.Value); err != nil {
			return err
		}
		zero(r.Value)
	}

	v.logger.Info("vault escrow bundle imported", "records", len(decoded.Records))
	return nil
}

// allRecords decrypts every record in the vault. Record filenames are
// self-describing enough to decrypt (the per-record key derives from
// the obscured name, and the logical key travels in the payload).
func (v *Vault) allRecords() ([]record, error) {
	entries, err := os.ReadDir(v.dir)
	if err != nil {
		return nil, fmt.Errorf("vault: listing records: %w: %w", ErrBackingStore, err)
	}

	var records []record
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == masterKeyFile {
			continue
		}
		blob, err := os.ReadFile(filepath.Join(v.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("vault: reading record file %s: %w: %w", entry.Name(), ErrBackingStore, err)
		}
		decoded, err := v.openRecord(blob, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("vault: record file %s: %w", entry.Name(), err)
		}
		records = append(records, decoded)
	}
	return records, nil
}
