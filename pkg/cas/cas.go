// Package cas implements the content-addressed payload store (§4.4, §6).
// Objects are keyed by the sha256 of their bytes; references take the form
// "cas:sha256:<hex>".
package cas

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var (
	ErrCorruptedPayload = errors.New("cas: corrupted payload (hash mismatch)")
	ErrNotFound         = errors.New("cas: object not found")
	ErrInvalidRef       = errors.New("cas: invalid reference")
)

// Store is the CAS contract: Put is idempotent, Get never returns partial
// or mismatched bytes.
type Store interface {
	Put(ctx context.Context, payload []byte) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Has(ctx context.Context, ref string) (bool, error)
}

// RefFor builds the canonical reference string for a sha256 digest.
func RefFor(digest [32]byte) string {
	return "cas:sha256:" + hex.EncodeToString(digest[:])
}

// HexOf extracts the hex digest from a "cas:sha256:<hex>" reference.
func HexOf(ref string) (string, error) {
	const prefix = "cas:sha256:"
	if !strings.HasPrefix(ref, prefix) {
		return "", ErrInvalidRef
	}
	hexDigest := strings.TrimPrefix(ref, prefix)
	if len(hexDigest) != 64 {
		return "", ErrInvalidRef
	}
	if _, err := hex.DecodeString(hexDigest); err != nil {
		return "", ErrInvalidRef
	}
	return hexDigest, nil
}

// verify checks that b hashes to the digest encoded in ref.
func verify(ref string, b []byte) error {
	wantHex, err := HexOf(ref)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(b)
	if hex.EncodeToString(sum[:]) != wantHex {
		return fmt.Errorf("%w: ref=%s", ErrCorruptedPayload, ref)
	}
	return nil
}

// FilesystemStore stores objects under <root>/sha256/<hh>/<hh>/<hex> with a
// two-level fan-out, matching §6's on-disk layout. Writes are atomic via
// temp-file-then-rename so a crash never leaves a partially written object.
type FilesystemStore struct {
	root string
}

func NewFilesystemStore(root string) (*FilesystemStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("%w: root required", ErrInvalidRef)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FilesystemStore{root: root}, nil
}

// pathFor returns the fan-out path for a hex digest: <root>/sha256/<hh>/<hh>/<hex>
// where both fan-out segments are the same leading four hex chars split in
// two, per §6 ("hh are the first four hex chars of hex").
func (s *FilesystemStore) pathFor(hexDigest string) string {
	h1, h2 := hexDigest[0:2], hexDigest[2:4]
	return filepath.Join(s.root, "sha256", h1, h2, hexDigest)
}

func (s *FilesystemStore) Put(ctx context.Context, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	ref := RefFor(sum)
	hexDigest := hex.EncodeToString(sum[:])
	dst := s.pathFor(hexDigest)

	if _, err := os.Stat(dst); err == nil {
		return ref, nil // write-or-skip-if-present (§4.2 step 5)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return "", err
	}
	return ref, nil
}

func (s *FilesystemStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	hexDigest, err := HexOf(ref)
	if err != nil {
		return nil, err
	}
	path := s.pathFor(hexDigest)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	if err := verify(ref, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *FilesystemStore) Has(ctx context.Context, ref string) (bool, error) {
	hexDigest, err := HexOf(ref)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(s.pathFor(hexDigest)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
