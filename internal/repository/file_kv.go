package repository

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// An encrypted store file is sealedMagic, a random salt, then the
// XChaCha20-Poly1305 nonce and ciphertext. The key is Argon2id(passphrase, salt).
var (
	sealedMagic = []byte("EXSP2")
	legacyMagic = []byte("EXSP1")
)

const (
	saltSize     = 16
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// fileDocument is the on-disk layout. Values must be JSON.
type fileDocument struct {
	Version int                        `json:"version"`
	Entries map[string]json.RawMessage `json:"entries"`
}

// FileKV keeps all records in one JSON document. Every mutation rewrites
// the document through a temp file and rename, so readers never observe
// a partial write. Concurrent processes sharing a file are unsupported.
type FileKV struct {
	path       string
	passphrase []byte // nil when unencrypted

	mu sync.Mutex
	// salt and key cache the derivation for the salt of the current file.
	salt []byte
	key  []byte
}

// NewFileKV creates a FileKV at path. A non-empty passphrase enables
// XChaCha20-Poly1305 encryption with an Argon2id key and a per-file salt.
func NewFileKV(path, passphrase string) (*FileKV, error) {
	f := &FileKV{path: path}
	if passphrase != "" {
		f.passphrase = []byte(passphrase)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return f, nil
}

func (f *FileKV) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return nil, err
	}
	v, ok := doc.Entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (f *FileKV) Set(_ context.Context, key string, value []byte) error {
	if !json.Valid(value) {
		return fmt.Errorf("file store value for %s is not JSON", key)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	doc.Entries[key] = append(json.RawMessage(nil), value...)
	return f.write(doc)
}

func (f *FileKV) Delete(_ context.Context, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	doc, err := f.read()
	if err != nil {
		return err
	}
	changed := false
	for _, k := range keys {
		if _, ok := doc.Entries[k]; ok {
			delete(doc.Entries, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return f.write(doc)
}

func (f *FileKV) read() (*fileDocument, error) {
	doc := &fileDocument{Version: 1, Entries: map[string]json.RawMessage{}}

	raw, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store: %w", err)
	}
	if len(raw) == 0 {
		return doc, nil
	}

	switch {
	case bytes.HasPrefix(raw, sealedMagic):
		if f.passphrase == nil {
			return nil, errors.New("store is encrypted but no PORTAL_STORE_KEY is set")
		}
		if raw, err = f.open(raw); err != nil {
			return nil, err
		}
	case bytes.HasPrefix(raw, legacyMagic):
		return nil, fmt.Errorf("store %s uses an unsupported encryption format; remove it and log in again", f.path)
	}

	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("decode store: %w", err)
	}
	if doc.Entries == nil {
		doc.Entries = map[string]json.RawMessage{}
	}
	return doc, nil
}

func (f *FileKV) write(doc *fileDocument) error {
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	if f.passphrase != nil {
		if raw, err = f.seal(raw); err != nil {
			return err
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp store: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp store: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace store: %w", err)
	}
	return nil
}

// deriveKey returns the key for salt, reusing the cached one when the
// salt is unchanged.
func (f *FileKV) deriveKey(salt []byte) []byte {
	if f.key != nil && bytes.Equal(f.salt, salt) {
		return f.key
	}
	f.salt = append([]byte(nil), salt...)
	f.key = argon2.IDKey(f.passphrase, f.salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	return f.key
}

func (f *FileKV) seal(plain []byte) ([]byte, error) {
	salt := f.salt
	if salt == nil {
		salt = make([]byte, saltSize)
		if _, err := rand.Read(salt); err != nil {
			return nil, fmt.Errorf("generate salt: %w", err)
		}
	}
	aead, err := chacha20poly1305.NewX(f.deriveKey(salt))
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	header := make([]byte, 0, len(sealedMagic)+saltSize)
	header = append(append(header, sealedMagic...), salt...)
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, len(header)+len(nonce)+len(plain)+aead.Overhead())
	out = append(append(out, header...), nonce...)
	return aead.Seal(out, nonce, plain, header), nil
}

func (f *FileKV) open(raw []byte) ([]byte, error) {
	headerLen := len(sealedMagic) + saltSize
	if len(raw) < headerLen+chacha20poly1305.NonceSizeX {
		return nil, errors.New("store file is truncated")
	}
	header := raw[:headerLen]
	aead, err := chacha20poly1305.NewX(f.deriveKey(header[len(sealedMagic):]))
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	nonce := raw[headerLen : headerLen+aead.NonceSize()]
	ciphertext := raw[headerLen+aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, header)
	if err != nil {
		return nil, fmt.Errorf("decrypt store (wrong PORTAL_STORE_KEY?): %w", err)
	}
	return plain, nil
}
