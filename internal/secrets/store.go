// Package secrets stores credentials and rewrites them as symbolic
// references so literal values stay out of logs and transcripts.
package secrets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/zalando/go-keyring"
)

// Store is the pluggable secret backend.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Delete(key string) error
	List() ([]string, error)
	Has(key string) bool
}

const (
	keyringService = "botfleet"
	// indexKey tracks known key names; the OS keyring has no listing API.
	indexKey = "__botfleet_index__"
)

// KeyringStore keeps secrets in the OS keyring under a fixed service
// name.
type KeyringStore struct {
	mu      sync.Mutex
	service string
}

func NewKeyringStore() *KeyringStore {
	return &KeyringStore{service: keyringService}
}

func (k *KeyringStore) Get(key string) (string, error) {
	v, err := keyring.Get(k.service, key)
	if err == keyring.ErrNotFound {
		return "", fmt.Errorf("secret %q not found", key)
	}
	return v, err
}

func (k *KeyringStore) Set(key, value string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := keyring.Set(k.service, key, value); err != nil {
		return err
	}
	return k.addToIndex(key)
}

func (k *KeyringStore) Delete(key string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := keyring.Delete(k.service, key); err != nil {
		return err
	}
	return k.removeFromIndex(key)
}

func (k *KeyringStore) List() ([]string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.readIndex()
}

func (k *KeyringStore) Has(key string) bool {
	if key == indexKey {
		return false
	}
	_, err := keyring.Get(k.service, key)
	return err == nil
}

func (k *KeyringStore) readIndex() ([]string, error) {
	raw, err := keyring.Get(k.service, indexKey)
	if err == keyring.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	keys := strings.Split(raw, "\n")
	sort.Strings(keys)
	return keys, nil
}

func (k *KeyringStore) writeIndex(keys []string) error {
	if len(keys) == 0 {
		err := keyring.Delete(k.service, indexKey)
		if err == keyring.ErrNotFound {
			return nil
		}
		return err
	}
	return keyring.Set(k.service, indexKey, strings.Join(keys, "\n"))
}

func (k *KeyringStore) addToIndex(key string) error {
	keys, err := k.readIndex()
	if err != nil {
		return err
	}
	for _, existing := range keys {
		if existing == key {
			return nil
		}
	}
	return k.writeIndex(append(keys, key))
}

func (k *KeyringStore) removeFromIndex(key string) error {
	keys, err := k.readIndex()
	if err != nil {
		return err
	}
	out := keys[:0]
	for _, existing := range keys {
		if existing != key {
			out = append(out, existing)
		}
	}
	return k.writeIndex(out)
}

// FileStore is the fallback backend for hosts without a keyring
// daemon. The file is owner-readable only.
type FileStore struct {
	mu   sync.Mutex
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) load() (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := map[string]string{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse secrets file: %w", err)
	}
	return out, nil
}

func (f *FileStore) save(m map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) Get(key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return "", err
	}
	v, ok := m[key]
	if !ok {
		return "", fmt.Errorf("secret %q not found", key)
	}
	return v, nil
}

func (f *FileStore) Set(key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return err
	}
	m[key] = value
	return f.save(m)
}

func (f *FileStore) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := m[key]; !ok {
		return fmt.Errorf("secret %q not found", key)
	}
	delete(m, key)
	return f.save(m)
}

func (f *FileStore) List() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *FileStore) Has(key string) bool {
	v, err := f.Get(key)
	return err == nil && v != ""
}
