// Package testsupport holds fakes shared by package tests.
package testsupport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/princekumarofficial/transcode-nexus/internal/storage"
)

type object struct {
	data    []byte
	modTime time.Time
}

// MemoryStore is an in-memory storage.ObjectStore.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string]object
	now     func() time.Time

	// Operation name ("put", "download", "list", "delete", "presign") to
	// error returned instead of performing it.
	Fail map[string]error
	// Puts counts successful Put calls.
	Puts int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]object),
		now:     time.Now,
		Fail:    make(map[string]error),
	}
}

// SetClock overrides the clock used to stamp new objects.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// PutAt stores an object with an explicit modification time.
func (m *MemoryStore) PutAt(ns storage.Namespace, name string, data []byte, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[ns.Key(name)] = object{data: data, modTime: modTime}
}

// Has reports whether the object exists.
func (m *MemoryStore) Has(ns storage.Namespace, name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[ns.Key(name)]
	return ok
}

// Data returns a copy of the stored bytes.
func (m *MemoryStore) Data(ns storage.Namespace, name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[ns.Key(name)]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), obj.data...), true
}

// Names lists the object names inside ns in sorted order.
func (m *MemoryStore) Names(ns storage.Namespace) []string {
	objs, _ := m.List(context.Background(), ns)
	names := make([]string, 0, len(objs))
	for _, o := range objs {
		names = append(names, o.Name)
	}
	return names
}

func (m *MemoryStore) failure(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Fail[op]
}

func (m *MemoryStore) Put(_ context.Context, ns storage.Namespace, name string, r io.Reader, _ int64, _ string) error {
	if err := m.failure("put"); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[ns.Key(name)] = object{data: data, modTime: m.now()}
	m.Puts++
	return nil
}

func (m *MemoryStore) Download(_ context.Context, ns storage.Namespace, name, localPath string) error {
	if err := m.failure("download"); err != nil {
		return err
	}
	data, ok := m.Data(ns, name)
	if !ok {
		return fmt.Errorf("%s: %w", ns.Key(name), storage.ErrNotFound)
	}

	f, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := io.Copy(f, bytes.NewReader(data)); err != nil {
		return err
	}
	return f.Close()
}

func (m *MemoryStore) List(_ context.Context, ns storage.Namespace) ([]storage.ObjectInfo, error) {
	if err := m.failure("list"); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []storage.ObjectInfo
	prefix := ns.Prefix()
	for key, obj := range m.objects {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, storage.ObjectInfo{
				Name:    key[len(prefix):],
				Size:    int64(len(obj.data)),
				ModTime: obj.modTime,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, ns storage.Namespace, name string) error {
	if err := m.failure("delete"); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, ns.Key(name))
	return nil
}

func (m *MemoryStore) PresignedGetURL(_ context.Context, ns storage.Namespace, name string, ttl time.Duration) (string, error) {
	if err := m.failure("presign"); err != nil {
		return "", err
	}
	if !m.Has(ns, name) {
		return "", fmt.Errorf("%s: %w", ns.Key(name), storage.ErrNotFound)
	}

	q := url.Values{}
	q.Set("X-Amz-Expires", strconv.Itoa(int(ttl.Seconds())))
	return "https://objects.test/bucket/" + ns.Key(name) + "?" + q.Encode(), nil
}
