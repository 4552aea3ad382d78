package storage

import (
	"context"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process store for development and tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	contentType string
	content     []byte
}

func NewMemory() *Memory {
	return &Memory{objects: map[string]memoryObject{}}
}

func (m *Memory) Put(_ context.Context, key, contentType string, content []byte) (Object, error) {
	if strings.TrimSpace(key) == "" {
		return Object{}, ErrInvalidKey
	}
	copied := make([]byte, len(content))
	copy(copied, content)

	m.mu.Lock()
	m.objects[key] = memoryObject{contentType: contentType, content: copied}
	m.mu.Unlock()

	return Object{Key: key, ContentType: contentType, Size: int64(len(content))}, nil
}

func (m *Memory) PresignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	m.mu.RLock()
	_, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return "", ErrNotFound
	}
	expires := time.Now().Add(ttl).Unix()
	return "memory://" + (&url.URL{Path: key}).EscapedPath() + "?expires=" + strconv.FormatInt(expires, 10), nil
}

// Get returns a stored object.
func (m *Memory) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	return obj.content, ok
}
