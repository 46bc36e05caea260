package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
)

const memoryRefScheme = "mem://"

// MemoryStorage 进程内文件存储,用于开发环境与测试
type MemoryStorage struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemoryStorage 创建内存文件存储
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{files: make(map[string][]byte)}
}

// Put 保存文件,实际读取的字节数必须与 size 一致
func (s *MemoryStorage) Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, body)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if size >= 0 && n != size {
		return "", fmt.Errorf("file size mismatch: declared %d, read %d", size, n)
	}

	ref := memoryRefScheme + key
	s.mu.Lock()
	s.files[ref] = buf.Bytes()
	s.mu.Unlock()
	return ref, nil
}

// Delete 删除文件
func (s *MemoryStorage) Delete(ctx context.Context, ref string) error {
	s.mu.Lock()
	delete(s.files, ref)
	s.mu.Unlock()
	return nil
}

// Get 读取文件内容
func (s *MemoryStorage) Get(ref string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.files[ref]
	return b, ok
}
