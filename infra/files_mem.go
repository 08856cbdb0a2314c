package infra

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pingcap/errors"

	"github.com/Tsinling0525/rivulet-gen/model"
	"github.com/Tsinling0525/rivulet-gen/plugin"
)

// MemFiles is an in-memory FileStore implementation
type MemFiles struct {
	mu   sync.RWMutex
	data map[string]map[string]memFile // jobID -> fileID -> file
}

type memFile struct {
	name      string
	mediaType string
	content   []byte
	createdAt time.Time
}

func NewMemFiles() *MemFiles { return &MemFiles{data: make(map[string]map[string]memFile)} }

func (m *MemFiles) Put(ctx context.Context, jobID string, filename string, contents []byte, mediaType string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.data[jobID]; !ok {
		m.data[jobID] = make(map[string]memFile)
	}
	id := "f_" + uuid.NewString()
	m.data[jobID][id] = memFile{name: filename, mediaType: mediaType, content: append([]byte(nil), contents...), createdAt: time.Now().UTC()}
	return id, nil
}

func (m *MemFiles) Get(ctx context.Context, jobID string, fileID string) (model.FileMeta, []byte, error) {
	select {
	case <-ctx.Done():
		return model.FileMeta{}, nil, ctx.Err()
	default:
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if files, ok := m.data[jobID]; ok {
		if f, ok := files[fileID]; ok {
			return f.meta(fileID), append([]byte(nil), f.content...), nil
		}
	}
	return model.FileMeta{}, nil, errors.Annotatef(ErrFileNotFound, "%s/%s", jobID, fileID)
}

func (m *MemFiles) List(ctx context.Context, jobID string) ([]model.FileMeta, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.FileMeta
	for id, f := range m.data[jobID] {
		out = append(out, f.meta(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemFiles) Delete(ctx context.Context, jobID string, fileID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if files, ok := m.data[jobID]; ok {
		delete(files, fileID)
	}
	return nil
}

func (f memFile) meta(id string) model.FileMeta {
	return model.FileMeta{ID: id, Name: f.name, Size: int64(len(f.content)), MediaType: f.mediaType, CreatedAt: f.createdAt}
}

var _ plugin.FileStore = (*MemFiles)(nil)
