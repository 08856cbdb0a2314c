package infra

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pingcap/errors"

	"github.com/Tsinling0525/rivulet-gen/model"
	"github.com/Tsinling0525/rivulet-gen/plugin"
)

// ErrFileNotFound is returned by FileStore lookups of unknown files.
var ErrFileNotFound = errors.New("file not found")

// LocalFiles stores job results on the local filesystem under <root>/files/<jobID>.
type LocalFiles struct {
	root string
}

// NewLocalFiles returns a new LocalFiles store rooted at root, or at
// DataDir() when root is empty.
func NewLocalFiles(root string) *LocalFiles {
	if root == "" {
		root = DataDir()
	}
	return &LocalFiles{root: root}
}

func (l *LocalFiles) Put(ctx context.Context, jobID, filename string, contents []byte, mediaType string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	dir, err := FilesDir(l.root, jobID)
	if err != nil {
		return "", err
	}
	if err := ensureDir(dir); err != nil {
		return "", errors.Trace(err)
	}
	id := "f_" + uuid.NewString()
	dataPath := filepath.Join(dir, id)
	if err := os.WriteFile(dataPath, contents, 0o644); err != nil {
		return "", errors.Trace(err)
	}
	meta := model.FileMeta{ID: id, Name: filename, Size: int64(len(contents)), MediaType: mediaType, CreatedAt: time.Now().UTC()}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return "", errors.Trace(err)
	}
	if err := os.WriteFile(dataPath+".json", metaBytes, 0o644); err != nil {
		return "", errors.Trace(err)
	}
	return id, nil
}

func (l *LocalFiles) Get(ctx context.Context, jobID, fileID string) (model.FileMeta, []byte, error) {
	select {
	case <-ctx.Done():
		return model.FileMeta{}, nil, ctx.Err()
	default:
	}
	dir, err := FilesDir(l.root, jobID)
	if err != nil {
		return model.FileMeta{}, nil, err
	}
	if err := checkName(fileID); err != nil {
		return model.FileMeta{}, nil, err
	}
	metaBytes, err := os.ReadFile(filepath.Join(dir, fileID+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return model.FileMeta{}, nil, errors.Annotatef(ErrFileNotFound, "%s/%s", jobID, fileID)
		}
		return model.FileMeta{}, nil, errors.Trace(err)
	}
	var meta model.FileMeta
	if err := json.Unmarshal(metaBytes, &meta); err != nil {
		return model.FileMeta{}, nil, errors.Trace(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, fileID))
	if err != nil {
		return model.FileMeta{}, nil, errors.Trace(err)
	}
	return meta, data, nil
}

func (l *LocalFiles) List(ctx context.Context, jobID string) ([]model.FileMeta, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	dir, err := FilesDir(l.root, jobID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Trace(err)
	}
	metas := []model.FileMeta{}
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			continue
		}
		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, errors.Trace(err)
		}
		var m model.FileMeta
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, errors.Trace(err)
		}
		metas = append(metas, m)
	}
	return metas, nil
}

func (l *LocalFiles) Delete(ctx context.Context, jobID, fileID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	dir, err := FilesDir(l.root, jobID)
	if err != nil {
		return err
	}
	if err := checkName(fileID); err != nil {
		return err
	}
	_ = os.Remove(filepath.Join(dir, fileID))
	_ = os.Remove(filepath.Join(dir, fileID+".json"))
	return nil
}

var _ plugin.FileStore = (*LocalFiles)(nil)
