package infra

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pingcap/errors"
)

// DataDir returns the base directory to persist data. Defaults to ./data
func DataDir() string {
	if v := os.Getenv("RIVGEN_STORAGE_DIR"); v != "" {
		return v
	}
	return "data"
}

func ensureDir(path string) error { return os.MkdirAll(path, 0o755) }

// FilesDir returns the directory holding a job's files under root.
func FilesDir(root, jobID string) (string, error) {
	if err := checkName(jobID); err != nil {
		return "", err
	}
	return filepath.Join(root, "files", jobID), nil
}

// ErrInvalidTemplate is returned for template names outside the templates directory.
var ErrInvalidTemplate = errors.New("template must be a relative path inside the templates directory")

// TemplatePath resolves a caller-supplied template name under dir.
// Absolute names and names with ".." segments are rejected.
func TemplatePath(dir, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || !filepath.IsLocal(name) {
		return "", errors.Annotatef(ErrInvalidTemplate, "%q", name)
	}
	for _, seg := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return "", errors.Annotatef(ErrInvalidTemplate, "%q", name)
		}
	}
	return filepath.Join(dir, filepath.Clean(name)), nil
}

// checkName rejects ids that would escape their directory.
func checkName(s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return errors.Errorf("invalid id %q", s)
	}
	return nil
}
