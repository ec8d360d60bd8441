package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cuongbtq/invoice-service/internal/domain"
)

// LocalStore keeps artifacts as files in one directory. The ref is the file name.
type LocalStore struct {
	dir    string
	logger *slog.Logger
}

// NewLocalStore creates dir if needed
func NewLocalStore(dir string, logger *slog.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &LocalStore{dir: dir, logger: logger}, nil
}

// Put writes data to a temp file and renames it into place
func (s *LocalStore) Put(ctx context.Context, name string, data []byte, _ string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".tmp-"+name+"-*")
	if err != nil {
		return "", fmt.Errorf("failed to create artifact file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("failed to store artifact: %w", err)
	}

	s.logger.Debug("Artifact stored",
		slog.String("ref", name),
		slog.Int("size", len(data)),
	)
	return name, nil
}

// Get reads the artifact for ref
func (s *LocalStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := validateName(ref); err != nil {
		return nil, domain.ErrArtifactNotFound
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(s.dir, ref))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrArtifactNotFound
		}
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}
