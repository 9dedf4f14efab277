package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/skeenode/predictd/pkg/errors"
)

// Config contains configuration for filesystem artifact storage.
type Config struct {
	BasePath   string `json:"base_path" yaml:"base_path"`
	CreateDirs bool   `json:"create_dirs" yaml:"create_dirs"`
}

// ArtifactStore keeps model artifacts as one file per version under a base
// directory. Writes go through a temp file and rename so a crashed write
// never leaves a truncated artifact behind.
type ArtifactStore struct {
	config    *Config
	logger    *logrus.Logger
	connected bool
}

// NewArtifactStore creates a new filesystem artifact store.
func NewArtifactStore(config *Config, logger *logrus.Logger) (*ArtifactStore, error) {
	if config == nil {
		return nil, errors.NewValidationError("INVALID_CONFIG", "file store config cannot be nil")
	}
	if config.BasePath == "" {
		return nil, errors.NewValidationError("INVALID_CONFIG", "BasePath is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &ArtifactStore{
		config: config,
		logger: logger,
	}, nil
}

// Connect verifies the base directory exists and is writable.
func (fs *ArtifactStore) Connect(ctx context.Context) error {
	if fs.connected {
		return nil
	}

	if fs.config.CreateDirs {
		if err := os.MkdirAll(fs.config.BasePath, 0o755); err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, "DIRECTORY_CREATION_FAILED",
				fmt.Sprintf("failed to create directory: %s", fs.config.BasePath))
		}
	}

	if _, err := os.Stat(fs.config.BasePath); os.IsNotExist(err) {
		return errors.NewStorageError("PATH_NOT_FOUND", fmt.Sprintf("base path does not exist: %s", fs.config.BasePath))
	}

	testFile := filepath.Join(fs.config.BasePath, ".write_test")
	f, err := os.Create(testFile)
	if err != nil {
		return errors.NewStorageError("PERMISSION_DENIED", fmt.Sprintf("cannot write to directory: %s", fs.config.BasePath))
	}
	f.Close()
	os.Remove(testFile)

	fs.connected = true
	fs.logger.WithField("base_path", fs.config.BasePath).Info("File artifact store connected")
	return nil
}

// Close is a no-op for the filesystem backend.
func (fs *ArtifactStore) Close() error {
	fs.connected = false
	return nil
}

// Ping verifies the base directory is still present.
func (fs *ArtifactStore) Ping(ctx context.Context) error {
	if _, err := os.Stat(fs.config.BasePath); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, "PING_FAILED", "artifact directory unavailable")
	}
	return nil
}

// PutArtifact durably writes an artifact blob.
func (fs *ArtifactStore) PutArtifact(ctx context.Context, versionID string, data []byte) error {
	target := fs.artifactPath(versionID)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
			fmt.Sprintf("failed to write artifact %s", versionID))
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
			fmt.Sprintf("failed to finalize artifact %s", versionID))
	}

	fs.logger.WithFields(logrus.Fields{
		"version_id": versionID,
		"bytes":      len(data),
	}).Debug("Artifact written")
	return nil
}

// GetArtifact reads an artifact blob.
func (fs *ArtifactStore) GetArtifact(ctx context.Context, versionID string) ([]byte, error) {
	data, err := os.ReadFile(fs.artifactPath(versionID))
	if os.IsNotExist(err) {
		return nil, errors.WrapError(errors.ErrArtifactNotFound, errors.ErrorTypeStorage, errors.CodeReadFailed,
			fmt.Sprintf("artifact %s not found", versionID))
	}
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed,
			fmt.Sprintf("failed to read artifact %s", versionID))
	}
	return data, nil
}

// DeleteArtifact removes an artifact blob. Removing a missing blob is not
// an error.
func (fs *ArtifactStore) DeleteArtifact(ctx context.Context, versionID string) error {
	err := os.Remove(fs.artifactPath(versionID))
	if err != nil && !os.IsNotExist(err) {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
			fmt.Sprintf("failed to delete artifact %s", versionID))
	}
	return nil
}

func (fs *ArtifactStore) artifactPath(versionID string) string {
	return filepath.Join(fs.config.BasePath, versionID+".model.json")
}
