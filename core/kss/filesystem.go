package kss

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/relabs-tech/geocatalog/core/logger"
)

// LocalFilesystem is the entity which provides local filesystem
type LocalFilesystem struct {
	baseFolder string
}

// NewLocalFilesystem returns a new LocalFilesystem storing its files below
// config.BasePath. The folder is created if it does not exist.
func NewLocalFilesystem(config LocalConfiguration) (*LocalFilesystem, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("BasePath must not be empty")
	}
	if err := os.MkdirAll(config.BasePath, 0700); err != nil {
		return nil, fmt.Errorf("could not create %s: %w", config.BasePath, err)
	}
	logger.Default().Debugln("KSS local filesystem enabled in", config.BasePath)
	return &LocalFilesystem{baseFolder: config.BasePath}, nil
}

func (f LocalFilesystem) path(key string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	return filepath.Join(f.baseFolder, filepath.FromSlash(key)), nil
}

// Put implements Driver. The file is written to a temporary name first and renamed, so
// readers never see a partial document.
func (f LocalFilesystem) Put(ctx context.Context, key string, data []byte) error {
	filePath, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".upload-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	logger.FromContext(ctx).Debugf("Filesystem: stored key '%s'", key)
	return os.Rename(tmp.Name(), filePath)
}

// Get implements Driver
func (f LocalFilesystem) Get(ctx context.Context, key string) ([]byte, error) {
	filePath, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// Delete implements Driver
func (f LocalFilesystem) Delete(ctx context.Context, key string) error {
	filePath, err := f.path(key)
	if err != nil {
		return err
	}
	err = os.Remove(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err == nil {
		logger.FromContext(ctx).Debugf("Filesystem: deleted key '%s'", key)
	}
	return err
}
