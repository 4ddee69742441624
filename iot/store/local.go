package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/awsiot/core/logger"
	"github.com/relabs-tech/awsiot/iot/greengrass"
)

// LocalConfiguration contains the configuration for the local filesystem driver
type LocalConfiguration struct {
	BasePath string
}

// LocalFilesystem stores one JSON file per thing under a base path
type LocalFilesystem struct {
	basePath string
}

// NewLocalFilesystem returns a new LocalFilesystem. The base path is created if it does not exist.
func NewLocalFilesystem(config LocalConfiguration) (*LocalFilesystem, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("BasePath must not be empty")
	}
	if err := os.MkdirAll(config.BasePath, 0o700); err != nil {
		return nil, err
	}
	logger.Default().Debugln("discovery store on local filesystem", config.BasePath)
	return &LocalFilesystem{basePath: config.BasePath}, nil
}

func (l *LocalFilesystem) path(thing string) string {
	return filepath.Join(l.basePath, url.PathEscape(thing)+".json")
}

// Save writes the discovery result of thing. The file is replaced atomically.
func (l *LocalFilesystem) Save(ctx context.Context, thing string, data *greengrass.DiscoveryCallbackData) error {
	if err := validThing(thing); err != nil {
		return err
	}
	body, err := json.Marshal(record{Thing: thing, SavedAt: time.Now().UTC(), Data: data})
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(l.basePath, ".discovery-*")
	if err != nil {
		return err
	}
	if _, err = tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err = os.Rename(tmp.Name(), l.path(thing)); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	logger.FromContext(ctx).Debugln("saved discovery result for", thing)
	return nil
}

// Load reads the discovery result of thing
func (l *LocalFilesystem) Load(ctx context.Context, thing string) (*greengrass.DiscoveryCallbackData, time.Time, error) {
	if err := validThing(thing); err != nil {
		return nil, time.Time{}, err
	}
	body, err := os.ReadFile(l.path(thing))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, err
	}
	var r record
	if err = json.Unmarshal(body, &r); err != nil {
		return nil, time.Time{}, fmt.Errorf("corrupt discovery file for %s: %w", thing, err)
	}
	return r.Data, r.SavedAt, nil
}

// Delete removes the discovery result of thing. Deleting a non-existing result is not an error.
func (l *LocalFilesystem) Delete(ctx context.Context, thing string) error {
	if err := validThing(thing); err != nil {
		return err
	}
	err := os.Remove(l.path(thing))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
