// Package blob stores exported JSON payloads for the saveBlob action.
//
// Three backends share one interface: the local filesystem (default), an
// S3 compatible bucket, and process memory for tests.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Driver identifies a blob backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
	DriverMemory     Driver = "memory"
)

// ErrExists is returned by Put when the key is already taken.
var ErrExists = errors.New("blob already exists")

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("blob not found")

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Info describes a stored blob.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	ContentType  string            `json:"contentType,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"lastModified"`
}

// Store is a create-only key/value blob store.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Delete(ctx context.Context, key string) (bool, error)
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// Config selects and configures a backend. It is the blob block of the
// process config file.
type Config struct {
	Driver Driver   `yaml:"driver"`
	FS     FSConfig `yaml:"fs"`
	S3     S3Config `yaml:"s3"`
}

// FSConfig configures the filesystem backend.
type FSConfig struct {
	Root string `yaml:"root"`
}

// Open builds the backend named by cfg.Driver. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.FS.Root)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	}
	return nil, fmt.Errorf("unsupported blob driver %q", cfg.Driver)
}

func cloneMetadata(md map[string]string) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = v
	}
	return out
}
