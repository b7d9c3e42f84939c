package blob

import (
	"context"
	"fmt"

	"fmeacore/internal/infra/blob/fs"
	"fmeacore/internal/infra/blob/memory"
	"fmeacore/internal/infra/blob/s3"
)

// S3Config configures the s3 driver.
type S3Config = s3.Config

// Config selects and configures a backend.
type Config struct {
	Driver    Driver   `yaml:"driver"`
	FSRoot    string   `yaml:"fs_root"`
	FSBaseURL string   `yaml:"fs_base_url"`
	S3        S3Config `yaml:"s3"`
}

// DefaultConfig stores exports on the local filesystem under ./exports.
func DefaultConfig() Config {
	return Config{Driver: DriverFilesystem, FSRoot: "./exports"}
}

// Open builds the Store named by cfg.Driver. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case DriverFilesystem, "":
		return fs.New(cfg.FSRoot, cfg.FSBaseURL)
	case DriverS3:
		return s3.New(ctx, cfg.S3)
	case DriverMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}

// NewMemory returns an in-memory Store.
func NewMemory() Store { return memory.New() }

// NewFakeS3 returns an S3 Store backed by an in-process fake bucket, for
// exercising the S3 path without network access.
func NewFakeS3(prefix string) Store { return s3.NewFake(prefix) }
