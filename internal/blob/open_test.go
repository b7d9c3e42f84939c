package blob

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "exports")

	store, err := Open(ctx, Config{FSRoot: root})
	if err != nil {
		t.Fatalf("open fs: %v", err)
	}
	if store.Driver() != DriverFilesystem {
		t.Fatalf("expected fs default, got %s", store.Driver())
	}

	store, err = Open(ctx, Config{Driver: DriverMemory})
	if err != nil || store.Driver() != DriverMemory {
		t.Fatalf("open memory: %v", err)
	}

	store, err = Open(ctx, Config{Driver: DriverS3, S3: S3Config{Bucket: "exports", Region: "eu-west-1", AccessKeyID: "a", SecretAccessKey: "b"}})
	if err != nil || store.Driver() != DriverS3 {
		t.Fatalf("open s3: %v", err)
	}

	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
	if _, err := Open(ctx, Config{Driver: "gcs"}); err == nil || !strings.Contains(err.Error(), "gcs") {
		t.Fatalf("expected unknown driver error, got %v", err)
	}
	if DefaultConfig().Driver != DriverFilesystem {
		t.Fatalf("unexpected default driver")
	}
}

func TestStoresShareErrorContract(t *testing.T) {
	ctx := context.Background()
	for _, store := range []Store{NewMemory(), NewFakeS3("")} {
		if _, err := store.Put(ctx, "k", strings.NewReader("v"), PutOptions{}); err != nil {
			t.Fatalf("%s put: %v", store.Driver(), err)
		}
		if _, err := store.Put(ctx, "k", strings.NewReader("v"), PutOptions{}); !errors.Is(err, ErrExists) {
			t.Fatalf("%s: expected ErrExists, got %v", store.Driver(), err)
		}
		if _, err := store.Head(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%s: expected ErrNotFound, got %v", store.Driver(), err)
		}
	}
}
