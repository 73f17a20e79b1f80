package blob_test

import (
	"context"
	"os"
	"testing"

	"vetcore/internal/blob"
)

func withEnv(t *testing.T, key, value string) {
	t.Helper()
	orig, had := os.LookupEnv(key)
	if value == "" {
		_ = os.Unsetenv(key)
	} else {
		_ = os.Setenv(key, value)
	}
	t.Cleanup(func() {
		if had {
			_ = os.Setenv(key, orig)
		} else {
			_ = os.Unsetenv(key)
		}
	})
}

func TestOpenDefaultsToFilesystem(t *testing.T) {
	withEnv(t, "VETCORE_BLOB_DRIVER", "")
	withEnv(t, "VETCORE_BLOB_FS_ROOT", t.TempDir())

	store, err := blob.Open(context.Background())
	if err != nil {
		t.Fatalf("open default store: %v", err)
	}
	if store.Driver() != blob.DriverFilesystem {
		t.Fatalf("driver = %s, want %s", store.Driver(), blob.DriverFilesystem)
	}
}

func TestOpenMemoryDriver(t *testing.T) {
	withEnv(t, "VETCORE_BLOB_DRIVER", "memory")

	store, err := blob.Open(context.Background())
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	if store.Driver() != blob.DriverMemory {
		t.Fatalf("driver = %s, want %s", store.Driver(), blob.DriverMemory)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	withEnv(t, "VETCORE_BLOB_DRIVER", "carrier-pigeon")

	if _, err := blob.Open(context.Background()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
