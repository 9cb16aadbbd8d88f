package tests

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"baes_platform/baes_manager/auth"
	"baes_platform/baes_manager/schema"
	"baes_platform/baes_manager/services"
	"baes_platform/baes_manager/storage"

	"github.com/go-chi/chi/v5"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testEnv struct {
	baesManager services.BaesManager
	api         chi.Router
	db          *gorm.DB
	storage     storage.Storage
	audit       *bytes.Buffer
}

// roomyDisk reports a mostly empty disk so that uploads are not rejected on full CI machines.
type roomyDisk struct {
	storage.Storage
}

func (d roomyDisk) Usage() (storage.UsageStats, error) {
	return storage.UsageStats{TotalBytes: 100 << 30, FreeBytes: 90 << 30}, nil
}

type fullDisk struct {
	storage.Storage
}

func (d fullDisk) Usage() (storage.UsageStats, error) {
	return storage.UsageStats{TotalBytes: 100 << 30, FreeBytes: 1 << 20}, nil
}

const testMaxUploadBytes = 64 * 1024

func openTestDb(t *testing.T) *gorm.DB {
	dsn := "file:" + filepath.Join(t.TempDir(), "baes.db") + "?_foreign_keys=on"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatal(err)
	}

	if err := schema.Migrate(db); err != nil {
		t.Fatal(err)
	}

	return db
}

func setupTestEnvWithStorage(t *testing.T, wrap func(storage.Storage) storage.Storage) *testEnv {
	db := openTestDb(t)

	storagePath := filepath.Join(t.TempDir(), "storage")
	err := os.MkdirAll(storagePath, 0777)
	if err != nil {
		t.Fatalf("error creating storage directory: %v", err)
	}

	store := wrap(storage.NewSharedDisk(storagePath))

	audit := new(bytes.Buffer)
	auditLogger := auth.NewAuditLogger(audit)

	baesManager := services.NewBaesManager(db, store, services.Options{
		MaxUploadBytes:  testMaxUploadBytes,
		UploadRateLimit: 1000,
		AuditLog:        auditLogger.Middleware,
	})

	return &testEnv{baesManager: baesManager, api: baesManager.Routes(), db: db, storage: store, audit: audit}
}

func setupTestEnv(t *testing.T) *testEnv {
	return setupTestEnvWithStorage(t, func(s storage.Storage) storage.Storage { return roomyDisk{s} })
}

func (t *testEnv) newClient() client {
	return client{api: t.api}
}
