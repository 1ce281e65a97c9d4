package service_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"mlsrelay/internal/domain"
	"mlsrelay/internal/dto"
	"mlsrelay/internal/service"
	"mlsrelay/internal/store"
)

func setup(t *testing.T, opts ...service.Option) (*service.Service, *store.Store) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	if err := db.AutoMigrate(domain.Models()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	st := store.New(db)
	return service.New(st, opts...), st
}

// registerDevice provisions a user and an active device the way the publish
// path does.
func registerDevice(t *testing.T, st *store.Store, userID uuid.UUID) uuid.UUID {
	t.Helper()
	deviceID := uuid.New()
	ctx := context.Background()
	if err := st.Users().Ensure(ctx, userID); err != nil {
		t.Fatalf("ensure user: %v", err)
	}
	if err := st.Devices().Upsert(ctx, domain.Device{ID: deviceID, UserID: userID}); err != nil {
		t.Fatalf("upsert device: %v", err)
	}
	return deviceID
}

func keyPackage(hash string, lastResort bool) dto.KeyPackage {
	now := time.Now().UTC()
	return dto.KeyPackage{
		Data:       []byte("blob-" + hash),
		Hash:       hash,
		NotBefore:  now.Add(-time.Minute),
		NotAfter:   now.Add(24 * time.Hour),
		LastResort: lastResort,
	}
}
