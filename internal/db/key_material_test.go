package db

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"gitee.com/czyczk/pdproxy/internal/models/sqlmodel"
	"gitee.com/czyczk/pdproxy/pkg/errorcode"
	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type keyMaterialStore interface {
	Put(ctx context.Context, ownerDID string, ciphertext string) (string, error)
	Get(ctx context.Context, ownerDID string, id string) (string, error)
	Delete(ctx context.Context, ownerDID string, id string) error
	List(ctx context.Context, ownerDID string) ([]string, error)
}

func openSQLite(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}

	// SQLite allows one writer at a time
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&sqlmodel.KeyMaterial{}); err != nil {
		return nil, err
	}

	return db, nil
}

func newSQLiteStore(t *testing.T, dsnTemplate string) *GormKeyMaterialStore {
	pool, err := NewConnectionPool(dsnTemplate, 4, openSQLite)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return NewGormKeyMaterialStore(pool)
}

func storesUnderTest(t *testing.T) map[string]keyMaterialStore {
	dir := t.TempDir()
	return map[string]keyMaterialStore{
		"memory":             NewMemoryKeyMaterialStore(),
		"sqlite-shared":      newSQLiteStore(t, filepath.Join(dir, "shared.db")),
		"sqlite-owner-scope": newSQLiteStore(t, filepath.Join(dir, OwnerPlaceholder+".db")),
	}
}

func TestKeyMaterialStoreLifecycle(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			owner := "did:owner:1"

			id, err := store.Put(ctx, owner, "ciphertext-1")
			require.NoError(t, err)
			assert.NotContains(t, id, ":")

			ciphertext, err := store.Get(ctx, owner, id)
			require.NoError(t, err)
			assert.Equal(t, "ciphertext-1", ciphertext)

			// Reading is idempotent
			ciphertext, err = store.Get(ctx, owner, id)
			require.NoError(t, err)
			assert.Equal(t, "ciphertext-1", ciphertext)

			ids, err := store.List(ctx, owner)
			require.NoError(t, err)
			assert.Equal(t, []string{id}, ids)

			require.NoError(t, store.Delete(ctx, owner, id))

			_, err = store.Get(ctx, owner, id)
			assert.Equal(t, errorcode.ErrorKeyNotFound, errors.Cause(err))

			err = store.Delete(ctx, owner, id)
			assert.Equal(t, errorcode.ErrorKeyNotFound, errors.Cause(err))

			ids, err = store.List(ctx, owner)
			require.NoError(t, err)
			assert.Empty(t, ids)
		})
	}
}

func TestKeyMaterialStoreIsOwnerScoped(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			id, err := store.Put(ctx, "did:owner:1", "ciphertext-1")
			require.NoError(t, err)

			_, err = store.Get(ctx, "did:owner:2", id)
			assert.Equal(t, errorcode.ErrorKeyNotFound, errors.Cause(err))

			err = store.Delete(ctx, "did:owner:2", id)
			assert.Equal(t, errorcode.ErrorKeyNotFound, errors.Cause(err))

			ids, err := store.List(ctx, "did:owner:2")
			require.NoError(t, err)
			assert.Empty(t, ids)

			// The record of the first owner survives
			_, err = store.Get(ctx, "did:owner:1", id)
			assert.NoError(t, err)
		})
	}
}

func TestKeyMaterialStoreListsInCreationOrder(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			var expected []string
			for i := 0; i < 5; i++ {
				id, err := store.Put(ctx, "did:owner:1", "ciphertext")
				require.NoError(t, err)
				expected = append(expected, id)
			}

			ids, err := store.List(ctx, "did:owner:1")
			require.NoError(t, err)
			assert.Equal(t, expected, ids)
		})
	}
}

func TestKeyMaterialStoreUnknownID(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := store.Get(ctx, "did:owner:1", "1234567890")
			assert.Equal(t, errorcode.ErrorKeyNotFound, errors.Cause(err))

			_, err = store.Get(ctx, "did:owner:1", "not-a-snowflake")
			assert.Equal(t, errorcode.ErrorKeyNotFound, errors.Cause(err))
		})
	}
}

func TestKeyMaterialStoreCanceledContext(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			id, err := store.Put(context.Background(), "did:owner:1", "ciphertext")
			require.NoError(t, err)

			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err = store.Put(ctx, "did:owner:1", "ciphertext")
			assert.Equal(t, errorcode.ErrorStoreUnavailable, errors.Cause(err))

			_, err = store.Get(ctx, "did:owner:1", id)
			assert.Equal(t, errorcode.ErrorStoreUnavailable, errors.Cause(err))

			err = store.Delete(ctx, "did:owner:1", id)
			assert.Equal(t, errorcode.ErrorStoreUnavailable, errors.Cause(err))

			_, err = store.List(ctx, "did:owner:1")
			assert.Equal(t, errorcode.ErrorStoreUnavailable, errors.Cause(err))
		})
	}
}

func TestKeyMaterialStoreConcurrentRevokeAndRead(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		store := store
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			id, err := store.Put(ctx, "did:owner:1", "ciphertext")
			require.NoError(t, err)

			var wg sync.WaitGroup
			for i := 0; i < 8; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					ciphertext, err := store.Get(ctx, "did:owner:1", id)
					if err != nil {
						assert.Equal(t, errorcode.ErrorKeyNotFound, errors.Cause(err))
					} else {
						assert.Equal(t, "ciphertext", ciphertext)
					}
				}()
			}

			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, store.Delete(ctx, "did:owner:1", id))
			}()
			wg.Wait()

			_, err = store.Get(ctx, "did:owner:1", id)
			assert.Equal(t, errorcode.ErrorKeyNotFound, errors.Cause(err))
		})
	}
}
