package db

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type countingOpener struct {
	dsns []string
}

func (o *countingOpener) open(dsn string) (*gorm.DB, error) {
	o.dsns = append(o.dsns, dsn)
	return openSQLite(dsn)
}

func TestSanitizeOwnerName(t *testing.T) {
	assert.Equal(t, "did_example_alice", SanitizeOwnerName("did:example:Alice"))
	assert.Equal(t, "did_key_z6mk_9", SanitizeOwnerName("did:key:z6Mk-9"))
	assert.Equal(t, "", SanitizeOwnerName(""))
}

func TestConnectionPoolSharedDatabase(t *testing.T) {
	opener := &countingOpener{}
	dsn := filepath.Join(t.TempDir(), "shared.db")
	pool, err := NewConnectionPool(dsn, 2, opener.open)
	require.NoError(t, err)
	defer pool.Close()

	assert.False(t, pool.IsOwnerScoped())

	db1, release1, err := pool.Get("did:example:alice")
	require.NoError(t, err)
	defer release1()
	db2, release2, err := pool.Get("did:example:bob")
	require.NoError(t, err)
	defer release2()

	assert.Same(t, db1, db2)
	assert.Equal(t, []string{dsn}, opener.dsns)
	assert.Equal(t, 1, pool.Len())
}

func TestConnectionPoolOwnerScopedReusesHandles(t *testing.T) {
	opener := &countingOpener{}
	dir := t.TempDir()
	pool, err := NewConnectionPool(filepath.Join(dir, OwnerPlaceholder+".db"), 2, opener.open)
	require.NoError(t, err)
	defer pool.Close()

	assert.True(t, pool.IsOwnerScoped())

	db1, release1, err := pool.Get("did:example:alice")
	require.NoError(t, err)
	release1()
	db2, release2, err := pool.Get("did:example:alice")
	require.NoError(t, err)
	release2()

	assert.Same(t, db1, db2)
	assert.Equal(t, []string{filepath.Join(dir, "did_example_alice.db")}, opener.dsns)
}

func pingError(t *testing.T, db *gorm.DB) error {
	sqlDB, err := db.DB()
	require.NoError(t, err)
	return sqlDB.Ping()
}

func TestConnectionPoolEvictionClosesIdleHandle(t *testing.T) {
	opener := &countingOpener{}
	pool, err := NewConnectionPool(filepath.Join(t.TempDir(), OwnerPlaceholder+".db"), 1, opener.open)
	require.NoError(t, err)
	defer pool.Close()

	alice, release, err := pool.Get("did:example:alice")
	require.NoError(t, err)
	release()
	// Releasing twice has no effect
	release()

	_, releaseBob, err := pool.Get("did:example:bob")
	require.NoError(t, err)
	defer releaseBob()

	assert.Equal(t, 1, pool.Len())
	assert.Error(t, pingError(t, alice))

	// Alice's database is reopened on demand
	alice2, release2, err := pool.Get("did:example:alice")
	require.NoError(t, err)
	defer release2()
	assert.NotSame(t, alice, alice2)
	assert.Len(t, opener.dsns, 3)
}

func TestConnectionPoolEvictionWaitsForRelease(t *testing.T) {
	opener := &countingOpener{}
	pool, err := NewConnectionPool(filepath.Join(t.TempDir(), OwnerPlaceholder+".db"), 1, opener.open)
	require.NoError(t, err)
	defer pool.Close()

	alice, releaseAlice, err := pool.Get("did:example:alice")
	require.NoError(t, err)

	_, releaseBob, err := pool.Get("did:example:bob")
	require.NoError(t, err)
	releaseBob()

	// Evicted while in use: still open
	assert.NoError(t, pingError(t, alice))

	// Another request of the same owner takes the held handle back
	alice2, releaseAlice2, err := pool.Get("did:example:alice")
	require.NoError(t, err)
	assert.Same(t, alice, alice2)
	assert.Len(t, opener.dsns, 2)

	releaseAlice()
	assert.NoError(t, pingError(t, alice))

	// Evicted again by Carol, then closed when the last holder releases it
	_, releaseCarol, err := pool.Get("did:example:carol")
	require.NoError(t, err)
	defer releaseCarol()
	assert.NoError(t, pingError(t, alice))

	releaseAlice2()
	assert.Error(t, pingError(t, alice))
}

func TestConnectionPoolMoreOwnersThanSize(t *testing.T) {
	pool, err := NewConnectionPool(filepath.Join(t.TempDir(), OwnerPlaceholder+".db"), 2, openSQLite)
	require.NoError(t, err)
	defer pool.Close()
	store := NewGormKeyMaterialStore(pool)

	const (
		owners     = 6
		goroutines = 8
		puts       = 30
	)

	var wg sync.WaitGroup
	errs := make(chan error, goroutines*puts)
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < puts; i++ {
				owner := fmt.Sprintf("did:example:owner%v", (g+i)%owners)
				id, err := store.Put(context.Background(), owner, "ciphertext")
				if err != nil {
					errs <- err
					continue
				}
				if _, err := store.Get(context.Background(), owner, id); err != nil {
					errs <- err
				}
			}
		}(g)
	}
	wg.Wait()
	close(errs)

	var failures []error
	for err := range errs {
		failures = append(failures, err)
	}
	assert.Empty(t, failures)
	assert.LessOrEqual(t, pool.Len(), 2)

	total := 0
	for o := 0; o < owners; o++ {
		ids, err := store.List(context.Background(), fmt.Sprintf("did:example:owner%v", o))
		require.NoError(t, err)
		total += len(ids)
	}
	assert.Equal(t, goroutines*puts, total)
}

func TestConnectionPoolClose(t *testing.T) {
	pool, err := NewConnectionPool(filepath.Join(t.TempDir(), OwnerPlaceholder+".db"), 4, openSQLite)
	require.NoError(t, err)

	idle, releaseIdle, err := pool.Get("did:example:alice")
	require.NoError(t, err)
	releaseIdle()

	busy, releaseBusy, err := pool.Get("did:example:bob")
	require.NoError(t, err)

	pool.Close()
	// Closing twice is a no-op
	pool.Close()

	assert.Error(t, pingError(t, idle))
	assert.NoError(t, pingError(t, busy))
	releaseBusy()
	assert.Error(t, pingError(t, busy))

	_, _, err = pool.Get("did:example:alice")
	assert.Error(t, err)
}

func TestNewConnectionPoolRequiresOpener(t *testing.T) {
	_, err := NewConnectionPool("shared.db", 4, nil)
	assert.Error(t, err)
}
