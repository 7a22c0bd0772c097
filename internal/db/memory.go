package db

import (
	"context"
	"sort"
	"sync"

	"gitee.com/czyczk/pdproxy/internal/utils/idutils"
	"gitee.com/czyczk/pdproxy/pkg/errorcode"
	"github.com/pkg/errors"
)

// MemoryKeyMaterialStore keeps key material in process memory. Records are lost when the process exits, which makes
// every issued API key unredeemable. Meant for tests and local development.
type MemoryKeyMaterialStore struct {
	mu      sync.RWMutex
	records map[string]map[string]string // owner DID -> record ID -> ciphertext
}

// NewMemoryKeyMaterialStore creates an empty in-memory store.
func NewMemoryKeyMaterialStore() *MemoryKeyMaterialStore {
	return &MemoryKeyMaterialStore{
		records: make(map[string]map[string]string),
	}
}

func (s *MemoryKeyMaterialStore) Put(ctx context.Context, ownerDID string, ciphertext string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(errorcode.ErrorStoreUnavailable, err.Error())
	}

	id, err := idutils.GenerateSnowflakeId()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ownerRecords, ok := s.records[ownerDID]
	if !ok {
		ownerRecords = make(map[string]string)
		s.records[ownerDID] = ownerRecords
	}
	ownerRecords[id] = ciphertext

	return id, nil
}

func (s *MemoryKeyMaterialStore) Get(ctx context.Context, ownerDID string, id string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrap(errorcode.ErrorStoreUnavailable, err.Error())
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ciphertext, ok := s.records[ownerDID][id]
	if !ok {
		return "", errors.Wrapf(errorcode.ErrorKeyNotFound, "密钥材料 '%v' 不存在或已被撤销", id)
	}

	return ciphertext, nil
}

func (s *MemoryKeyMaterialStore) Delete(ctx context.Context, ownerDID string, id string) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errorcode.ErrorStoreUnavailable, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ownerRecords := s.records[ownerDID]
	if _, ok := ownerRecords[id]; !ok {
		return errors.Wrapf(errorcode.ErrorKeyNotFound, "密钥材料 '%v' 不存在或已被撤销", id)
	}

	delete(ownerRecords, id)
	if len(ownerRecords) == 0 {
		delete(s.records, ownerDID)
	}

	return nil
}

// List returns the record IDs of an owner in creation order. Snowflake IDs of the same length sort by time.
func (s *MemoryKeyMaterialStore) List(ctx context.Context, ownerDID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errorcode.ErrorStoreUnavailable, err.Error())
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.records[ownerDID]))
	for id := range s.records[ownerDID] {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) < len(ids[j])
		}
		return ids[i] < ids[j]
	})

	return ids, nil
}
