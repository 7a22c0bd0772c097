package db

import (
	"context"

	"gitee.com/czyczk/pdproxy/internal/models/sqlmodel"
	"gitee.com/czyczk/pdproxy/internal/utils/idutils"
	"gitee.com/czyczk/pdproxy/pkg/errorcode"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// GormKeyMaterialStore 将 API 密钥的加密密钥材料保存在所有者的数据库中。
// 每个查询都会按所有者 DID 过滤，共用同一数据库的所有者互相看不到对方的记录。
type GormKeyMaterialStore struct {
	Pool *ConnectionPool
}

// NewGormKeyMaterialStore creates a store on top of a connection pool.
func NewGormKeyMaterialStore(pool *ConnectionPool) *GormKeyMaterialStore {
	return &GormKeyMaterialStore{Pool: pool}
}

// Put 将密文存入所有者的数据库，返回新记录的 snowflake ID。
func (s *GormKeyMaterialStore) Put(ctx context.Context, ownerDID string, ciphertext string) (string, error) {
	db, release, err := s.getDB(ctx, ownerDID)
	if err != nil {
		return "", err
	}
	defer release()

	id, err := idutils.GenerateSnowflakeId()
	if err != nil {
		return "", err
	}

	keyMaterialDB, err := sqlmodel.NewKeyMaterial(id, ownerDID, ciphertext)
	if err != nil {
		return "", errors.Wrap(err, "无法创建密钥材料记录")
	}

	dbResult := db.Create(keyMaterialDB)
	if dbResult.Error != nil {
		return "", classifyDBError(dbResult.Error, "无法将密钥材料存入数据库")
	}

	return keyMaterialDB.GetIDString(), nil
}

// Get 从所有者的数据库中读取指定 ID 的密钥材料密文。
func (s *GormKeyMaterialStore) Get(ctx context.Context, ownerDID string, id string) (string, error) {
	idInt64, err := sqlmodel.ParseKeyMaterialID(id)
	if err != nil {
		return "", errors.Wrapf(errorcode.ErrorKeyNotFound, "不正确的密钥材料 ID '%v'", id)
	}

	db, release, err := s.getDB(ctx, ownerDID)
	if err != nil {
		return "", err
	}
	defer release()

	var keyMaterialDB sqlmodel.KeyMaterial
	dbResult := db.Where("id = ? AND owner_did = ?", idInt64, ownerDID).Take(&keyMaterialDB)
	if dbResult.Error != nil {
		return "", classifyDBError(dbResult.Error, "无法从数据库中获取密钥材料")
	}

	return keyMaterialDB.Ciphertext, nil
}

// Delete 从所有者的数据库中删除指定 ID 的密钥材料。记录不存在时返回 `errorcode.ErrorKeyNotFound`。
func (s *GormKeyMaterialStore) Delete(ctx context.Context, ownerDID string, id string) error {
	idInt64, err := sqlmodel.ParseKeyMaterialID(id)
	if err != nil {
		return errors.Wrapf(errorcode.ErrorKeyNotFound, "不正确的密钥材料 ID '%v'", id)
	}

	db, release, err := s.getDB(ctx, ownerDID)
	if err != nil {
		return err
	}
	defer release()

	dbResult := db.Where("id = ? AND owner_did = ?", idInt64, ownerDID).Delete(&sqlmodel.KeyMaterial{})
	if dbResult.Error != nil {
		return classifyDBError(dbResult.Error, "无法从数据库中删除密钥材料")
	}

	if dbResult.RowsAffected == 0 {
		return errors.Wrapf(errorcode.ErrorKeyNotFound, "密钥材料 '%v' 不存在或已被撤销", id)
	}

	return nil
}

// List 列出所有者的数据库中所有密钥材料的 ID，按创建顺序排列。
func (s *GormKeyMaterialStore) List(ctx context.Context, ownerDID string) ([]string, error) {
	db, release, err := s.getDB(ctx, ownerDID)
	if err != nil {
		return nil, err
	}
	defer release()

	var ids []int64
	dbResult := db.Model(&sqlmodel.KeyMaterial{}).Where("owner_did = ?", ownerDID).Order("id").Pluck("id", &ids)
	if dbResult.Error != nil {
		return nil, classifyDBError(dbResult.Error, "无法从数据库中列出密钥材料")
	}

	ret := make([]string, len(ids))
	for i, id := range ids {
		ret[i] = (&sqlmodel.KeyMaterial{ID: id}).GetIDString()
	}

	return ret, nil
}

// getDB 获取所有者的数据库连接。调用者用完后必须调用返回的 release 函数。
func (s *GormKeyMaterialStore) getDB(ctx context.Context, ownerDID string) (*gorm.DB, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, errors.Wrap(errorcode.ErrorStoreUnavailable, err.Error())
	}

	db, release, err := s.Pool.Get(ownerDID)
	if err != nil {
		return nil, nil, errors.Wrap(errorcode.ErrorStoreUnavailable, err.Error())
	}

	return db.WithContext(ctx), release, nil
}

// classifyDBError maps a gorm error to the error kinds of the key material store. Anything other than a missing
// record is treated as the store being unavailable.
func classifyDBError(err error, msg string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errors.Wrap(errorcode.ErrorKeyNotFound, msg)
	}

	return errors.Wrapf(errorcode.ErrorStoreUnavailable, "%v: %v", msg, err)
}
