package appinit

import (
	"fmt"
	"strings"

	"gitee.com/czyczk/pdproxy/internal/db"
	"gitee.com/czyczk/pdproxy/internal/kms"
	"gitee.com/czyczk/pdproxy/internal/models/sqlmodel"
	"github.com/glebarez/sqlite"
	errors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GetDatabaseOpener returns a function that opens a database of the specified driver and migrates the key material
// table in it.
func GetDatabaseOpener(driver string) (db.Opener, error) {
	var dialector func(dsn string) gorm.Dialector
	switch strings.ToLower(driver) {
	case DriverMySQL:
		dialector = mysql.Open
	case DriverSQLite:
		dialector = sqlite.Open
	default:
		return nil, fmt.Errorf("数据库驱动 '%v' 不支持 gorm", driver)
	}

	return func(dsn string) (*gorm.DB, error) {
		gormDB, err := gorm.Open(dialector(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, errors.Wrap(err, "无法连接数据库")
		}

		if strings.ToLower(driver) == DriverSQLite {
			// SQLite allows one writer at a time
			sqlDB, err := gormDB.DB()
			if err != nil {
				return nil, errors.Wrap(err, "无法获取数据库连接")
			}
			sqlDB.SetMaxOpenConns(1)
		}

		if err := gormDB.AutoMigrate(&sqlmodel.KeyMaterial{}); err != nil {
			return nil, errors.Wrap(err, "无法迁移密钥材料表")
		}

		return gormDB, nil
	}, nil
}

// NewKeyMaterialStore creates the key material store described by the database section. The returned function
// releases the connections held by the store.
func NewKeyMaterialStore(info *DatabaseInfo) (kms.KeyMaterialStore, func(), error) {
	if strings.ToLower(info.Driver) == DriverMemory {
		log.Warn("密钥材料将保存在内存中，服务器重启后所有 API 密钥都将失效")
		return db.NewMemoryKeyMaterialStore(), func() {}, nil
	}

	opener, err := GetDatabaseOpener(info.Driver)
	if err != nil {
		return nil, nil, err
	}

	pool, err := db.NewConnectionPool(info.DSN, info.PoolSize, opener)
	if err != nil {
		return nil, nil, err
	}

	if pool.IsOwnerScoped() {
		log.Infof("每个所有者使用独立的数据库，最多同时打开 %v 个", info.PoolSize)
	}

	return db.NewGormKeyMaterialStore(pool), pool.Close, nil
}
