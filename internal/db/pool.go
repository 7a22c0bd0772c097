package db

import (
	"strings"
	"sync"

	"github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// OwnerPlaceholder is replaced by the sanitized owner DID in a DSN template to give every owner its own database.
const OwnerPlaceholder = "{owner}"

// Opener opens a database from a fully expanded DSN.
type Opener func(dsn string) (*gorm.DB, error)

// ConnectionPool hands out database handles scoped to owner identities.
//
// If the DSN template contains `OwnerPlaceholder`, each owner gets its own database and the handles are kept in a
// bounded LRU cache. A handle pushed out of the cache is closed once the last caller holding it releases it; until
// then a new request of the same owner takes it back instead of opening a second one. Otherwise every owner shares a
// single handle that lives until `Close`.
type ConnectionPool struct {
	dsnTemplate string
	open        Opener

	mu       sync.Mutex
	cache    *lru.Cache           // sanitized owner -> *pooledDB
	draining map[string]*pooledDB // evicted handles still held by callers
	shared   *gorm.DB
	closed   bool
}

// pooledDB 记录一个所有者数据库连接及其当前使用者数量。
type pooledDB struct {
	name    string
	db      *gorm.DB
	refs    int
	evicted bool
}

// NewConnectionPool creates a pool holding at most `size` owner databases.
func NewConnectionPool(dsnTemplate string, size int, open Opener) (*ConnectionPool, error) {
	if open == nil {
		return nil, errors.New("数据库打开函数不能为 nil")
	}

	p := &ConnectionPool{
		dsnTemplate: dsnTemplate,
		open:        open,
		draining:    map[string]*pooledDB{},
	}

	if p.IsOwnerScoped() {
		// The callback runs inside Add and Purge, which are only called with p.mu held.
		cache, err := lru.NewWithEvict(size, func(key interface{}, value interface{}) {
			p.onEvicted(value.(*pooledDB))
		})
		if err != nil {
			return nil, errors.Wrap(err, "无法创建数据库连接池")
		}
		p.cache = cache
	}

	return p, nil
}

// IsOwnerScoped reports whether every owner has its own database.
func (p *ConnectionPool) IsOwnerScoped() bool {
	return strings.Contains(p.dsnTemplate, OwnerPlaceholder)
}

// Get returns the database handle of an owner, opening it if needed. The caller must call the returned release
// function when it is done with the handle.
func (p *ConnectionPool) Get(ownerDID string) (*gorm.DB, func(), error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, nil, errors.New("数据库连接池已关闭")
	}

	if !p.IsOwnerScoped() {
		if p.shared == nil {
			db, err := p.open(p.dsnTemplate)
			if err != nil {
				return nil, nil, errors.Wrap(err, "无法打开数据库")
			}
			p.shared = db
		}
		return p.shared, func() {}, nil
	}

	name := SanitizeOwnerName(ownerDID)
	var entry *pooledDB
	if value, ok := p.cache.Get(name); ok {
		entry = value.(*pooledDB)
	} else if draining, ok := p.draining[name]; ok {
		// Still in use since its eviction. Take it back instead of opening the same database twice.
		delete(p.draining, name)
		draining.evicted = false
		entry = draining
		p.cache.Add(name, entry)
	} else {
		db, err := p.open(strings.ReplaceAll(p.dsnTemplate, OwnerPlaceholder, name))
		if err != nil {
			return nil, nil, errors.Wrapf(err, "无法打开所有者 '%v' 的数据库", ownerDID)
		}
		entry = &pooledDB{name: name, db: db}
		p.cache.Add(name, entry)
	}

	entry.refs++
	var once sync.Once
	release := func() {
		once.Do(func() { p.release(entry) })
	}

	return entry.db, release, nil
}

func (p *ConnectionPool) release(entry *pooledDB) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry.refs--
	if entry.evicted && entry.refs == 0 {
		delete(p.draining, entry.name)
		log.Debugf("正在关闭所有者 '%v' 的数据库连接", entry.name)
		closeGormDB(entry.db)
	}
}

// onEvicted must be called with p.mu held.
func (p *ConnectionPool) onEvicted(entry *pooledDB) {
	entry.evicted = true
	if entry.refs > 0 {
		log.Debugf("所有者 '%v' 的数据库连接仍在使用中，将在释放后关闭", entry.name)
		p.draining[entry.name] = entry
		return
	}

	log.Debugf("正在关闭所有者 '%v' 的数据库连接", entry.name)
	closeGormDB(entry.db)
}

// Len returns the number of open owner databases.
func (p *ConnectionPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cache == nil {
		if p.shared == nil {
			return 0
		}
		return 1
	}

	return p.cache.Len()
}

// Close closes every idle handle held by the pool. Handles still in use are closed when released. The pool cannot be
// used afterwards.
func (p *ConnectionPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	if p.cache != nil {
		p.cache.Purge()
	}
	if p.shared != nil {
		closeGormDB(p.shared)
		p.shared = nil
	}
}

// SanitizeOwnerName maps an owner DID to a name usable as a database or file name: lower case letters, digits and
// underscores.
func SanitizeOwnerName(ownerDID string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(ownerDID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		} else {
			sb.WriteRune('_')
		}
	}

	return sb.String()
}

func closeGormDB(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Warnf("无法获取数据库连接: %v", err)
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warnf("无法关闭数据库连接: %v", err)
	}
}
