package appinit

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"gitee.com/czyczk/pdproxy/internal/db"
	"gitee.com/czyczk/pdproxy/internal/kms"
	"gitee.com/czyczk/pdproxy/internal/models/common"
	"gitee.com/czyczk/pdproxy/internal/utils/cipherutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseServerInfoDefaults(t *testing.T) {
	info, err := ParseServerInfo([]byte("ownerDid: did:example:alice\n"))
	require.NoError(t, err)

	assert.Equal(t, 8081, info.Port)
	assert.Equal(t, "info", info.LogLevel)
	assert.Equal(t, int64(1), info.NodeID)
	assert.Equal(t, "did:example:alice", info.OwnerDID)
	assert.Equal(t, DriverMemory, info.Database.Driver)
	assert.Equal(t, 32, info.Database.PoolSize)
	assert.Equal(t, 5*time.Second, info.Database.Timeout())
	assert.Equal(t, kms.DefaultSplitLength, info.KMS.SplitLength)
	assert.Equal(t, cipherutils.SuiteAES256GCM, info.KMS.Cipher)
	assert.Equal(t, kms.SerializerJSON, info.KMS.Serializer)
	assert.False(t, info.KMS.SingleUse)
}

func TestLoadServerInfo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	yamlStr := `
port: 9000
logLevel: debug
ownerDid: did:example:alice
showTimingLogs: true
database:
  driver: sqlite
  dsn: /var/lib/pdproxy/{owner}.db
  poolSize: 8
  timeoutMs: 250
kms:
  splitLength: 64
  cipher: sm4-gcm
  serializer: cbor
  singleUse: true
`
	require.NoError(t, ioutil.WriteFile(path, []byte(yamlStr), 0600))

	info, err := LoadServerInfo(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, info.Port)
	assert.True(t, info.ShowTimingLogs)
	assert.Equal(t, DatabaseInfo{Driver: DriverSQLite, DSN: "/var/lib/pdproxy/{owner}.db", PoolSize: 8, TimeoutMs: 250}, *info.Database)
	assert.Equal(t, KMSInfo{SplitLength: 64, Cipher: cipherutils.SuiteSM4GCM, Serializer: kms.SerializerCBOR, SingleUse: true}, *info.KMS)

	opts, err := info.KMS.CodecOptions()
	require.NoError(t, err)
	codec, err := kms.NewCodec[struct{}](db.NewMemoryKeyMaterialStore(), opts...)
	require.NoError(t, err)
	assert.Equal(t, 64, codec.SplitLength())
}

func TestLoadServerInfoMissingFile(t *testing.T) {
	_, err := LoadServerInfo(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestParseServerInfoRejectsInvalidConfigs(t *testing.T) {
	invalid := []string{
		"port: 70000",
		"logLevel: loud",
		"nodeId: 2048",
		"database: {driver: postgres, dsn: x}",
		"database: {driver: mysql}",
		"database: {poolSize: -1}",
		"kms: {cipher: rot13}",
		"kms: {serializer: xml}",
		"kms: {splitLength: -4}",
		"unknownField: 1",
	}

	for _, yamlStr := range invalid {
		_, err := ParseServerInfo([]byte(yamlStr))
		assert.Error(t, err, yamlStr)
	}
}

func TestNewKeyMaterialStore(t *testing.T) {
	memStore, release, err := NewKeyMaterialStore(&DatabaseInfo{Driver: DriverMemory})
	require.NoError(t, err)
	release()
	assert.IsType(t, &db.MemoryKeyMaterialStore{}, memStore)

	dsn := filepath.Join(t.TempDir(), db.OwnerPlaceholder+".db")
	sqliteStore, release, err := NewKeyMaterialStore(&DatabaseInfo{Driver: DriverSQLite, DSN: dsn, PoolSize: 2})
	require.NoError(t, err)
	defer release()

	id, err := sqliteStore.Put(context.Background(), "did:example:alice", "ciphertext")
	require.NoError(t, err)
	ciphertext, err := sqliteStore.Get(context.Background(), "did:example:alice", id)
	require.NoError(t, err)
	assert.Equal(t, "ciphertext", ciphertext)
}

func TestGetDatabaseOpenerRejectsUnknownDrivers(t *testing.T) {
	_, err := GetDatabaseOpener(DriverMemory)
	assert.Error(t, err)
	_, err = GetDatabaseOpener("postgres")
	assert.Error(t, err)
}

func TestSetupLogger(t *testing.T) {
	assert.NoError(t, SetupLogger("debug"))
	assert.NoError(t, SetupLogger("info"))
	assert.Error(t, SetupLogger("loud"))
}

func TestNewKMSService(t *testing.T) {
	info, err := ParseServerInfo([]byte(`
ownerDid: did:example:alice
database:
  driver: sqlite
  dsn: ` + filepath.Join(t.TempDir(), "keys.db") + `
kms:
  cipher: xchacha20-poly1305
  serializer: cbor
  singleUse: true
`))
	require.NoError(t, err)

	kmsSvc, release, err := NewKMSService(&info)
	require.NoError(t, err)
	defer release()

	assert.Equal(t, "did:example:alice", kmsSvc.DefaultOwnerDID)
	assert.True(t, kmsSvc.SingleUse)
	assert.Equal(t, 5*time.Second, kmsSvc.Timeout)

	issued, err := kmsSvc.IssueAPIKey(context.Background(), common.ProxySession{ClientName: "mailer"}, "did:example:bob", "", nil)
	require.NoError(t, err)

	envelope, err := kmsSvc.RedeemAPIKey(context.Background(), "", "did:example:bob", issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "mailer", envelope.Session.ClientName)
}
