package appinit

import (
	"fmt"
	"io/ioutil"
	"strings"
	"time"

	"gitee.com/czyczk/pdproxy/internal/kms"
	"gitee.com/czyczk/pdproxy/internal/utils/cipherutils"
	errors "github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	yaml "gopkg.in/yaml.v2"
)

// Database drivers accepted in the config file.
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// ServerInfo is the Go struct for contents in server.yaml.
type ServerInfo struct {
	Port           int           `yaml:"port"`           // The port the HTTP server listens on
	LogLevel       string        `yaml:"logLevel"`       // One of the logrus levels
	OwnerDID       string        `yaml:"ownerDid"`       // The DID of the owner this proxy serves. Used when a request doesn't name one.
	ShowTimingLogs bool          `yaml:"showTimingLogs"` // Whether to log the time spent in each KMS operation
	NodeID         int64         `yaml:"nodeId"`         // The snowflake node number. Processes sharing a database need distinct ones.
	Database       *DatabaseInfo `yaml:"database"`
	KMS            *KMSInfo      `yaml:"kms"`
}

// DatabaseInfo describes where key material is stored.
type DatabaseInfo struct {
	Driver    string `yaml:"driver"`    // mysql, sqlite or memory
	DSN       string `yaml:"dsn"`       // The DSN. If it contains "{owner}", each owner gets its own database.
	PoolSize  int    `yaml:"poolSize"`  // The max number of owner databases kept open
	TimeoutMs int    `yaml:"timeoutMs"` // The timeout of every store operation in milliseconds
}

// KMSInfo configures the API key codec.
type KMSInfo struct {
	SplitLength int    `yaml:"splitLength"` // The number of encoded characters carried by tokens
	Cipher      string `yaml:"cipher"`      // The cipher suite sealing new key material
	Serializer  string `yaml:"serializer"`  // json or cbor
	SingleUse   bool   `yaml:"singleUse"`   // Whether a key is revoked right after its first redemption
}

// Timeout returns the store operation timeout.
func (i *DatabaseInfo) Timeout() time.Duration {
	return time.Duration(i.TimeoutMs) * time.Millisecond
}

// CodecOptions translates the KMS section into codec options.
func (i *KMSInfo) CodecOptions() ([]kms.Option, error) {
	suite, err := cipherutils.GetSuite(i.Cipher)
	if err != nil {
		return nil, err
	}

	serializer, err := kms.GetSerializer(i.Serializer)
	if err != nil {
		return nil, err
	}

	return []kms.Option{
		kms.WithSplitLength(i.SplitLength),
		kms.WithCipherSuite(suite),
		kms.WithSerializer(serializer),
	}, nil
}

// LoadServerInfo loads the server config file (in YAML) which contains info needed to start a server.
// Omitted fields take their default values.
//
// Parameters:
//   the path to the config file
//
// Returns:
//   the `ServerInfo` struct containing the info needed to start a server
func LoadServerInfo(configFilePath string) (ret ServerInfo, err error) {
	yamlStr, err := ioutil.ReadFile(configFilePath)
	if err != nil {
		err = errors.Wrap(err, "读取服务器配置文件失败")
		return
	}

	return ParseServerInfo(yamlStr)
}

// ParseServerInfo parses the contents of a server config file.
func ParseServerInfo(yamlBytes []byte) (ret ServerInfo, err error) {
	err = yaml.UnmarshalStrict(yamlBytes, &ret)
	if err != nil {
		err = errors.Wrap(err, "解析 YAML 文件时出现错误")
		return
	}

	ret.applyDefaults()
	err = ret.Validate()
	return
}

func (i *ServerInfo) applyDefaults() {
	if i.Port == 0 {
		i.Port = 8081
	}
	if i.LogLevel == "" {
		i.LogLevel = "info"
	}
	if i.NodeID == 0 {
		i.NodeID = 1
	}

	if i.Database == nil {
		i.Database = &DatabaseInfo{}
	}
	if i.Database.Driver == "" {
		i.Database.Driver = DriverMemory
	}
	if i.Database.PoolSize == 0 {
		i.Database.PoolSize = 32
	}
	if i.Database.TimeoutMs == 0 {
		i.Database.TimeoutMs = 5000
	}

	if i.KMS == nil {
		i.KMS = &KMSInfo{}
	}
	if i.KMS.SplitLength == 0 {
		i.KMS.SplitLength = kms.DefaultSplitLength
	}
	if i.KMS.Cipher == "" {
		i.KMS.Cipher = cipherutils.SuiteAES256GCM
	}
	if i.KMS.Serializer == "" {
		i.KMS.Serializer = kms.SerializerJSON
	}
}

// Validate checks the values of a config with defaults applied.
func (i *ServerInfo) Validate() error {
	if i.Port < 0 || i.Port > 65535 {
		return fmt.Errorf("不正确的端口号 %v", i.Port)
	}

	if i.NodeID < 0 || i.NodeID > 1023 {
		return fmt.Errorf("snowflake 节点号须在 0 到 1023 之间，得到 %v", i.NodeID)
	}

	if _, err := log.ParseLevel(i.LogLevel); err != nil {
		return errors.Wrap(err, "不正确的日志级别")
	}

	switch strings.ToLower(i.Database.Driver) {
	case DriverMySQL, DriverSQLite:
		if strings.TrimSpace(i.Database.DSN) == "" {
			return fmt.Errorf("数据库驱动 '%v' 需要指定 DSN", i.Database.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("未知的数据库驱动 '%v'", i.Database.Driver)
	}

	if i.Database.PoolSize < 0 {
		return fmt.Errorf("数据库连接池大小必须为正整数，得到 %v", i.Database.PoolSize)
	}
	if i.Database.TimeoutMs < 0 {
		return fmt.Errorf("数据库超时时间必须为正整数，得到 %v", i.Database.TimeoutMs)
	}

	if _, err := i.KMS.CodecOptions(); err != nil {
		return errors.Wrap(err, "不正确的 KMS 配置")
	}
	if i.KMS.SplitLength < 0 {
		return fmt.Errorf("分割长度必须为正整数，得到 %v", i.KMS.SplitLength)
	}

	return nil
}
