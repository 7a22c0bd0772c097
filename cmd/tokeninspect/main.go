// Command tokeninspect prints the public structure of an API key token. It needs no secrets and never contacts the
// key material store, so operators can use it to find the key ID to revoke from a leaked token.
package main

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"

	"gitee.com/czyczk/pdproxy/internal/kms"
	"gitee.com/czyczk/pdproxy/internal/utils/cipherutils"
	"github.com/bwmarrin/snowflake"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// TokenInfo is the printable structure of a token.
type TokenInfo struct {
	KeyID        string   `yaml:"keyId"`                  // ID of the key material record
	IssuedAt     string   `yaml:"issuedAt,omitempty"`     // Issue time embedded in the snowflake ID
	IssuerNode   int64    `yaml:"issuerNode"`             // Snowflake node of the issuing process
	TailLength   int      `yaml:"tailLength"`             // Length of the client-held part of the envelope encoding
	KeyBytes     int      `yaml:"keyBytes"`               // Length of the symmetric key
	CipherSuites []string `yaml:"cipherSuites,omitempty"` // Suites whose key size matches
}

func inspectToken(token string) (*TokenInfo, error) {
	parsed, err := kms.ParseToken(strings.TrimSpace(token))
	if err != nil {
		return nil, err
	}

	key, err := base64.StdEncoding.DecodeString(parsed.Key)
	if err != nil {
		return nil, errors.Wrap(err, "无法解码令牌中的密钥")
	}

	info := &TokenInfo{
		KeyID:      parsed.KeyID,
		TailLength: len(parsed.Tail),
		KeyBytes:   len(key),
	}

	if id, err := snowflake.ParseString(parsed.KeyID); err == nil {
		info.IssuedAt = time.UnixMilli(id.Time()).UTC().Format(time.RFC3339Nano)
		info.IssuerNode = id.Node()
	}

	for _, name := range cipherutils.SuiteNames() {
		suite, err := cipherutils.GetSuite(name)
		if err != nil {
			return nil, err
		}
		if suite.KeySize() == len(key) {
			info.CipherSuites = append(info.CipherSuites, name)
		}
	}

	return info, nil
}

func main() {
	var token string
	switch len(os.Args) {
	case 1:
		// Reading from stdin keeps the token out of the shell history
		scanner := bufio.NewScanner(os.Stdin)
		if scanner.Scan() {
			token = scanner.Text()
		}
	case 2:
		token = os.Args[1]
	default:
		fmt.Println("Usage: go run ./cmd/tokeninspect [token]")
		return
	}

	info, err := inspectToken(token)
	if err != nil {
		fmt.Printf("无法解析令牌：%v\n", err)
		os.Exit(1)
	}

	out, err := yaml.Marshal(info)
	if err != nil {
		fmt.Printf("无法序列化令牌信息：%v\n", err)
		os.Exit(1)
	}

	fmt.Print(string(out))
}
