package common

import "github.com/google/uuid"

// ProxySession 表示 API 密钥所代表的代理会话，由签发密钥的应用定义，对 KMS 不透明。
type ProxySession struct {
	SessionID  string   `json:"sessionId"`           // 会话 ID
	ClientName string   `json:"clientName"`          // 申请 API 密钥的第三方应用名称
	Purpose    string   `json:"purpose,omitempty"`   // 申请理由
	IssuedAt   int64    `json:"issuedAt"`            // 签发时间（Unix 秒）
	Providers  []string `json:"providers,omitempty"` // 会话可访问的数据来源
}

// NewSessionID 生成一个随机的会话 ID。
func NewSessionID() string {
	return uuid.NewString()
}

// IssuedAPIKey 表示一个新签发的 API 密钥。
type IssuedAPIKey struct {
	KeyID   string       `json:"keyId"`   // 密钥材料记录的 ID，撤销密钥时使用
	Token   string       `json:"token"`   // Bearer 令牌，仅在签发时返回一次
	Session ProxySession `json:"session"` // 密钥所代表的会话
}
