package controller

import "gitee.com/czyczk/pdproxy/internal/models/common"

// IssueKeyRequest 为签发 API 密钥的请求体
type IssueKeyRequest struct {
	RequesterDID string                   `json:"requesterDid"` // 请求者 DID
	OwnerDID     string                   `json:"ownerDid"`     // 所有者 DID（可选，默认为服务器所服务的所有者）
	Session      common.ProxySession      `json:"session"`      // 代理会话
	Scopes       []map[string]interface{} `json:"scopes"`       // 授予的 scopes
}

// KeyIDList 包含所有者名下的 API 密钥 ID
type KeyIDList struct {
	KeyIDs []string `json:"keyIds"`
}

// SchemaGrant 为 schema 授权检查的结果。Filters 中的每一项对应一个授予访问权的 scope，null 表示该 scope 不限制文档。
type SchemaGrant struct {
	Filters []map[string]interface{} `json:"filters"`
}
