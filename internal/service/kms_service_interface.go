package service

import (
	"context"

	"gitee.com/czyczk/pdproxy/internal/kms"
	"gitee.com/czyczk/pdproxy/internal/models/common"
)

// KMSServiceInterface 定义了用于签发、兑换和撤销 API 密钥的服务的接口。
// 所有者 DID 为空时使用服务器所服务的所有者。
type KMSServiceInterface interface {
	// 签发 API 密钥。
	//
	// 参数：
	//   代理会话（会话 ID 与签发时间为空时自动生成）
	//   请求者 DID
	//   所有者 DID
	//   授予的 scopes
	//
	// 返回：
	//   新签发的 API 密钥
	IssueAPIKey(ctx context.Context, session common.ProxySession, requesterDID, ownerDID string, scopes []kms.Scope) (*common.IssuedAPIKey, error)

	// 兑换 API 密钥。若开启了一次性密钥策略，兑换成功后密钥即被撤销。
	//
	// 参数：
	//   所有者 DID
	//   请求者 DID
	//   Bearer 令牌
	//
	// 返回：
	//   API 密钥所代表的会话与 scopes
	RedeemAPIKey(ctx context.Context, ownerDID, requesterDID, token string) (*kms.Envelope[common.ProxySession], error)

	// 撤销 API 密钥。
	//
	// 参数：
	//   所有者 DID
	//   API 密钥 ID
	RevokeAPIKey(ctx context.Context, ownerDID, keyID string) error

	// 列出所有者名下的 API 密钥 ID。
	//
	// 参数：
	//   所有者 DID
	//
	// 返回：
	//   API 密钥 ID 列表，按签发顺序排列
	ListAPIKeyIDs(ctx context.Context, ownerDID string) ([]string, error)

	// 检查 API 密钥是否授予了对某个端点的访问权。未授予时返回 `errorcode.ErrorForbidden`。
	//
	// 参数：
	//   所有者 DID
	//   请求者 DID
	//   Bearer 令牌
	//   端点路径
	//
	// 返回：
	//   API 密钥所代表的会话与 scopes
	AuthorizeEndpoint(ctx context.Context, ownerDID, requesterDID, token, endpoint string) (*kms.Envelope[common.ProxySession], error)

	// 检查 API 密钥是否授予了对某个 schema 的访问权。未授予时返回 `errorcode.ErrorForbidden`。
	//
	// 参数：
	//   所有者 DID
	//   请求者 DID
	//   Bearer 令牌
	//   schema URI
	//   访问级别
	//
	// 返回：
	//   API 密钥所代表的会话与 scopes
	AuthorizeSchema(ctx context.Context, ownerDID, requesterDID, token, schemaURI string, access kms.Access) (*kms.Envelope[common.ProxySession], error)
}
