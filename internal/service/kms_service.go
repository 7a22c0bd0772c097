package service

import (
	"context"
	"strings"
	"time"

	"gitee.com/czyczk/pdproxy/internal/kms"
	"gitee.com/czyczk/pdproxy/internal/models/common"
	"gitee.com/czyczk/pdproxy/internal/utils/timingutils"
	"gitee.com/czyczk/pdproxy/pkg/errorcode"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// KMSService 用于签发、兑换和撤销 API 密钥。
type KMSService struct {
	Codec           *kms.Codec[common.ProxySession]
	DefaultOwnerDID string        // 请求未指定所有者时使用的所有者 DID
	Timeout         time.Duration // 每次访问密钥材料存储的超时时间。为 0 时不设超时。
	SingleUse       bool          // 为 true 时，API 密钥在第一次兑换成功后即被撤销
}

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
func (s *KMSService) IssueAPIKey(ctx context.Context, session common.ProxySession, requesterDID, ownerDID string, scopes []kms.Scope) (*common.IssuedAPIKey, error) {
	defer timingutils.GetDeferrableTimingLogger("签发 API 密钥")()

	ownerDID = s.ownerOrDefault(ownerDID)
	if strings.TrimSpace(session.SessionID) == "" {
		session.SessionID = common.NewSessionID()
	}
	if session.IssuedAt == 0 {
		session.IssuedAt = time.Now().Unix()
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	token, err := s.Codec.Issue(ctx, session, requesterDID, ownerDID, scopes)
	if err != nil {
		return nil, errors.Wrap(err, "无法签发 API 密钥")
	}

	parsed, err := kms.ParseToken(token)
	if err != nil {
		return nil, errors.Wrap(err, "无法解析新签发的令牌")
	}

	log.WithFields(log.Fields{
		"keyId":     parsed.KeyID,
		"owner":     ownerDID,
		"requester": requesterDID,
		"sessionId": session.SessionID,
		"scopes":    len(scopes),
	}).Info("已签发 API 密钥")

	return &common.IssuedAPIKey{
		KeyID:   parsed.KeyID,
		Token:   token,
		Session: session,
	}, nil
}

// 兑换 API 密钥。若开启了一次性密钥策略，兑换成功后密钥即被撤销。
//
// 参数：
//   所有者 DID
//   请求者 DID
//   Bearer 令牌
//
// 返回：
//   API 密钥所代表的会话与 scopes
func (s *KMSService) RedeemAPIKey(ctx context.Context, ownerDID, requesterDID, token string) (*kms.Envelope[common.ProxySession], error) {
	defer timingutils.GetDeferrableTimingLogger("兑换 API 密钥")()

	ownerDID = s.ownerOrDefault(ownerDID)
	envelope, err := s.redeem(ctx, ownerDID, requesterDID, token)
	if err != nil {
		return nil, err
	}

	if err := s.consume(ctx, ownerDID, token); err != nil {
		return nil, err
	}

	return envelope, nil
}

// 撤销 API 密钥。
//
// 参数：
//   所有者 DID
//   API 密钥 ID
func (s *KMSService) RevokeAPIKey(ctx context.Context, ownerDID, keyID string) error {
	defer timingutils.GetDeferrableTimingLogger("撤销 API 密钥")()

	ownerDID = s.ownerOrDefault(ownerDID)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.Codec.Revoke(ctx, ownerDID, keyID); err != nil {
		return errors.Wrapf(err, "无法撤销 API 密钥 '%v'", keyID)
	}

	log.WithFields(log.Fields{"keyId": keyID, "owner": ownerDID}).Info("已撤销 API 密钥")
	return nil
}

// 列出所有者名下的 API 密钥 ID。
//
// 参数：
//   所有者 DID
//
// 返回：
//   API 密钥 ID 列表，按签发顺序排列
func (s *KMSService) ListAPIKeyIDs(ctx context.Context, ownerDID string) ([]string, error) {
	ownerDID = s.ownerOrDefault(ownerDID)
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ids, err := s.Codec.List(ctx, ownerDID)
	if err != nil {
		return nil, errors.Wrap(err, "无法列出 API 密钥")
	}

	return ids, nil
}

// 检查 API 密钥是否授予了对某个端点的访问权。未授予时返回 `errorcode.ErrorForbidden`。
// 一次性密钥仅在授权成功时被撤销。
func (s *KMSService) AuthorizeEndpoint(ctx context.Context, ownerDID, requesterDID, token, endpoint string) (*kms.Envelope[common.ProxySession], error) {
	defer timingutils.GetDeferrableTimingLogger("检查端点访问权")()

	ownerDID = s.ownerOrDefault(ownerDID)
	envelope, err := s.redeem(ctx, ownerDID, requesterDID, token)
	if err != nil {
		return nil, err
	}

	if !envelope.AllowsEndpoint(endpoint) {
		return nil, errors.Wrapf(errorcode.ErrorForbidden, "API 密钥未授予对端点 '%v' 的访问权", endpoint)
	}

	if err := s.consume(ctx, ownerDID, token); err != nil {
		return nil, err
	}

	return envelope, nil
}

// 检查 API 密钥是否授予了对某个 schema 的访问权。未授予时返回 `errorcode.ErrorForbidden`。
// 一次性密钥仅在授权成功时被撤销。
func (s *KMSService) AuthorizeSchema(ctx context.Context, ownerDID, requesterDID, token, schemaURI string, access kms.Access) (*kms.Envelope[common.ProxySession], error) {
	defer timingutils.GetDeferrableTimingLogger("检查 schema 访问权")()

	ownerDID = s.ownerOrDefault(ownerDID)
	envelope, err := s.redeem(ctx, ownerDID, requesterDID, token)
	if err != nil {
		return nil, err
	}

	if !envelope.AllowsSchema(schemaURI, access) {
		return nil, errors.Wrapf(errorcode.ErrorForbidden, "API 密钥未授予对 schema '%v' 的%v权限", schemaURI, access)
	}

	if err := s.consume(ctx, ownerDID, token); err != nil {
		return nil, err
	}

	return envelope, nil
}

func (s *KMSService) redeem(ctx context.Context, ownerDID, requesterDID, token string) (*kms.Envelope[common.ProxySession], error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	envelope, err := s.Codec.Redeem(ctx, ownerDID, requesterDID, token)
	if err != nil {
		entry := log.WithFields(log.Fields{"owner": ownerDID, "requester": requesterDID})
		switch errors.Cause(err) {
		case errorcode.ErrorIdentityMismatch, errorcode.ErrorEnvelopeCorrupt:
			entry.Warnf("API 密钥兑换被拒绝: %v", err)
		case errorcode.ErrorStoreUnavailable:
			entry.Errorf("无法访问密钥材料存储: %v", err)
		default:
			entry.Debugf("API 密钥兑换失败: %v", err)
		}
		return nil, errors.Wrap(err, "无法兑换 API 密钥")
	}

	return envelope, nil
}

// consume 在开启一次性密钥策略时撤销刚兑换成功的密钥。
// 撤销时密钥已不存在说明另一个请求抢先兑换了它，此时本次兑换视为失败。
func (s *KMSService) consume(ctx context.Context, ownerDID, token string) error {
	if !s.SingleUse {
		return nil
	}

	parsed, err := kms.ParseToken(token)
	if err != nil {
		return err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.Codec.Revoke(ctx, ownerDID, parsed.KeyID); err != nil {
		if errors.Cause(err) == errorcode.ErrorKeyNotFound {
			return errors.Wrap(err, "一次性 API 密钥已被使用")
		}
		return errors.Wrap(err, "无法撤销一次性 API 密钥")
	}

	log.WithFields(log.Fields{"keyId": parsed.KeyID, "owner": ownerDID}).Debug("一次性 API 密钥已被使用")
	return nil
}

func (s *KMSService) ownerOrDefault(ownerDID string) string {
	if strings.TrimSpace(ownerDID) == "" {
		return s.DefaultOwnerDID
	}

	return ownerDID
}

func (s *KMSService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, s.Timeout)
}
