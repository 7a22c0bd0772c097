// Package kms issues and redeems split-custody API keys.
//
// Issuing a key packs a session descriptor and a list of scopes into an envelope, encodes it and splits the encoding
// in two. The head is encrypted together with the requester's identity under a fresh random key and stored in the
// owner's key material store. The tail and the key are handed to the requester inside the bearer token
//   {recordID}:{tail}:{base64 key}
// The stored record alone cannot reveal the envelope and the token alone cannot be redeemed without the record.
// Redeeming decrypts the record, checks that the caller is the identity the key was issued to and joins the halves.
package kms

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"strings"

	"gitee.com/czyczk/pdproxy/internal/utils/cipherutils"
	"gitee.com/czyczk/pdproxy/pkg/errorcode"
	"github.com/pkg/errors"
)

// DefaultSplitLength is the number of encoded envelope characters that stay with the client. 48 base64 characters
// carry 36 bytes, more than the envelope digest, so a token tail can never be reconstructed from the record.
const DefaultSplitLength = 48

// MaxOwnerDIDLength is the longest owner DID accepted. Owner DIDs are stored in a VARCHAR(255) column and, when
// every owner has its own database, become part of a file name.
const MaxOwnerDIDLength = 200

// keyMaterialSeparator separates the base64 requester identity from the head of the envelope encoding.
const keyMaterialSeparator = ":"

// KeyMaterialStore persists encrypted key material in the namespace of an owner identity.
//
// Implementations report a missing record as `errorcode.ErrorKeyNotFound` and transport failures, timeouts and
// cancellations as `errorcode.ErrorStoreUnavailable`.
type KeyMaterialStore interface {
	// Put stores the ciphertext and returns the ID assigned to the new record. IDs never contain ':'.
	Put(ctx context.Context, ownerDID string, ciphertext string) (string, error)
	// Get returns the ciphertext of a record.
	Get(ctx context.Context, ownerDID string, id string) (string, error)
	// Delete removes a record.
	Delete(ctx context.Context, ownerDID string, id string) error
	// List returns the IDs of all records of an owner.
	List(ctx context.Context, ownerDID string) ([]string, error)
}

// Option configures a `Codec`.
type Option func(*codecOptions) error

type codecOptions struct {
	splitLength int
	serializer  Serializer
	suite       cipherutils.SymmetricCipher
}

// WithSplitLength sets the number of encoded characters carried by the token instead of the store.
func WithSplitLength(splitLength int) Option {
	return func(o *codecOptions) error {
		if splitLength <= 0 {
			return errors.Errorf("分割长度必须为正整数，得到 %v", splitLength)
		}
		o.splitLength = splitLength
		return nil
	}
}

// WithSerializer sets the serializer of the envelope.
func WithSerializer(serializer Serializer) Option {
	return func(o *codecOptions) error {
		if serializer == nil {
			return errors.New("序列化器不能为 nil")
		}
		o.serializer = serializer
		return nil
	}
}

// WithCipherSuite sets the cipher suite used to seal new key material. Key material sealed by any supported suite
// can still be redeemed.
func WithCipherSuite(suite cipherutils.SymmetricCipher) Option {
	return func(o *codecOptions) error {
		if suite == nil {
			return errors.New("加密套件不能为 nil")
		}
		o.suite = suite
		return nil
	}
}

// Codec issues, redeems and revokes API keys whose envelopes carry sessions of type `S`.
// A Codec is safe for concurrent use if its store is.
type Codec[S any] struct {
	store       KeyMaterialStore
	splitLength int
	serializer  Serializer
	suite       cipherutils.SymmetricCipher
}

// NewCodec creates a codec backed by `store`. Without options it uses `DefaultSplitLength`, JSON and AES-256-GCM.
func NewCodec[S any](store KeyMaterialStore, opts ...Option) (*Codec[S], error) {
	if store == nil {
		return nil, errors.New("密钥材料存储不能为 nil")
	}

	defaultSuite, err := cipherutils.GetSuite(cipherutils.SuiteAES256GCM)
	if err != nil {
		return nil, err
	}

	o := &codecOptions{
		splitLength: DefaultSplitLength,
		serializer:  JSONSerializer{},
		suite:       defaultSuite,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	return &Codec[S]{
		store:       store,
		splitLength: o.splitLength,
		serializer:  o.serializer,
		suite:       o.suite,
	}, nil
}

// SplitLength returns the number of encoded characters carried by tokens.
func (c *Codec[S]) SplitLength() int {
	return c.splitLength
}

// Issue creates an API key granting `scopes` to `requesterDID`, stores its key material in the namespace of
// `ownerDID` and returns the bearer token. The token is the only artifact that can reconstruct the envelope.
//
// Fails with `errorcode.ErrorEncodingTooShort` if the encoded envelope is not longer than the split length.
func (c *Codec[S]) Issue(ctx context.Context, session S, requesterDID, ownerDID string, scopes []Scope) (string, error) {
	if strings.TrimSpace(requesterDID) == "" {
		return "", errors.Wrap(errorcode.ErrorBadRequest, "请求者 DID 不能为空")
	}
	if err := checkOwnerDID(ownerDID); err != nil {
		return "", err
	}

	encoded, err := encodeEnvelope(c.serializer, &Envelope[S]{Session: session, Scopes: scopes})
	if err != nil {
		return "", errors.Wrap(errorcode.ErrorBadRequest, err.Error())
	}

	if len(encoded) <= c.splitLength {
		return "", errors.Wrapf(errorcode.ErrorEncodingTooShort, "会话编码长度 %v 不大于分割长度 %v", len(encoded), c.splitLength)
	}

	head, tail := encoded[:len(encoded)-c.splitLength], encoded[len(encoded)-c.splitLength:]
	keyMaterial := base64.StdEncoding.EncodeToString([]byte(requesterDID)) + keyMaterialSeparator + head

	key, err := cipherutils.RandomKey(c.suite.KeySize())
	if err != nil {
		return "", err
	}

	sealed, err := c.suite.Encrypt([]byte(keyMaterial), key)
	if err != nil {
		return "", errors.Wrap(err, "无法加密密钥材料")
	}

	recordID, err := c.store.Put(ctx, ownerDID, base64.StdEncoding.EncodeToString(sealed))
	if err != nil {
		return "", err
	}

	token := Token{
		KeyID: recordID,
		Tail:  tail,
		Key:   base64.StdEncoding.EncodeToString(key),
	}

	return token.String(), nil
}

// Redeem reconstructs the envelope of a token issued to `requesterDID` by `ownerDID`. It has no side effects and may
// be called any number of times until the key is revoked.
//
// Errors, by cause:
//   errorcode.ErrorMalformedToken   the token is not `id:tail:base64key`
//   errorcode.ErrorKeyNotFound      the record does not exist or was revoked
//   errorcode.ErrorStoreUnavailable the store could not be reached
//   errorcode.ErrorDecryption       wrong key or corrupted ciphertext
//   errorcode.ErrorIdentityMismatch the key was issued to another identity
//   errorcode.ErrorEnvelopeCorrupt  the halves do not form a valid envelope
func (c *Codec[S]) Redeem(ctx context.Context, ownerDID, requesterDID, token string) (*Envelope[S], error) {
	if err := checkOwnerDID(ownerDID); err != nil {
		return nil, err
	}

	parsed, err := ParseToken(token)
	if err != nil {
		return nil, err
	}

	key, err := base64.StdEncoding.DecodeString(parsed.Key)
	if err != nil {
		return nil, errors.Wrap(errorcode.ErrorMalformedToken, "无法解码令牌中的密钥")
	}

	ciphertext, err := c.store.Get(ctx, ownerDID, parsed.KeyID)
	if err != nil {
		return nil, err
	}

	sealed, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, errors.Wrap(errorcode.ErrorDecryption, "无法解码密钥材料密文")
	}

	keyMaterial, err := cipherutils.DecryptAny(sealed, key)
	if err != nil {
		return nil, errors.Wrap(errorcode.ErrorDecryption, err.Error())
	}

	requesterPart, head, found := strings.Cut(string(keyMaterial), keyMaterialSeparator)
	if !found {
		return nil, errors.Wrap(errorcode.ErrorEnvelopeCorrupt, "密钥材料格式不正确")
	}

	embeddedDID, err := base64.StdEncoding.DecodeString(requesterPart)
	if err != nil {
		return nil, errors.Wrap(errorcode.ErrorEnvelopeCorrupt, "无法解码密钥材料中的请求者 DID")
	}

	if subtle.ConstantTimeCompare(embeddedDID, []byte(requesterDID)) != 1 {
		return nil, errors.Wrapf(errorcode.ErrorIdentityMismatch, "API 密钥 %v 不属于请求者 %v", parsed.KeyID, requesterDID)
	}

	envelope, err := decodeEnvelope[S](c.serializer, head+parsed.Tail)
	if err != nil {
		return nil, errors.Wrap(errorcode.ErrorEnvelopeCorrupt, err.Error())
	}

	return envelope, nil
}

// Revoke deletes the key material of an API key. Every later redemption fails with `errorcode.ErrorKeyNotFound`.
// Revoking a key twice fails with `errorcode.ErrorKeyNotFound`; callers decide whether that matters.
func (c *Codec[S]) Revoke(ctx context.Context, ownerDID, keyID string) error {
	if err := checkOwnerDID(ownerDID); err != nil {
		return err
	}
	if strings.TrimSpace(keyID) == "" || strings.Contains(keyID, tokenSeparator) {
		return errors.Wrap(errorcode.ErrorKeyNotFound, "API 密钥 ID 不正确")
	}

	return c.store.Delete(ctx, ownerDID, keyID)
}

// List returns the IDs of the API keys issued in the namespace of `ownerDID`.
func (c *Codec[S]) List(ctx context.Context, ownerDID string) ([]string, error) {
	if err := checkOwnerDID(ownerDID); err != nil {
		return nil, err
	}

	return c.store.List(ctx, ownerDID)
}

func checkOwnerDID(ownerDID string) error {
	if strings.TrimSpace(ownerDID) == "" {
		return errors.Wrap(errorcode.ErrorBadRequest, "所有者 DID 不能为空")
	}
	if len(ownerDID) > MaxOwnerDIDLength {
		return errors.Wrapf(errorcode.ErrorBadRequest, "所有者 DID 长度不能超过 %v", MaxOwnerDIDLength)
	}

	return nil
}
