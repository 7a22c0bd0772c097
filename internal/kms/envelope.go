package kms

import (
	"crypto/subtle"
	"encoding/base64"
	"path"
	"strings"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
)

// digestSize is the number of BLAKE3 bytes appended to the serialized envelope before it is base64 encoded.
// It makes any change to the client-held half of the encoding detectable.
const digestSize = 16

// strictBase64 rejects non-zero padding bits so that every character of an encoding matters.
var strictBase64 = base64.StdEncoding.Strict()

// Envelope is the plaintext packed into an API key: the issuing application's session descriptor and the scopes
// granted to the requester.
type Envelope[S any] struct {
	Session S         `json:"session"`
	Scopes  ScopeList `json:"scopes"`
}

type envelopeWire[S any] struct {
	Session S           `json:"session"`
	Scopes  []scopeWire `json:"scopes"`
}

// AllowsEndpoint reports whether an endpoint scope of the envelope grants `endpoint`. A scope endpoint ending with
// "/" grants every path below it. Paths that are not in canonical form (percent escapes, backslashes, empty, "." or
// ".." segments) are never granted.
func (e *Envelope[S]) AllowsEndpoint(endpoint string) bool {
	if !isCanonicalEndpoint(endpoint) {
		return false
	}

	for _, scope := range e.Scopes {
		switch s := scope.(type) {
		case EndpointScope:
			if s.Endpoint == endpoint {
				return true
			}
			if strings.HasSuffix(s.Endpoint, "/") && strings.HasPrefix(endpoint, s.Endpoint) {
				return true
			}
		case SchemaScope:
		default:
			panic(errors.Errorf("未处理的 scope 类型 %T", scope))
		}
	}

	return false
}

// isCanonicalEndpoint 判断路径是否已是规范形式，即 `path.Clean` 不会改变它（末尾的 "/" 除外）。
func isCanonicalEndpoint(endpoint string) bool {
	if endpoint == "" || strings.ContainsAny(endpoint, "%\\") {
		return false
	}

	cleaned := path.Clean(endpoint)
	if strings.HasSuffix(endpoint, "/") && cleaned != "/" {
		cleaned += "/"
	}
	if cleaned != endpoint {
		return false
	}

	for _, segment := range strings.Split(endpoint, "/") {
		if segment == ".." {
			return false
		}
	}

	return true
}

// AllowsSchema reports whether a schema scope of the envelope grants `access` on `schemaURI`. Write access implies
// read access.
func (e *Envelope[S]) AllowsSchema(schemaURI string, access Access) bool {
	for _, scope := range e.Scopes {
		switch s := scope.(type) {
		case SchemaScope:
			if s.SchemaURI != schemaURI {
				continue
			}
			if s.Access == AccessWrite || s.Access == access {
				return true
			}
		case EndpointScope:
		default:
			panic(errors.Errorf("未处理的 scope 类型 %T", scope))
		}
	}

	return false
}

// SchemaFilters returns the filters of every schema scope that grants `access` on `schemaURI`. A nil entry means
// the scope is unfiltered.
func (e *Envelope[S]) SchemaFilters(schemaURI string, access Access) []map[string]interface{} {
	var ret []map[string]interface{}
	for _, scope := range e.Scopes {
		switch s := scope.(type) {
		case SchemaScope:
			if s.SchemaURI == schemaURI && (s.Access == AccessWrite || s.Access == access) {
				ret = append(ret, s.Filter)
			}
		case EndpointScope:
		default:
			panic(errors.Errorf("未处理的 scope 类型 %T", scope))
		}
	}

	return ret
}

// encodeEnvelope serializes the envelope, appends its digest and base64 encodes the result.
func encodeEnvelope[S any](serializer Serializer, envelope *Envelope[S]) (string, error) {
	wires, err := scopesToWire(envelope.Scopes)
	if err != nil {
		return "", errors.Wrap(err, "无法序列化 scopes")
	}

	serialized, err := serializer.Marshal(&envelopeWire[S]{Session: envelope.Session, Scopes: wires})
	if err != nil {
		return "", errors.Wrap(err, "无法序列化会话")
	}

	digest := blake3.Sum256(serialized)
	frame := append(serialized, digest[:digestSize]...)

	return strictBase64.EncodeToString(frame), nil
}

// decodeEnvelope reverses `encodeEnvelope`. Every failure is a corrupt envelope.
func decodeEnvelope[S any](serializer Serializer, encoded string) (*Envelope[S], error) {
	frame, err := strictBase64.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "无法解码会话")
	}

	if len(frame) < digestSize {
		return nil, errors.New("会话编码长度太短")
	}

	serialized, digest := frame[:len(frame)-digestSize], frame[len(frame)-digestSize:]
	expected := blake3.Sum256(serialized)
	if subtle.ConstantTimeCompare(digest, expected[:digestSize]) != 1 {
		return nil, errors.New("会话摘要不匹配")
	}

	var wire envelopeWire[S]
	if err := serializer.Unmarshal(serialized, &wire); err != nil {
		return nil, errors.Wrap(err, "无法解析会话")
	}

	scopes, err := scopesFromWire(wire.Scopes)
	if err != nil {
		return nil, errors.Wrap(err, "无法解析 scopes")
	}

	return &Envelope[S]{Session: wire.Session, Scopes: scopes}, nil
}
