package kms

import (
	"strings"

	"gitee.com/czyczk/pdproxy/pkg/errorcode"
	"github.com/pkg/errors"
)

// tokenSeparator separates the three fields of a bearer token. Neither record IDs nor base64 contain it.
const tokenSeparator = ":"

// Token is the parsed form of a bearer token `{keyID}:{tail}:{base64 key}`.
//
// The tail (the last `SplitLength` characters of the envelope encoding) and the symmetric key only ever exist in the
// token string. The store holds the rest.
type Token struct {
	KeyID string // ID of the key material record in the owner's store
	Tail  string // Client-held part of the envelope encoding
	Key   string // Base64 encoded symmetric key of the key material
}

// String formats the token in its wire form.
func (t Token) String() string {
	return t.KeyID + tokenSeparator + t.Tail + tokenSeparator + t.Key
}

// ParseToken splits a bearer token into its three fields. It fails with `errorcode.ErrorMalformedToken` unless the
// token has exactly three non-empty fields.
func ParseToken(token string) (*Token, error) {
	fields := strings.Split(token, tokenSeparator)
	if len(fields) != 3 {
		return nil, errors.Wrapf(errorcode.ErrorMalformedToken, "令牌应包含 3 个字段，得到 %v 个", len(fields))
	}

	for i, field := range fields {
		if field == "" {
			return nil, errors.Wrapf(errorcode.ErrorMalformedToken, "令牌的第 %v 个字段为空", i+1)
		}
	}

	return &Token{KeyID: fields[0], Tail: fields[1], Key: fields[2]}, nil
}
