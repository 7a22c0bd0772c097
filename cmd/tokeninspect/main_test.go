package main

import (
	"context"
	"testing"

	"gitee.com/czyczk/pdproxy/internal/db"
	"gitee.com/czyczk/pdproxy/internal/kms"
	"gitee.com/czyczk/pdproxy/internal/utils/cipherutils"
	"gitee.com/czyczk/pdproxy/internal/utils/idutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspectToken(t *testing.T) {
	suite, err := cipherutils.GetSuite(cipherutils.SuiteSM4GCM)
	require.NoError(t, err)
	codec, err := kms.NewCodec[map[string]string](db.NewMemoryKeyMaterialStore(), kms.WithCipherSuite(suite))
	require.NoError(t, err)

	token, err := codec.Issue(context.Background(), map[string]string{"client": "mailer", "purpose": "sync the inbox"}, "did:req:1", "did:owner:1", nil)
	require.NoError(t, err)

	info, err := inspectToken(token + "\n")
	require.NoError(t, err)

	parsed, err := kms.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, parsed.KeyID, info.KeyID)
	assert.Equal(t, kms.DefaultSplitLength, info.TailLength)
	assert.Equal(t, 16, info.KeyBytes)
	assert.Equal(t, []string{cipherutils.SuiteSM4GCM}, info.CipherSuites)
	assert.Equal(t, idutils.NodeID, info.IssuerNode)
	assert.NotEmpty(t, info.IssuedAt)
}

func TestInspectTokenRejectsMalformedTokens(t *testing.T) {
	for _, token := range []string{"", "a:b", "1:tail:not*base64"} {
		_, err := inspectToken(token)
		assert.Error(t, err, token)
	}
}
