package main

import (
	"testing"

	"gitee.com/czyczk/pdproxy/internal/kms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScopeFlag(t *testing.T) {
	scope, err := parseScopeFlag("endpoint=/api/v1/inbox/")
	require.NoError(t, err)
	assert.Equal(t, kms.EndpointScope{Endpoint: "/api/v1/inbox/"}, scope)

	scope, err = parseScopeFlag("schema:write=https://schema.org/Message")
	require.NoError(t, err)
	assert.Equal(t, kms.SchemaScope{SchemaURI: "https://schema.org/Message", Access: kms.AccessWrite}, scope)

	for _, flag := range []string{"", "endpoint", "endpoint=", "schema=https://schema.org/Message", "schema:admin=https://schema.org/Message", "webhook=/hook"} {
		_, err := parseScopeFlag(flag)
		assert.Error(t, err, flag)
	}
}
