package controller

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// "+" sign in URL should be kept unchanged (instead of being changed into a " ") for Base64 encoded strings.
func processBase64FromURLQuery(parameterValue string) string {
	return strings.ReplaceAll(parameterValue, " ", "+")
}

// extractToken gets the bearer token from the `Authorization` header, the `token` form field or the `token` query
// parameter, in that order.
func extractToken(ctx *gin.Context) string {
	if auth := ctx.GetHeader("Authorization"); auth != "" {
		const prefix = "bearer "
		if len(auth) > len(prefix) && strings.EqualFold(auth[:len(prefix)], prefix) {
			return strings.TrimSpace(auth[len(prefix):])
		}
	}

	if token, ok := ctx.GetPostForm("token"); ok {
		return token
	}

	return processBase64FromURLQuery(ctx.Query("token"))
}

// formOrQuery gets a parameter from the form, falling back to the query string.
func formOrQuery(ctx *gin.Context, key string) string {
	if value, ok := ctx.GetPostForm(key); ok {
		return value
	}

	return ctx.Query(key)
}
