package controller

import (
	"net/http"

	"gitee.com/czyczk/pdproxy/internal/kms"
	"gitee.com/czyczk/pdproxy/internal/service"
	"github.com/gin-gonic/gin"
)

// A KeyController contains a group name and a `KMSService` instance. It also implements the interface `Controller`.
type KeyController struct {
	GroupName string
	KMSSvc    service.KMSServiceInterface
}

// GetGroupName returns the group name.
func (c *KeyController) GetGroupName() string {
	return c.GroupName
}

// GetEndpointMap implements part of the interface `Controller`. It returns the API endpoints and handlers which are defined and managed by KeyController.
func (c *KeyController) GetEndpointMap() EndpointMap {
	return EndpointMap{
		urlMethodPair{"", "POST"}:          []gin.HandlerFunc{c.handleIssueKey},
		urlMethodPair{"", "GET"}:           []gin.HandlerFunc{c.handleListKeys},
		urlMethodPair{"redeem", "POST"}:    []gin.HandlerFunc{c.handleRedeemKey},
		urlMethodPair{"authorize", "POST"}: []gin.HandlerFunc{c.handleAuthorize},
		urlMethodPair{":id", "DELETE"}:     []gin.HandlerFunc{c.handleRevokeKey},
	}
}

func (c *KeyController) handleIssueKey(ctx *gin.Context) {
	// Validity check
	pel := &ParameterErrorList{}

	var req IssueKeyRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		pel.AppendIfError(err, "无法解析请求体。")
		abortWithParameterErrors(ctx, pel)
		return
	}

	requesterDID := pel.AppendIfEmptyOrBlankSpaces(req.RequesterDID, "请求者 DID 不能为空。")
	pel.AppendIfEmptyOrBlankSpaces(req.Session.ClientName, "应用名称不能为空。")
	scopes, err := kms.ScopesFromMaps(req.Scopes)
	pel.AppendIfError(err, "不正确的 scopes。")

	// Early return if there's parameter error
	if len(*pel) > 0 {
		abortWithParameterErrors(ctx, pel)
		return
	}

	issued, err := c.KMSSvc.IssueAPIKey(ctx.Request.Context(), req.Session, requesterDID, req.OwnerDID, scopes)
	if err != nil {
		abortWithError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, issued)
}

func (c *KeyController) handleRedeemKey(ctx *gin.Context) {
	// Validity check
	pel := &ParameterErrorList{}

	token := pel.AppendIfEmptyOrBlankSpaces(extractToken(ctx), "API 密钥不能为空。")
	requesterDID := pel.AppendIfEmptyOrBlankSpaces(formOrQuery(ctx, "requesterDid"), "请求者 DID 不能为空。")
	ownerDID := formOrQuery(ctx, "ownerDid")

	// Early return if there's parameter error
	if len(*pel) > 0 {
		abortWithParameterErrors(ctx, pel)
		return
	}

	envelope, err := c.KMSSvc.RedeemAPIKey(ctx.Request.Context(), ownerDID, requesterDID, token)
	if err != nil {
		abortWithError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, envelope)
}

// handleAuthorize checks a token against either an endpoint or a schema URI with an access level. An endpoint check
// answers 204. A schema check answers 200 with the filters of the granting scopes.
func (c *KeyController) handleAuthorize(ctx *gin.Context) {
	// Validity check
	pel := &ParameterErrorList{}

	token := pel.AppendIfEmptyOrBlankSpaces(extractToken(ctx), "API 密钥不能为空。")
	requesterDID := pel.AppendIfEmptyOrBlankSpaces(formOrQuery(ctx, "requesterDid"), "请求者 DID 不能为空。")
	ownerDID := formOrQuery(ctx, "ownerDid")

	endpoint := formOrQuery(ctx, "endpoint")
	schemaURI := formOrQuery(ctx, "schemaUri")
	var access kms.Access
	if endpoint == "" {
		schemaURI = pel.AppendIfEmptyOrBlankSpaces(schemaURI, "endpoint 与 schemaUri 不能同时为空。")
		access = pel.AppendIfNotAccess(formOrQuery(ctx, "access"), "访问级别须为 read 或 write。")
	} else if schemaURI != "" {
		*pel = append(*pel, "endpoint 与 schemaUri 只能指定一个。")
	}

	// Early return if there's parameter error
	if len(*pel) > 0 {
		abortWithParameterErrors(ctx, pel)
		return
	}

	if endpoint != "" {
		if _, err := c.KMSSvc.AuthorizeEndpoint(ctx.Request.Context(), ownerDID, requesterDID, token, endpoint); err != nil {
			abortWithError(ctx, err)
			return
		}

		ctx.Writer.WriteHeader(http.StatusNoContent)
		return
	}

	envelope, err := c.KMSSvc.AuthorizeSchema(ctx.Request.Context(), ownerDID, requesterDID, token, schemaURI, access)
	if err != nil {
		abortWithError(ctx, err)
		return
	}

	// 调用者需按这些过滤条件限制可访问的文档
	ctx.JSON(http.StatusOK, SchemaGrant{Filters: envelope.SchemaFilters(schemaURI, access)})
}

func (c *KeyController) handleListKeys(ctx *gin.Context) {
	ids, err := c.KMSSvc.ListAPIKeyIDs(ctx.Request.Context(), ctx.Query("ownerDid"))
	if err != nil {
		abortWithError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, KeyIDList{KeyIDs: ids})
}

func (c *KeyController) handleRevokeKey(ctx *gin.Context) {
	// Validity check
	pel := &ParameterErrorList{}
	id := pel.AppendIfEmptyOrBlankSpaces(ctx.Param("id"), "API 密钥 ID 不能为空。")

	// Early return if there's parameter error
	if len(*pel) > 0 {
		abortWithParameterErrors(ctx, pel)
		return
	}

	if err := c.KMSSvc.RevokeAPIKey(ctx.Request.Context(), ctx.Query("ownerDid"), id); err != nil {
		abortWithError(ctx, err)
		return
	}

	ctx.Writer.WriteHeader(http.StatusNoContent)
}
