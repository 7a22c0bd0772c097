package controller

import (
	"net/http"
	"strings"

	"gitee.com/czyczk/pdproxy/pkg/errorcode"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// retryAfterSeconds is sent in the `Retry-After` header when the key material store is unavailable.
const retryAfterSeconds = "1"

var errorStatusMap = map[error]int{
	errorcode.ErrorBadRequest:       http.StatusBadRequest,
	errorcode.ErrorMalformedToken:   http.StatusBadRequest,
	errorcode.ErrorEncodingTooShort: http.StatusUnprocessableEntity,
	errorcode.ErrorKeyNotFound:      http.StatusNotFound,
	errorcode.ErrorDecryption:       http.StatusUnauthorized,
	errorcode.ErrorEnvelopeCorrupt:  http.StatusUnauthorized,
	errorcode.ErrorIdentityMismatch: http.StatusForbidden,
	errorcode.ErrorForbidden:        http.StatusForbidden,
	errorcode.ErrorStoreUnavailable: http.StatusServiceUnavailable,
}

// statusFromError maps the cause of an error to an HTTP status code.
func statusFromError(err error) int {
	if status, ok := errorStatusMap[errors.Cause(err)]; ok {
		return status
	}

	return http.StatusInternalServerError
}

// abortWithError aborts the request with the status matching the cause of `err`.
func abortWithError(ctx *gin.Context, err error) {
	status := statusFromError(err)

	code := ""
	if _, ok := errorStatusMap[errors.Cause(err)]; ok {
		code = strings.Trim(errors.Cause(err).Error(), "~")
	}

	if errorcode.IsRetryable(err) {
		ctx.Header("Retry-After", retryAfterSeconds)
	}
	if status >= http.StatusInternalServerError {
		log.WithField("requestId", ctx.GetString(requestIDKey)).Errorf("请求处理失败: %v", err)
	}

	gr := &GeneralResponse{}
	gr.NewFromMsg(code, err.Error())
	ctx.AbortWithStatusJSON(status, gr.ToMap())
}

// abortWithParameterErrors aborts the request with 400 and the list of parameter errors.
func abortWithParameterErrors(ctx *gin.Context, pel *ParameterErrorList) {
	gr := &GeneralResponse{}
	gr.NewFromErrors(pel)
	ctx.AbortWithStatusJSON(http.StatusBadRequest, gr.ToMap())
}
