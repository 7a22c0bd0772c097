package errorcode

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	// CodeForbidden means the parameters were understood but the caller may not perform the operation.
	CodeForbidden = "~FORBIDDEN~"
	// CodeBadRequest means the caller supplied parameters the operation cannot accept.
	CodeBadRequest = "~BADREQUEST~"

	// CodeEncodingTooShort means the encoded envelope is not longer than the split length.
	CodeEncodingTooShort = "~ENCODINGTOOSHORT~"
	// CodeMalformedToken means the bearer token does not parse into `id:tail:key`.
	CodeMalformedToken = "~MALFORMEDTOKEN~"
	// CodeKeyNotFound means the key material record is missing or revoked.
	CodeKeyNotFound = "~KEYNOTFOUND~"
	// CodeDecryption means the key material could not be decrypted (wrong key or corrupted ciphertext).
	CodeDecryption = "~DECRYPTION~"
	// CodeIdentityMismatch means the redeeming identity is not the identity the token was issued to.
	CodeIdentityMismatch = "~IDENTITYMISMATCH~"
	// CodeEnvelopeCorrupt means the envelope could not be reconstructed after a successful decryption.
	CodeEnvelopeCorrupt = "~ENVELOPECORRUPT~"
	// CodeStoreUnavailable means the key material store could not be reached in time. Retryable.
	CodeStoreUnavailable = "~STOREUNAVAILABLE~"
)

// ErrorForbidden 为使用了 `CodeForbidden` 的 error 实例
var ErrorForbidden = fmt.Errorf(CodeForbidden)

// ErrorBadRequest 为使用了 `CodeBadRequest` 的 error 实例
var ErrorBadRequest = fmt.Errorf(CodeBadRequest)

var (
	ErrorEncodingTooShort = fmt.Errorf(CodeEncodingTooShort)
	ErrorMalformedToken   = fmt.Errorf(CodeMalformedToken)
	ErrorKeyNotFound      = fmt.Errorf(CodeKeyNotFound)
	ErrorDecryption       = fmt.Errorf(CodeDecryption)
	ErrorIdentityMismatch = fmt.Errorf(CodeIdentityMismatch)
	ErrorEnvelopeCorrupt  = fmt.Errorf(CodeEnvelopeCorrupt)
	ErrorStoreUnavailable = fmt.Errorf(CodeStoreUnavailable)
)

// IsRetryable reports whether the operation that produced `err` may succeed when retried with backoff.
// Only store unavailability is transient; every other kind describes the token or the request itself.
func IsRetryable(err error) bool {
	return errors.Cause(err) == ErrorStoreUnavailable
}
