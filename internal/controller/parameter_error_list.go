package controller

import (
	"strings"

	"gitee.com/czyczk/pdproxy/internal/kms"
)

// ParameterErrorList contains a list of human-readable errors about parameters.
type ParameterErrorList []string

// AppendIfEmptyOrBlankSpaces appends the error message specified if `str` is empty or contains only blank spaces.
//
// Parameters:
//   the string to be checked
//   the error message to append
//
// Returns:
//   the trimmed string
func (pel *ParameterErrorList) AppendIfEmptyOrBlankSpaces(str string, errMsg string) string {
	if str = strings.TrimSpace(str); str == "" {
		*pel = append(*pel, errMsg)
	}

	return str
}

// AppendIfNotAccess appends the error message specified if `str` is not an access level name.
//
// Parameters:
//   the string to be checked
//   the error message to append
//
// Returns:
//   the parsed access level or `kms.AccessRead` if there's error
func (pel *ParameterErrorList) AppendIfNotAccess(str string, errMsg string) kms.Access {
	access, err := kms.NewAccessFromString(strings.ToLower(strings.TrimSpace(str)))
	if err != nil {
		*pel = append(*pel, errMsg)
	}

	return access
}

// AppendIfError appends the error message specified followed by the error if `err` is not nil.
func (pel *ParameterErrorList) AppendIfError(err error, errMsg string) {
	if err != nil {
		*pel = append(*pel, errMsg+" "+err.Error())
	}
}
