package controller

// GeneralResponse is the body sent by an endpoint handler when a request fails.
type GeneralResponse struct {
	errors ParameterErrorList
	msg    string
	code   string
}

// NewFromErrors fills a GeneralResponse with errors.
func (gr *GeneralResponse) NewFromErrors(errors *ParameterErrorList) {
	gr.errors = *errors
}

// NewFromMsg fills a GeneralResponse with a string message and the error code of its cause.
func (gr *GeneralResponse) NewFromMsg(code, msg string) {
	gr.code = code
	gr.msg = msg
}

// ToMap converts this struct to a map.
func (gr *GeneralResponse) ToMap() map[string]interface{} {
	ret := map[string]interface{}{
		"errors": gr.errors,
		"msg":    gr.msg,
	}
	if gr.code != "" {
		ret["code"] = gr.code
	}

	return ret
}
