package cache

import (
	"net/http"
)

// AddConditionalHeaders adds If-None-Match to the request when a validator
// token from a previous response is known.
func AddConditionalHeaders(req *http.Request, validator string) {
	if req == nil || validator == "" {
		return
	}
	req.Header.Set("If-None-Match", validator)
}

// ValidatorFromHeaders returns the ETag of a response, if any.
func ValidatorFromHeaders(headers http.Header) string {
	if headers == nil {
		return ""
	}
	return headers.Get("ETag")
}

// IsNotModified reports whether a response confirms the cached copy.
func IsNotModified(resp *http.Response) bool {
	return resp != nil && resp.StatusCode == http.StatusNotModified
}
