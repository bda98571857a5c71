package event

import (
	"encoding/base64"
	"strings"
	"unicode/utf8"
)

// NewResponse wraps the translated worker output in the envelope the
// request's kind expects. Header names must already be lowercase.
func NewResponse(req *Request, status int, headers map[string][]string, body []byte) *Response {
	resp := &Response{StatusCode: status}

	switch {
	case req.Kind == KindAPIGatewayV2:
		// v2 wants single-value headers with cookies split out.
		resp.Headers = make(map[string]string, len(headers))
		for name, values := range headers {
			if name == "set-cookie" {
				resp.Cookies = append(resp.Cookies, values...)
				continue
			}
			resp.Headers[name] = strings.Join(values, ", ")
		}
	case req.MultiHeader:
		resp.MultiValueHeaders = headers
	default:
		resp.Headers = make(map[string]string, len(headers))
		for name, values := range headers {
			if len(values) > 0 {
				resp.Headers[name] = values[len(values)-1]
			}
		}
	}

	if utf8.Valid(body) {
		resp.Body = string(body)
	} else {
		resp.Body = base64.StdEncoding.EncodeToString(body)
		resp.IsBase64Encoded = true
	}
	return resp
}
