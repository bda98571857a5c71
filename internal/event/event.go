// Package event normalizes the HTTP payloads delivered by the platform
// (API Gateway v1, API Gateway v2 and ALB) into one request shape, and
// formats responses back into the matching envelope.
package event

import (
	"encoding/json"
	"strings"
)

// Kind identifies which envelope delivered the request.
type Kind int

const (
	KindAPIGatewayV1 Kind = iota
	KindAPIGatewayV2
	KindALB
)

func (k Kind) String() string {
	switch k {
	case KindAPIGatewayV1:
		return "apigateway-v1"
	case KindAPIGatewayV2:
		return "apigateway-v2"
	case KindALB:
		return "alb"
	default:
		return "unknown"
	}
}

// Request is the normalized HTTP request carried by one invocation.
// Header names are lowercase; values keep their original order.
type Request struct {
	Kind        Kind
	Method      string
	URI         string
	Path        string
	QueryString string
	Protocol    string
	ServerName  string
	ServerPort  string
	RemotePort  string
	Headers     map[string][]string
	ContentType string
	Body        []byte

	// MultiHeader selects the multi-value response-header encoding.
	MultiHeader bool

	// RequestContext is the envelope's opaque request context, verbatim.
	RequestContext json.RawMessage
}

// Header returns the first value of the named header, or "".
func (r *Request) Header(name string) string {
	if vs := r.Headers[strings.ToLower(name)]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Response is the bridge's answer in platform shape. Exactly one of Headers
// and MultiValueHeaders is populated, per the request's MultiHeader mode.
type Response struct {
	StatusCode        int                 `json:"statusCode"`
	Headers           map[string]string   `json:"headers,omitempty"`
	MultiValueHeaders map[string][]string `json:"multiValueHeaders,omitempty"`
	Cookies           []string            `json:"cookies,omitempty"`
	Body              string              `json:"body"`
	IsBase64Encoded   bool                `json:"isBase64Encoded"`
}
