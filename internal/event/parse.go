package event

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
)

// envelope covers the fields of all three payload shapes; which ones are
// set decides the kind.
type envelope struct {
	// API Gateway v2
	Version        string   `json:"version"`
	RawPath        string   `json:"rawPath"`
	RawQueryString string   `json:"rawQueryString"`
	Cookies        []string `json:"cookies"`

	// API Gateway v1 / ALB
	HTTPMethod                      string              `json:"httpMethod"`
	Path                            string              `json:"path"`
	QueryStringParameters           map[string]string   `json:"queryStringParameters"`
	MultiValueQueryStringParameters map[string][]string `json:"multiValueQueryStringParameters"`
	MultiValueHeaders               map[string][]string `json:"multiValueHeaders"`

	Headers         map[string]string `json:"headers"`
	Body            string            `json:"body"`
	IsBase64Encoded bool              `json:"isBase64Encoded"`

	RequestContext json.RawMessage `json:"requestContext"`
}

// requestContext covers the parts of the opaque context the parser needs to
// classify the payload.
type requestContext struct {
	ELB  *struct{} `json:"elb"`
	HTTP *struct {
		Method   string `json:"method"`
		Path     string `json:"path"`
		Protocol string `json:"protocol"`
		SourceIP string `json:"sourceIp"`
	} `json:"http"`
}

// Parse normalizes a platform payload into a Request.
func Parse(payload []byte) (*Request, error) {
	var env envelope
	if err := sonic.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("parse event payload: %w", err)
	}

	var rc requestContext
	if len(env.RequestContext) > 0 {
		if err := sonic.Unmarshal(env.RequestContext, &rc); err != nil {
			return nil, fmt.Errorf("parse request context: %w", err)
		}
	}

	switch {
	case strings.HasPrefix(env.Version, "2.") && rc.HTTP != nil:
		return parseV2(&env, &rc)
	case rc.ELB != nil:
		return parseALB(&env)
	case env.HTTPMethod != "":
		return parseV1(&env)
	default:
		return nil, fmt.Errorf("unrecognized event payload")
	}
}

func parseV2(env *envelope, rc *requestContext) (*Request, error) {
	r := newRequest(env, KindAPIGatewayV2)
	r.Method = rc.HTTP.Method
	r.Path = env.RawPath
	r.QueryString = env.RawQueryString
	if rc.HTTP.Protocol != "" {
		r.Protocol = rc.HTTP.Protocol
	}

	// v2 joins repeated headers with commas and moves cookies aside.
	for name, value := range env.Headers {
		r.Headers[strings.ToLower(name)] = []string{value}
	}
	if len(env.Cookies) > 0 {
		r.Headers["cookie"] = []string{strings.Join(env.Cookies, "; ")}
	}

	finishRequest(r, env)
	return r, nil
}

func parseV1(env *envelope) (*Request, error) {
	r := newRequest(env, KindAPIGatewayV1)
	r.Method = env.HTTPMethod
	r.Path = env.Path
	r.QueryString = encodeQuery(env)
	r.MultiHeader = true

	copyHeaders(r, env)
	finishRequest(r, env)
	return r, nil
}

func parseALB(env *envelope) (*Request, error) {
	r := newRequest(env, KindALB)
	r.Method = env.HTTPMethod
	r.Path = env.Path
	r.QueryString = encodeQuery(env)
	// ALB only accepts multi-value response headers when the target group
	// has multi-value request headers turned on.
	r.MultiHeader = env.MultiValueHeaders != nil

	copyHeaders(r, env)
	finishRequest(r, env)
	return r, nil
}

func newRequest(env *envelope, kind Kind) *Request {
	return &Request{
		Kind:           kind,
		Protocol:       "HTTP/1.1",
		Headers:        make(map[string][]string),
		RequestContext: env.RequestContext,
	}
}

func copyHeaders(r *Request, env *envelope) {
	if env.MultiValueHeaders != nil {
		for name, values := range env.MultiValueHeaders {
			r.Headers[strings.ToLower(name)] = values
		}
		return
	}
	for name, value := range env.Headers {
		r.Headers[strings.ToLower(name)] = []string{value}
	}
}

// finishRequest fills the fields shared by all shapes once method, path,
// query string and headers are in place.
func finishRequest(r *Request, env *envelope) {
	if r.Method == "" {
		r.Method = "GET"
	}
	if r.Path == "" {
		r.Path = "/"
	}

	r.URI = r.Path
	if r.QueryString != "" {
		r.URI += "?" + r.QueryString
	}

	r.ServerName = r.Header("host")
	if r.ServerName == "" {
		r.ServerName = "localhost"
	}
	r.ServerPort = r.Header("x-forwarded-port")
	if r.ServerPort == "" {
		r.ServerPort = "80"
	}
	r.RemotePort = "80"
	r.ContentType = r.Header("content-type")

	if env.IsBase64Encoded {
		if decoded, err := base64.StdEncoding.DecodeString(env.Body); err == nil {
			r.Body = decoded
		}
	} else {
		r.Body = []byte(env.Body)
	}
}

// encodeQuery rebuilds the query string from the parameter maps of the
// v1/ALB shapes, preferring the multi-value form.
func encodeQuery(env *envelope) string {
	if env.MultiValueQueryStringParameters != nil {
		return url.Values(env.MultiValueQueryStringParameters).Encode()
	}
	if env.QueryStringParameters == nil {
		return ""
	}
	values := make(url.Values, len(env.QueryStringParameters))
	for k, v := range env.QueryStringParameters {
		values.Set(k, v)
	}
	return values.Encode()
}
