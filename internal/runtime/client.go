package runtime

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"
)

const apiVersion = "2018-06-01"

// Invocation is one event fetched from the runtime API.
type Invocation struct {
	Payload []byte
	Context Context
}

// Client is a runtime-API client. The next-invocation call long-polls with
// no timeout; the platform freezes the sandbox between invocations.
type Client struct {
	base string
	http *fasthttp.Client
}

// NewClient creates a client for the given runtime API address (host:port,
// from AWS_LAMBDA_RUNTIME_API).
func NewClient(api string) *Client {
	return &Client{
		base: "http://" + api + "/" + apiVersion + "/runtime",
		http: &fasthttp.Client{},
	}
}

// Next blocks until the platform delivers the next invocation.
func (c *Client) Next() (*Invocation, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.base + "/invocation/next")
	if err := c.http.Do(req, resp); err != nil {
		return nil, fmt.Errorf("fetch next invocation: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("fetch next invocation: status %d", resp.StatusCode())
	}

	inv := &Invocation{
		Payload: append([]byte(nil), resp.Body()...),
		Context: Context{
			AwsRequestID:       string(resp.Header.Peek("Lambda-Runtime-Aws-Request-Id")),
			InvokedFunctionArn: string(resp.Header.Peek("Lambda-Runtime-Invoked-Function-Arn")),
			TraceID:            string(resp.Header.Peek("Lambda-Runtime-Trace-Id")),
		},
	}
	if ms := string(resp.Header.Peek("Lambda-Runtime-Deadline-Ms")); ms != "" {
		deadline, err := strconv.ParseInt(ms, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid deadline header %q: %w", ms, err)
		}
		inv.Context.DeadlineMs = deadline
	}
	if cc := resp.Header.Peek("Lambda-Runtime-Client-Context"); len(cc) > 0 {
		setExtra(&inv.Context, "clientContext", cc)
	}
	if id := resp.Header.Peek("Lambda-Runtime-Cognito-Identity"); len(id) > 0 {
		setExtra(&inv.Context, "identity", id)
	}
	return inv, nil
}

func setExtra(c *Context, key string, raw []byte) {
	if c.Extra == nil {
		c.Extra = make(map[string]json.RawMessage, 2)
	}
	c.Extra[key] = append(json.RawMessage(nil), raw...)
}

// PostResponse delivers the invocation result.
func (c *Client) PostResponse(requestID string, body []byte) error {
	return c.post(c.base+"/invocation/"+requestID+"/response", body, "")
}

// PostError reports an invocation failure.
func (c *Client) PostError(requestID, errType, message string) error {
	body, err := errorBody(errType, message)
	if err != nil {
		return err
	}
	return c.post(c.base+"/invocation/"+requestID+"/error", body, errType)
}

// PostInitError reports a startup failure; the platform tears the sandbox
// down afterwards.
func (c *Client) PostInitError(errType, message string) error {
	body, err := errorBody(errType, message)
	if err != nil {
		return err
	}
	return c.post(c.base+"/init/error", body, errType)
}

func (c *Client) post(uri string, body []byte, errType string) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(uri)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if errType != "" {
		req.Header.Set("Lambda-Runtime-Function-Error-Type", errType)
	}
	req.SetBody(body)

	if err := c.http.Do(req, resp); err != nil {
		return fmt.Errorf("post to runtime API: %w", err)
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("post to runtime API: status %d", resp.StatusCode())
	}
	return nil
}

func errorBody(errType, message string) ([]byte, error) {
	return sonic.Marshal(map[string]string{
		"errorType":    errType,
		"errorMessage": message,
	})
}
