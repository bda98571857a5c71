package bridge

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/mevdschee/lambdafpm/internal/event"
	"github.com/mevdschee/lambdafpm/internal/runtime"
)

// BuildParams maps a normalized event plus its invocation context onto the
// CGI/1.1 environment of a responder request. The worker sits behind a local
// socket, so the peer addresses are fixed to loopback.
func BuildParams(ev *event.Request, ictx *runtime.Context, handlerPath string) (map[string]string, error) {
	params := map[string]string{
		"REMOTE_ADDR":     "127.0.0.1",
		"SERVER_ADDR":     "127.0.0.1",
		"SCRIPT_FILENAME": handlerPath,
		"REQUEST_METHOD":  ev.Method,
		"REQUEST_URI":     ev.URI,
		"SERVER_NAME":     ev.ServerName,
		"SERVER_PROTOCOL": ev.Protocol,
		"SERVER_PORT":     ev.ServerPort,
		"REMOTE_PORT":     ev.RemotePort,
		"PATH_INFO":       ev.Path,
		"QUERY_STRING":    ev.QueryString,
		"CONTENT_LENGTH":  strconv.Itoa(len(ev.Body)),
	}
	if ev.ContentType != "" {
		params["CONTENT_TYPE"] = ev.ContentType
	}

	ictxJSON, err := sonic.Marshal(ictx)
	if err != nil {
		return nil, fmt.Errorf("marshal invocation context: %w", err)
	}
	params["LAMBDA_INVOCATION_CONTEXT"] = string(ictxJSON)

	requestContext := "null"
	if len(ev.RequestContext) > 0 {
		requestContext = string(ev.RequestContext)
	}
	params["LAMBDA_REQUEST_CONTEXT"] = requestContext
	// Deprecated alias, still read by old application code.
	params["LAMBDA_CONTEXT"] = requestContext

	for name, values := range ev.Headers {
		key := "HTTP_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		// Later values overwrite earlier ones under the same key.
		for _, value := range values {
			params[key] = value
		}
	}

	return params, nil
}
