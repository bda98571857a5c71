package runtime

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runtimeAPIServer(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return NewClient(strings.TrimPrefix(server.URL, "http://"))
}

func TestClientNext(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/2018-06-01/runtime/invocation/next", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Lambda-Runtime-Aws-Request-Id", "req-9")
		w.Header().Set("Lambda-Runtime-Deadline-Ms", "1700000001234")
		w.Header().Set("Lambda-Runtime-Invoked-Function-Arn", "arn:aws:lambda:::fn")
		w.Header().Set("Lambda-Runtime-Trace-Id", "Root=1-abc")
		w.Header().Set("Lambda-Runtime-Client-Context", `{"app":"x"}`)
		io.WriteString(w, `{"httpMethod":"GET"}`)
	})
	client := runtimeAPIServer(t, mux)

	inv, err := client.Next()
	require.NoError(t, err)

	assert.Equal(t, "req-9", inv.Context.AwsRequestID)
	assert.Equal(t, int64(1700000001234), inv.Context.DeadlineMs)
	assert.Equal(t, "arn:aws:lambda:::fn", inv.Context.InvokedFunctionArn)
	assert.Equal(t, "Root=1-abc", inv.Context.TraceID)
	assert.JSONEq(t, `{"app":"x"}`, string(inv.Context.Extra["clientContext"]))
	assert.Equal(t, `{"httpMethod":"GET"}`, string(inv.Payload))
}

func TestClientPostResponse(t *testing.T) {
	var gotBody []byte
	var gotPath string
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	})
	client := runtimeAPIServer(t, mux)

	require.NoError(t, client.PostResponse("req-9", []byte(`{"statusCode":200}`)))
	assert.Equal(t, "/2018-06-01/runtime/invocation/req-9/response", gotPath)
	assert.Equal(t, `{"statusCode":200}`, string(gotBody))
}

func TestClientPostError(t *testing.T) {
	var gotHeader string
	var gotBody []byte
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get("Lambda-Runtime-Function-Error-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	})
	client := runtimeAPIServer(t, mux)

	require.NoError(t, client.PostError("req-9", "Runtime.WorkerFailed", "boom"))
	assert.Equal(t, "Runtime.WorkerFailed", gotHeader)
	assert.JSONEq(t, `{"errorType":"Runtime.WorkerFailed","errorMessage":"boom"}`, string(gotBody))
}

func TestClientPostRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})
	client := runtimeAPIServer(t, mux)

	require.Error(t, client.PostResponse("req-9", nil))
}

func TestContextMarshal(t *testing.T) {
	ctx := &Context{
		AwsRequestID:       "req-10",
		DeadlineMs:         1700000000000,
		InvokedFunctionArn: "arn:aws:lambda:::fn",
		TraceID:            "Root=1-abc",
		Extra: map[string]json.RawMessage{
			"identity": json.RawMessage(`{"cognitoIdentityId":"id-1"}`),
		},
	}

	data, err := json.Marshal(ctx)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "req-10", decoded["awsRequestId"])
	assert.Equal(t, float64(1700000000000), decoded["deadlineMs"])
	assert.Equal(t, "arn:aws:lambda:::fn", decoded["invokedFunctionArn"])
	assert.Equal(t, "Root=1-abc", decoded["traceId"])
	assert.Equal(t, map[string]any{"cognitoIdentityId": "id-1"}, decoded["identity"])
}

func TestContextRemainingTimeUnknown(t *testing.T) {
	ctx := &Context{}
	assert.Equal(t, int64(0), int64(ctx.RemainingTime()))
}
