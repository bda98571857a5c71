// Package runtime talks to the platform's custom-runtime API: it long-polls
// for invocations, carries their context, and posts results back.
package runtime

import (
	"encoding/json"
	"time"

	"github.com/bytedance/sonic"
)

// Context carries the per-invocation metadata the platform hands us. Extra
// holds any additional fields; they are serialized verbatim alongside the
// known ones into the worker environment.
type Context struct {
	AwsRequestID       string
	DeadlineMs         int64
	InvokedFunctionArn string
	TraceID            string
	Extra              map[string]json.RawMessage
}

// RemainingTime is how long until the platform's absolute deadline.
// Zero or negative means the deadline is unknown or already past.
func (c *Context) RemainingTime() time.Duration {
	if c.DeadlineMs == 0 {
		return 0
	}
	return time.Until(time.UnixMilli(c.DeadlineMs))
}

// MarshalJSON flattens the known fields and the carry fields into one
// object. Known fields win on name collisions.
func (c *Context) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(c.Extra)+4)
	for k, v := range c.Extra {
		fields[k] = v
	}

	set := func(key string, v interface{}) error {
		raw, err := sonic.Marshal(v)
		if err != nil {
			return err
		}
		fields[key] = raw
		return nil
	}
	if err := set("awsRequestId", c.AwsRequestID); err != nil {
		return nil, err
	}
	if err := set("deadlineMs", c.DeadlineMs); err != nil {
		return nil, err
	}
	if err := set("invokedFunctionArn", c.InvokedFunctionArn); err != nil {
		return nil, err
	}
	if err := set("traceId", c.TraceID); err != nil {
		return nil, err
	}

	return sonic.Marshal(fields)
}
