package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bytedance/sonic"
	"github.com/mevdschee/lambdafpm/internal/event"
	"github.com/mevdschee/lambdafpm/internal/interrupt"
)

// Handler serves one normalized HTTP event per invocation.
type Handler interface {
	HandleRequest(req *event.Request, ctx *Context) (*event.Response, error)
}

// Run fetches invocations until ctx is cancelled or the handler reports a
// fatal error. Per-invocation failures are posted to the runtime API and the
// loop continues; anything else poisons the sandbox and is returned.
func Run(ctx context.Context, client *Client, handler Handler, log *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		inv, err := client.Next()
		if err != nil {
			return fmt.Errorf("runtime loop: %w", err)
		}

		req, err := event.Parse(inv.Payload)
		if err != nil {
			log.Error("rejecting invocation", "requestId", inv.Context.AwsRequestID, "error", err)
			if perr := client.PostError(inv.Context.AwsRequestID, "Runtime.InvalidEvent", err.Error()); perr != nil {
				return perr
			}
			continue
		}

		resp, err := handler.HandleRequest(req, &inv.Context)
		switch {
		case err == nil:
			body, merr := sonic.Marshal(resp)
			if merr != nil {
				return fmt.Errorf("marshal response: %w", merr)
			}
			if perr := client.PostResponse(inv.Context.AwsRequestID, body); perr != nil {
				return perr
			}
		case errors.Is(err, interrupt.ErrDeadlineReached):
			// Out of time, but the sandbox itself is fine; report and
			// keep serving. Never retried.
			log.Warn("invocation aborted at deadline", "requestId", inv.Context.AwsRequestID)
			if perr := client.PostError(inv.Context.AwsRequestID, "Runtime.DeadlineReached", err.Error()); perr != nil {
				return perr
			}
		default:
			// Supervisor-scoped failure. Report it, then exit so the
			// platform replaces this sandbox.
			_ = client.PostError(inv.Context.AwsRequestID, "Runtime.WorkerFailed", err.Error())
			return err
		}
	}
}
