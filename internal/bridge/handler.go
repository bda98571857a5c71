// Package bridge is the proxy handler: it translates platform HTTP events
// into FastCGI requests for the supervised worker and translates the
// worker's answer back.
package bridge

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mevdschee/lambdafpm/internal/event"
	"github.com/mevdschee/lambdafpm/internal/interrupt"
	"github.com/mevdschee/lambdafpm/internal/metrics"
	"github.com/mevdschee/lambdafpm/internal/runtime"
	"github.com/mevdschee/lambdafpm/internal/supervisor"
	"github.com/mevdschee/lambdafpm/pkg/fastcgi"
)

// errorPage is returned when the worker cannot be reached. The Code token
// is stable; operators key alerts off it.
const errorPage = `<html>
<head><title>Internal Server Error</title></head>
<body>
<h1>Internal Server Error</h1>
<p>Code: 4711</p>
</body>
</html>`

// liveness is the slice of the supervisor the request path needs.
type liveness interface {
	CheckAlive() error
	EnterServing()
	LeaveServing()
}

// transport sends one FastCGI request.
type transport interface {
	Do(req *fastcgi.Request) (*fastcgi.Response, error)
}

// Options configures a Handler.
type Options struct {
	Supervisor  *supervisor.Supervisor
	HandlerPath string

	// Stderr receives the contract log lines. Defaults to os.Stderr.
	Stderr io.Writer
	Logger *slog.Logger
}

// Handler is the start / handle / stop surface consumed by the runtime loop.
// It is not safe for concurrent use: the platform delivers one invocation at
// a time.
type Handler struct {
	sup         *supervisor.Supervisor
	worker      liveness
	client      transport
	intr        *interrupt.Interrupter
	handlerPath string
	stderr      io.Writer
	log         *slog.Logger
	met         *metrics.Metrics
}

// New wires a handler to its supervisor. The deadline interrupter is owned
// here and attached to the transport exactly once.
func New(opts Options) *Handler {
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	client := fastcgi.NewClient(opts.Supervisor.SocketPath())
	intr := interrupt.New()
	intr.Attach(client)

	return &Handler{
		sup:         opts.Supervisor,
		worker:      opts.Supervisor,
		client:      client,
		intr:        intr,
		handlerPath: opts.HandlerPath,
		stderr:      opts.Stderr,
		log:         opts.Logger.With("component", "bridge"),
		met:         metrics.Get(),
	}
}

// Start brings the worker up. Failure is fatal for the sandbox.
func (h *Handler) Start() error {
	return h.sup.Start()
}

// Stop tears the worker down. Idempotent.
func (h *Handler) Stop() error {
	return h.sup.Stop()
}

// HandleRequest serves one invocation.
func (h *Handler) HandleRequest(ev *event.Request, ictx *runtime.Context) (*event.Response, error) {
	// Contract line; platform log ingestion depends on its exact shape.
	fmt.Fprintf(h.stderr, "URL RequestId: %s Path: %s\n", ictx.AwsRequestID, ev.URI)

	start := time.Now()
	h.worker.EnterServing()
	defer h.worker.LeaveServing()

	params, err := BuildParams(ev, ictx, h.handlerPath)
	if err != nil {
		return nil, err
	}

	if remaining := ictx.RemainingTime(); remaining > 0 {
		if err := h.intr.Enable(remaining); err != nil {
			return nil, err
		}
		defer h.intr.Reset()
	}

	resp, err := h.client.Do(&fastcgi.Request{Params: params, Stdin: ev.Body})
	if err != nil {
		if h.intr.Fired() {
			h.met.DeadlineAbortsTotal.Inc()
			h.met.InvocationsTotal.WithLabelValues(metrics.OutcomeDeadline).Inc()
			// The liveness probe runs here too; a dead worker is fatal.
			if probeErr := h.worker.CheckAlive(); probeErr != nil {
				return nil, probeErr
			}
			return nil, fmt.Errorf("%w: request ran into the platform deadline", interrupt.ErrDeadlineReached)
		}
		return h.transportFailure(ev, err)
	}

	// The worker's own diagnostics travel on the FastCGI stderr stream;
	// forward them to the platform logs.
	if len(resp.Stderr) > 0 {
		h.stderr.Write(resp.Stderr)
	}

	status, headers, body, err := ParseResponse(resp.Stdout)
	if err != nil {
		return h.transportFailure(ev, err)
	}

	if err := h.worker.CheckAlive(); err != nil {
		return nil, err
	}

	h.met.InvocationsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
	h.met.InvocationDuration.Observe(time.Since(start).Seconds())
	h.met.BytesInTotal.Add(float64(len(ev.Body)))
	h.met.BytesOutTotal.Add(float64(len(body)))

	return event.NewResponse(ev, status, headers, body), nil
}

// transportFailure converts a per-invocation transport or protocol error
// into the fixed 500 page. The liveness probe still runs: a dead worker
// poisons the sandbox even when the page could be served.
func (h *Handler) transportFailure(ev *event.Request, err error) (*event.Response, error) {
	fmt.Fprintf(h.stderr, "Exception: %s\n", err.Error())
	h.met.InvocationsTotal.WithLabelValues(metrics.OutcomeTransport).Inc()

	if probeErr := h.worker.CheckAlive(); probeErr != nil {
		return nil, probeErr
	}

	headers := map[string][]string{"content-type": {"text/html"}}
	return event.NewResponse(ev, 500, headers, []byte(errorPage)), nil
}
