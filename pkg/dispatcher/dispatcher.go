package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/morezero/serveapi/pkg/apierr"
	"github.com/morezero/serveapi/pkg/cast"
	"github.com/morezero/serveapi/pkg/middleware"
	"github.com/morezero/serveapi/pkg/safemap"
	"github.com/morezero/serveapi/pkg/wire"
)

const logPrefix = "dispatcher:dispatch"

// Option configures a Dispatcher.
type Option[T any] func(*Dispatcher[T])

// WithTimeout bounds each handler execution. Zero disables the bound.
func WithTimeout[T any](d time.Duration) Option[T] {
	return func(x *Dispatcher[T]) { x.timeout = d }
}

// WithFireAndForget suppresses the response of handlers returning nothing
// or an empty value. Failures are still answered.
func WithFireAndForget[T any](on bool) Option[T] {
	return func(x *Dispatcher[T]) { x.fireAndForget = on }
}

// OnSuccess registers a hook for requests that completed without error.
func OnSuccess[T any](h Hook) Option[T] {
	return func(x *Dispatcher[T]) { x.onSuccess = append(x.onSuccess, h) }
}

// OnFailure registers a hook for requests answered with an error body.
func OnFailure[T any](h Hook) Option[T] {
	return func(x *Dispatcher[T]) { x.onFailure = append(x.onFailure, h) }
}

// Dispatcher schedules bound handlers and owns the response path: response
// middleware, cast, encode and write. Every dispatched request is recorded
// in a correlation table and is answered at most once.
type Dispatcher[T any] struct {
	codec  wire.Codec[T]
	cast   cast.Cast[T]
	chain  *middleware.Chain[T]
	errs   *apierr.Registry
	writer Writer

	timeout       time.Duration
	fireAndForget bool
	onSuccess     []Hook
	onFailure     []Hook

	// pending is keyed by a server-side token, never by the wire id,
	// so peers reusing an id cannot take each other's responses.
	pending *safemap.Map[net.Addr]
	wg      sync.WaitGroup
}

// New creates a Dispatcher.
func New[T any](codec wire.Codec[T], c cast.Cast[T], chain *middleware.Chain[T], errs *apierr.Registry, w Writer, opts ...Option[T]) *Dispatcher[T] {
	d := &Dispatcher[T]{
		codec:   codec,
		cast:    c,
		chain:   chain,
		errs:    errs,
		writer:  w,
		pending: safemap.New[net.Addr](),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// FireAndForget reports whether empty results are left unanswered.
func (d *Dispatcher[T]) FireAndForget() bool { return d.fireAndForget }

// Pending returns the number of requests not yet answered.
func (d *Dispatcher[T]) Pending() int { return d.pending.Len() }

// Wait blocks until every dispatched request has finished.
func (d *Dispatcher[T]) Wait() { d.wg.Wait() }

// Dispatch records req and runs fn on its own goroutine. It returns the
// correlation id used for the request.
func (d *Dispatcher[T]) Dispatch(ctx context.Context, req Request, fn BoundFunc) string {
	req = d.track(req)
	d.wg.Add(1)
	go d.run(ctx, req, fn)
	return req.ID
}

// Fail answers req with the rendered form of err without running a handler.
func (d *Dispatcher[T]) Fail(ctx context.Context, req Request, err error) string {
	req = d.track(req)
	d.fail(ctx, req, time.Now(), err)
	return req.ID
}

func (d *Dispatcher[T]) track(req Request) Request {
	req.key = uuid.NewString()
	if req.ID == "" {
		req.ID = req.key
	}
	d.pending.Set(req.key, req.Addr)
	return req
}

func (d *Dispatcher[T]) run(ctx context.Context, req Request, fn BoundFunc) {
	defer d.wg.Done()
	start := time.Now()

	execCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	result, err := d.execute(execCtx, fn)
	if err != nil {
		d.fail(ctx, req, start, err)
		return
	}
	d.respond(ctx, req, start, result)
}

type execResult struct {
	value any
	err   error
}

// execute runs fn and waits for it or for ctx. A panic becomes a Dispatch
// failure and cancellation a Cancelled failure.
func (d *Dispatcher[T]) execute(ctx context.Context, fn BoundFunc) (any, error) {
	done := make(chan execResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- execResult{err: apierr.New(apierr.Dispatch, "handler panicked: %v", p)}
			}
		}()
		v, err := fn(ctx)
		done <- execResult{value: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			return r.value, nil
		}
		if _, tagged := apierr.KindOf(r.err); tagged {
			return nil, r.err
		}
		if ctx.Err() != nil && errors.Is(r.err, ctx.Err()) {
			return nil, apierr.Wrap(apierr.Cancelled, r.err, "")
		}
		return nil, apierr.Wrap(apierr.Dispatch, r.err, "")
	case <-ctx.Done():
		return nil, apierr.Wrap(apierr.Cancelled, ctx.Err(), "execution cancelled")
	}
}

func (d *Dispatcher[T]) respond(ctx context.Context, req Request, start time.Time, result any) {
	if d.fireAndForget && isEmpty(result) {
		d.pending.Pop(req.key)
		slog.Debug(fmt.Sprintf("%s - %s %s: empty result, no response", logPrefix, req.ID, req.Route))
		d.notify(d.onSuccess, req, start, false, nil)
		return
	}

	payload, err := d.cast.FromModel(result)
	if err != nil {
		d.fail(ctx, req, start, apierr.Wrap(apierr.FromModel, err, ""))
		return
	}
	payload, err = d.chain.Process(ctx, middleware.Response, payload)
	if err != nil {
		d.fail(ctx, req, start, apierr.Wrap(apierr.ResponseMiddleware, err, ""))
		return
	}
	data, err := d.codec.Encode(payload)
	if err != nil {
		d.fail(ctx, req, start, apierr.Wrap(apierr.EncoderEncode, err, ""))
		return
	}
	written := d.write(ctx, req, data)
	d.notify(d.onSuccess, req, start, written, nil)
}

func (d *Dispatcher[T]) fail(ctx context.Context, req Request, start time.Time, err error) {
	slog.Debug(fmt.Sprintf("%s - %s %s failed: %v", logPrefix, req.ID, req.Route, err))
	body := d.errs.Resolve(err)
	written := d.write(ctx, req, []byte(body))
	d.notify(d.onFailure, req, start, written, err)
}

// write pops the correlation entry and writes data to its address. Only the
// caller that pops the entry writes.
func (d *Dispatcher[T]) write(ctx context.Context, req Request, data []byte) bool {
	addr, ok := d.pending.Pop(req.key)
	if !ok {
		slog.Debug(fmt.Sprintf("%s - %s already answered, dropping response", logPrefix, req.ID))
		return false
	}
	if err := d.writer.Write(ctx, data, addr); err != nil {
		slog.Error(fmt.Sprintf("%s - write to %v failed: %v", logPrefix, addr, err))
		return false
	}
	return true
}

func (d *Dispatcher[T]) notify(hooks []Hook, req Request, start time.Time, written bool, err error) {
	if len(hooks) == 0 {
		return
	}
	out := Outcome{
		ID:       req.ID,
		Route:    req.Route,
		Addr:     req.Addr,
		Duration: time.Since(start),
		Written:  written,
		Err:      err,
	}
	if err != nil {
		out.Kind = apierr.Unhandled
		if k, ok := apierr.KindOf(err); ok {
			out.Kind = k
		}
	}
	for _, h := range hooks {
		h(out)
	}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map:
		return rv.Len() == 0
	}
	return false
}

// Registry returns the exception registry used to render failures.
func (d *Dispatcher[T]) Registry() *apierr.Registry { return d.errs }
