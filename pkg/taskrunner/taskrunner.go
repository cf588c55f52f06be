// Package taskrunner turns raw inbound bytes into a dispatched handler call.
package taskrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"reflect"

	"github.com/morezero/serveapi/pkg/apierr"
	"github.com/morezero/serveapi/pkg/cast"
	"github.com/morezero/serveapi/pkg/di"
	"github.com/morezero/serveapi/pkg/dispatcher"
	"github.com/morezero/serveapi/pkg/middleware"
	"github.com/morezero/serveapi/pkg/router"
	"github.com/morezero/serveapi/pkg/wire"
)

const logPrefix = "taskrunner:taskrunner"

var addrType = reflect.TypeOf((*net.Addr)(nil)).Elem()

// Receipt reports what Execute did with one message. Err is set when a
// stage before dispatch failed; the failure has already been answered.
type Receipt struct {
	ID    string
	Route string
	Err   error
}

// TaskRunner runs the pre-dispatch stages of every request in order:
// decode, route lookup, request middleware, cast, parameter binding and
// dependency resolution. The first failing stage is answered immediately
// through the dispatcher and the remaining stages are skipped.
type TaskRunner[T any] struct {
	codec    wire.Codec[T]
	router   *router.Router
	chain    *middleware.Chain[T]
	cast     cast.Cast[T]
	resolver *di.Resolver
	disp     *dispatcher.Dispatcher[T]
}

// New creates a TaskRunner. It fails when the dispatcher's exception
// registry has no catch-all handler.
func New[T any](codec wire.Codec[T], r *router.Router, chain *middleware.Chain[T], c cast.Cast[T], resolver *di.Resolver, disp *dispatcher.Dispatcher[T]) (*TaskRunner[T], error) {
	if err := disp.Registry().Validate(); err != nil {
		return nil, fmt.Errorf("%s - %w", logPrefix, err)
	}
	if resolver == nil {
		resolver = di.NewResolver(nil)
	}
	return &TaskRunner[T]{
		codec:    codec,
		router:   r,
		chain:    chain,
		cast:     c,
		resolver: resolver,
		disp:     disp,
	}, nil
}

// Dispatcher returns the dispatcher requests are handed to.
func (tr *TaskRunner[T]) Dispatcher() *dispatcher.Dispatcher[T] { return tr.disp }

// Execute processes one inbound message from addr.
func (tr *TaskRunner[T]) Execute(ctx context.Context, data []byte, addr net.Addr) (receipt Receipt) {
	req := dispatcher.Request{Addr: addr}
	defer func() {
		if p := recover(); p != nil {
			err := apierr.New(apierr.Unhandled, "task runner panicked: %v", p)
			slog.Error(fmt.Sprintf("%s - %v", logPrefix, err))
			receipt = tr.fail(ctx, req, err)
		}
	}()

	msg, err := tr.codec.Decode(data)
	if err != nil {
		return tr.fail(ctx, req, apierr.Wrap(apierr.EncoderDecode, err, ""))
	}
	req.ID, req.Route = msg.ID, msg.Route

	pack, params, err := tr.router.Lookup(msg.Route)
	if err != nil {
		return tr.fail(ctx, req, apierr.Wrap(apierr.Router, err, ""))
	}

	payload, err := tr.chain.Process(ctx, middleware.Request, msg.Payload)
	if err != nil {
		return tr.fail(ctx, req, apierr.Wrap(apierr.RequestMiddleware, err, ""))
	}

	var input any = payload
	if pack.Input != nil && !reflect.TypeOf(&payload).Elem().AssignableTo(pack.Input) {
		input, err = tr.cast.ToModel(payload, pack.Input)
		if err != nil {
			return tr.fail(ctx, req, apierr.Wrap(apierr.ToModel, err, ""))
		}
	}

	if err := pack.Plan.Err(); err != nil {
		return tr.fail(ctx, req, apierr.Wrap(apierr.ParamsResolve, err, ""))
	}

	vals := di.NewValues()
	vals.Set("params", params)
	vals.SetAs(addrType, addr)
	for name, value := range params {
		vals.SetName(name, value)
	}
	resolved, err := tr.resolver.Resolve(ctx, pack.Plan, vals)
	if err != nil {
		kind := apierr.DependencyResolve
		if errors.Is(err, di.ErrCycle) {
			kind = apierr.DependencyCycle
		}
		return tr.fail(ctx, req, apierr.Wrap(kind, err, ""))
	}

	plan := pack.Plan
	binding := di.Binding{Input: input, Params: params, Addr: addr, Resolved: resolved}
	id := tr.disp.Dispatch(ctx, req, func(ctx context.Context) (any, error) {
		return plan.Call(ctx, binding)
	})
	return Receipt{ID: id, Route: req.Route}
}

func (tr *TaskRunner[T]) fail(ctx context.Context, req dispatcher.Request, err error) Receipt {
	id := tr.disp.Fail(ctx, req, err)
	return Receipt{ID: id, Route: req.Route, Err: err}
}
