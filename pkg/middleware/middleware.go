// Package middleware folds request and response payloads through ordered
// transform functions.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

const logPrefix = "middleware:chain"

// Stage selects which sequence a middleware belongs to.
type Stage string

const (
	Request  Stage = "request"
	Response Stage = "response"
)

// ErrUnknownStage reports a stage other than Request or Response.
var ErrUnknownStage = errors.New("unknown middleware stage")

// Func transforms a payload. Returning an error aborts the fold.
type Func[T any] func(ctx context.Context, v T) (T, error)

// Pure adapts a function that cannot fail.
func Pure[T any](fn func(T) T) Func[T] {
	return func(_ context.Context, v T) (T, error) { return fn(v), nil }
}

// PanicError carries a value recovered from a panicking middleware.
type PanicError struct {
	Stage Stage
	Index int
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s middleware %d panicked: %v", e.Stage, e.Index, e.Value)
}

// Chain holds the request and response sequences. Registration happens at
// startup; Process is safe for concurrent use.
type Chain[T any] struct {
	mu     sync.RWMutex
	stages map[Stage][]Func[T]
}

// New creates an empty Chain.
func New[T any]() *Chain[T] {
	return &Chain[T]{stages: map[Stage][]Func[T]{Request: nil, Response: nil}}
}

// Use appends fn to stage and returns fn.
func (c *Chain[T]) Use(stage Stage, fn Func[T]) (Func[T], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq, ok := c.stages[stage]
	if !ok {
		return nil, fmt.Errorf("%s - %q: %w", logPrefix, stage, ErrUnknownStage)
	}
	c.stages[stage] = append(seq, fn)
	return fn, nil
}

// Len returns the number of middlewares registered for stage.
func (c *Chain[T]) Len(stage Stage) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.stages[stage])
}

// Process folds v through stage in registration order.
func (c *Chain[T]) Process(ctx context.Context, stage Stage, v T) (T, error) {
	c.mu.RLock()
	seq, ok := c.stages[stage]
	c.mu.RUnlock()
	if !ok {
		return v, fmt.Errorf("%s - %q: %w", logPrefix, stage, ErrUnknownStage)
	}
	var err error
	for i, fn := range seq {
		v, err = apply(ctx, stage, i, fn, v)
		if err != nil {
			return v, err
		}
	}
	return v, nil
}

func apply[T any](ctx context.Context, stage Stage, i int, fn Func[T], v T) (out T, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = v, &PanicError{Stage: stage, Index: i, Value: r}
		}
	}()
	return fn(ctx, v)
}
