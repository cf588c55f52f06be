package middleware

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChain_Use(t *testing.T) {
	c := New[string]()
	_, err := c.Use(Request, Pure(strings.ToUpper))
	require.NoError(t, err)

	out, err := c.Process(context.Background(), Request, "testando")
	require.NoError(t, err)
	assert.Equal(t, "TESTANDO", out)
}

func TestChain_OrderAndStagesAreIndependent(t *testing.T) {
	c := New[string]()
	for _, fn := range []func(string) string{
		strings.TrimSpace,
		strings.ToLower,
		func(s string) string { return "[" + s + "]" },
	} {
		_, err := c.Use(Response, Pure(fn))
		require.NoError(t, err)
	}

	out, err := c.Process(context.Background(), Response, "   TESTE   ")
	require.NoError(t, err)
	assert.Equal(t, "[teste]", out)

	out, err = c.Process(context.Background(), Request, "unchanged")
	require.NoError(t, err)
	assert.Equal(t, "unchanged", out)
}

func TestChain_ErrorAbortsFold(t *testing.T) {
	c := New[string]()
	boom := errors.New("boom")
	ran := false
	_, _ = c.Use(Request, func(_ context.Context, s string) (string, error) { return "", boom })
	_, _ = c.Use(Request, func(_ context.Context, s string) (string, error) { ran = true; return s, nil })

	_, err := c.Process(context.Background(), Request, "x")
	assert.ErrorIs(t, err, boom)
	assert.False(t, ran)
}

func TestChain_PanicBecomesError(t *testing.T) {
	c := New[string]()
	_, _ = c.Use(Response, Pure(func(s string) string { panic("bad middleware") }))

	_, err := c.Process(context.Background(), Response, "x")
	var pe *PanicError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, Response, pe.Stage)
	assert.Equal(t, "bad middleware", pe.Value)
}

func TestChain_EmptyResultPassesThrough(t *testing.T) {
	c := New[string]()
	_, _ = c.Use(Response, Pure(func(string) string { return "" }))
	out, err := c.Process(context.Background(), Response, "something")
	require.NoError(t, err)
	assert.Equal(t, "", out)
}

func TestChain_UnknownStage(t *testing.T) {
	c := New[string]()
	_, err := c.Use("sideways", Pure(strings.ToUpper))
	assert.ErrorIs(t, err, ErrUnknownStage)

	_, err = c.Process(context.Background(), "sideways", "x")
	assert.ErrorIs(t, err, ErrUnknownStage)
	assert.Equal(t, 0, c.Len(Request))
}
