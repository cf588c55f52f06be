package router

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/serveapi/pkg/di"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		path  string
		key   string
		names []string
	}{
		{path: "/path1/", key: "/path1/"},
		{path: "path", key: "/path/"},
		{path: "path1/", key: "/path1/"},
		{path: "", key: "/"},
		{path: "//a//b", key: "/a/b/"},
		{path: "/path1/{id}", key: "/path1/{}/", names: []string{"id"}},
		{path: "/path1/{id}/{user}", key: "/path1/{}/{}/", names: []string{"id", "user"}},
		{path: "/path1/{id}/path2/{user}", key: "/path1/{}/path2/{}/", names: []string{"id", "user"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			key, names := Normalize(tt.path)
			assert.Equal(t, tt.key, key)
			assert.Equal(t, tt.names, names)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		pattern string
		segment string
	}{
		{pattern: "/api/invalid@path", segment: "invalid@path"},
		{pattern: "/api/with-hyphen", segment: "with-hyphen"},
		{pattern: "/api/v1.2", segment: "v1.2"},
		{pattern: "/api/{}", segment: "{}"},
		{pattern: "/api/{a}b", segment: "{a}b"},
		{pattern: "/api/{{a}}", segment: "{{a}}"},
	}
	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			_, err := Validate(tt.pattern)
			var pve *PathValidationError
			require.True(t, errors.As(err, &pve), "got %v", err)
			assert.Equal(t, tt.segment, pve.Segment)
		})
	}

	names, err := Validate("/api_v1/{user_id}/items/{Item2}")
	require.NoError(t, err)
	assert.Equal(t, []string{"user_id", "Item2"}, names)
}

func TestRouter_RegisterAndLookup(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("/a/{x}/{y}", func(s string, p Params) string { return s }))

	pack, params, err := r.Lookup("/a/1/2")
	require.NoError(t, err)
	assert.Equal(t, Params{"x": "1", "y": "2"}, params)
	assert.Equal(t, []string{"x", "y"}, pack.Params)
	assert.Equal(t, "/a/{}/{}/", pack.Key)
	assert.Equal(t, reflect.TypeOf(""), pack.Input)

	_, params, err = r.Lookup("/a/{1}/{2}")
	require.NoError(t, err)
	assert.Equal(t, Params{"x": "1", "y": "2"}, params)

	_, _, err = r.Lookup("/a/1")
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "not found")
}

func TestRouter_InvalidPatternNotInserted(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("/api/valid_path", func(string) string { return "ok" }))

	err := r.Register("/api/invalid@path", func(string) string { return "bad" })
	var pve *PathValidationError
	require.True(t, errors.As(err, &pve))
	assert.Equal(t, 1, r.Len())
}

func TestRouter_LastRegistrationWins(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("/u/{id}", func(string) string { return "first" }))
	require.NoError(t, r.Register("/u/{name}", func(string) string { return "second" }))
	assert.Equal(t, 1, r.Len())

	pack, params, err := r.Lookup("/u/{7}")
	require.NoError(t, err)
	assert.Equal(t, Params{"name": "7"}, params)

	out, err := pack.Plan.Call(context.Background(), di.Binding{Input: ""})
	require.NoError(t, err)
	assert.Equal(t, "second", out)
}

func TestRouter_LiteralBeatsPlaceholder(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("/users/{id}", func(string) {}))
	require.NoError(t, r.Register("/users/me", func(string) {}))

	pack, params, err := r.Lookup("/users/me")
	require.NoError(t, err)
	assert.Equal(t, "/users/me", pack.Pattern)
	assert.Empty(t, params)

	pack, params, err = r.Lookup("/users/42")
	require.NoError(t, err)
	assert.Equal(t, "/users/{id}", pack.Pattern)
	assert.Equal(t, Params{"id": "42"}, params)
}

func TestRouter_Prefix(t *testing.T) {
	r := New(WithPrefix("/api"))
	require.NoError(t, r.Register("/items/{id}", func(string) {}))

	pack, params, err := r.Lookup("/api/items/9")
	require.NoError(t, err)
	assert.Equal(t, "/api/items/{id}", pack.Pattern)
	assert.Equal(t, "9", params["id"])

	_, _, err = r.Lookup("/items/9")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRouter_RouteBuilderReturnsHandler(t *testing.T) {
	r := New()
	h := func(s string) string { return s + "!" }
	got := r.Route("/shout")(h)
	assert.Equal(t, reflect.ValueOf(h).Pointer(), reflect.ValueOf(got).Pointer())

	_, _, err := r.Lookup("shout")
	assert.NoError(t, err)

	assert.Panics(t, func() { r.Route("/bad-route")(h) })
}

func TestRouter_ItemsInOrder(t *testing.T) {
	r := New()
	for _, p := range []string{"/c", "/a", "/b"} {
		require.NoError(t, r.Register(p, func(string) {}))
	}
	var patterns []string
	for _, pack := range r.Items() {
		patterns = append(patterns, pack.Pattern)
	}
	assert.Equal(t, []string{"/c", "/a", "/b"}, patterns)
}

func TestRouter_WithDependencies(t *testing.T) {
	type clock struct{ now string }
	r := New()
	require.NoError(t, r.Register("/time", func(_ string, c *clock) string { return c.now },
		WithDependencies(di.Depends(func() *clock { return &clock{now: "noon"} }))))

	pack, _, err := r.Lookup("/time")
	require.NoError(t, err)
	require.Len(t, pack.Dependencies, 1)

	res := di.NewResolver(nil)
	resolved, err := res.Resolve(context.Background(), pack.Plan, nil)
	require.NoError(t, err)
	out, err := pack.Plan.Call(context.Background(), di.Binding{Resolved: resolved})
	require.NoError(t, err)
	assert.Equal(t, "noon", out)
}

func TestRouter_RejectsNonFunctionHandler(t *testing.T) {
	r := New()
	err := r.Register("/x", "not a func")
	assert.ErrorIs(t, err, di.ErrInvalidProvider)
}
