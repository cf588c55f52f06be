package taskrunner

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morezero/serveapi/pkg/apierr"
	"github.com/morezero/serveapi/pkg/cast"
	"github.com/morezero/serveapi/pkg/di"
	"github.com/morezero/serveapi/pkg/dispatcher"
	"github.com/morezero/serveapi/pkg/middleware"
	"github.com/morezero/serveapi/pkg/router"
	"github.com/morezero/serveapi/pkg/wire"
)

type sink struct {
	mu     sync.Mutex
	writes map[string][]string
}

func (s *sink) Write(_ context.Context, data []byte, addr net.Addr) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writes == nil {
		s.writes = make(map[string][]string)
	}
	s.writes[addr.String()] = append(s.writes[addr.String()], string(data))
	return nil
}

func (s *sink) to(addr net.Addr) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.writes[addr.String()]...)
}

type harness struct {
	router    *router.Router
	chain     *middleware.Chain[string]
	container *di.Container
	resolver  *di.Resolver
	sink      *sink
	runner    *TaskRunner[string]
	disp      *dispatcher.Dispatcher[string]
}

func newHarness(t *testing.T, fireAndForget bool) *harness {
	t.Helper()
	h := &harness{
		router:    router.New(),
		chain:     middleware.New[string](),
		container: di.NewContainer(),
		sink:      &sink{},
	}
	h.resolver = di.NewResolver(h.container)
	h.disp = dispatcher.New[string](wire.NewSimpleString(), cast.String{}, h.chain, apierr.NewDefaultRegistry(), h.sink,
		dispatcher.WithFireAndForget[string](fireAndForget))
	runner, err := New[string](wire.NewSimpleString(), h.router, h.chain, cast.String{}, h.resolver, h.disp)
	require.NoError(t, err)
	h.runner = runner
	return h
}

func (h *harness) exec(t *testing.T, frame string, addr net.Addr) Receipt {
	t.Helper()
	r := h.runner.Execute(context.Background(), []byte(frame), addr)
	h.disp.Wait()
	return r
}

var client = &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 51000}

func body(t *testing.T, s string) apierr.Body {
	t.Helper()
	var b apierr.Body
	require.NoError(t, json.Unmarshal([]byte(s), &b), "response %q", s)
	return b
}

func TestExecute_IdentityRoute(t *testing.T) {
	h := newHarness(t, false)
	h.router.MustRegister("/foobar/", func(s string) string { return s })

	r := h.exec(t, "serveAPI:/foobar/:helloworld", client)
	require.NoError(t, r.Err)
	assert.Equal(t, "/foobar/", r.Route)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, []string{"helloworld"}, h.sink.to(client))
}

func TestExecute_RouteNotFound(t *testing.T) {
	h := newHarness(t, false)

	r := h.exec(t, "serveAPI:/missing:payload", client)
	require.Error(t, r.Err)
	assert.True(t, apierr.IsKind(r.Err, apierr.Router))

	writes := h.sink.to(client)
	require.Len(t, writes, 1)
	b := body(t, writes[0])
	assert.Equal(t, "RouterError", b.Exception.Type)
	require.NotNil(t, b.OriginalException)
	assert.Contains(t, b.OriginalException.Msg, "not found")
}

func TestExecute_RequestMiddlewareFailure(t *testing.T) {
	h := newHarness(t, false)
	var called atomic.Bool
	h.router.MustRegister("/guarded", func(s string) string { called.Store(true); return s })
	_, err := h.chain.Use(middleware.Request, func(context.Context, string) (string, error) {
		return "", &json.SyntaxError{}
	})
	require.NoError(t, err)

	r := h.exec(t, "serveAPI:/guarded:data", client)
	require.Error(t, r.Err)

	b := body(t, h.sink.to(client)[0])
	assert.Equal(t, "RequestMiddlewareError", b.Exception.Type)
	require.NotNil(t, b.OriginalException)
	assert.Equal(t, "*json.SyntaxError", b.OriginalException.Type)
	assert.False(t, called.Load())
}

func TestExecute_FireAndForget(t *testing.T) {
	h := newHarness(t, true)
	var got atomic.Value
	h.router.MustRegister("/log", func(s string) { got.Store(s) })
	h.router.MustRegister("/say", func(s string) string { return "said " + s })

	r := h.exec(t, "serveAPI:/log:entry", client)
	require.NoError(t, r.Err)
	assert.Equal(t, "entry", got.Load())
	assert.Empty(t, h.sink.to(client))

	h.exec(t, "serveAPI:/say:hi", client)
	assert.Equal(t, []string{"said hi"}, h.sink.to(client))
}

func TestExecute_DecodeFailure(t *testing.T) {
	h := newHarness(t, false)
	r := h.exec(t, "garbage", client)
	assert.True(t, apierr.IsKind(r.Err, apierr.EncoderDecode))
	assert.ErrorIs(t, r.Err, wire.ErrMissingPrefix)
	b := body(t, h.sink.to(client)[0])
	assert.Equal(t, "EncoderDecodeError", b.Exception.Type)
	require.NotNil(t, b.OriginalException)
	assert.Equal(t, "*wire.DecodeError", b.OriginalException.Type)
	assert.Contains(t, b.OriginalException.Msg, "missing serveAPI: prefix")
}

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func TestExecute_CastsInput(t *testing.T) {
	h := newHarness(t, false)
	h.router.MustRegister("/sum", func(p point) int { return p.X + p.Y })

	h.exec(t, `serveAPI:/sum:{"x":2,"y":3}`, client)
	assert.Equal(t, []string{"5"}, h.sink.to(client))

	h.exec(t, "serveAPI:/sum:not-json", client)
	writes := h.sink.to(client)
	require.Len(t, writes, 2)
	assert.Equal(t, "TypeCastToModelError", body(t, writes[1]).Exception.Type)
}

func TestExecute_BindsParamsAndAddress(t *testing.T) {
	h := newHarness(t, false)
	h.router.MustRegister("/users/{id}/{field}", func(_ string, p router.Params, addr net.Addr) string {
		return p["id"] + "." + p["field"] + "@" + addr.String()
	})

	h.exec(t, "serveAPI:/users/7/name:x", client)
	assert.Equal(t, []string{"7.name@" + client.String()}, h.sink.to(client))
}

type userDeps struct {
	di.In
	ID string
}

func TestExecute_PlaceholderByName(t *testing.T) {
	h := newHarness(t, false)
	h.router.MustRegister("/items/{id}", func(_ string, d userDeps) string { return "item " + d.ID })

	h.exec(t, "serveAPI:/items/{42}:x", client)
	assert.Equal(t, []string{"item 42"}, h.sink.to(client))
}

type repo struct{ name string }

func TestExecute_ContainerDependency(t *testing.T) {
	h := newHarness(t, false)
	require.NoError(t, h.container.Supply(&repo{name: "main"}))
	h.router.MustRegister("/repo", func(_ string, r *repo) string { return r.name })

	h.exec(t, "serveAPI:/repo:x", client)
	assert.Equal(t, []string{"main"}, h.sink.to(client))
}

func TestExecute_DependencyFailure(t *testing.T) {
	h := newHarness(t, false)
	called := false
	h.router.MustRegister("/repo", func(_ string, r *repo) string { called = true; return r.name })

	r := h.exec(t, "serveAPI:/repo:x", client)
	assert.True(t, apierr.IsKind(r.Err, apierr.DependencyResolve))
	assert.Equal(t, "DependencyResolveError", body(t, h.sink.to(client)[0]).Exception.Type)
	assert.False(t, called)
}

type left struct{}
type right struct{}

func leftFromRight(*right) *left { return &left{} }
func rightFromLeft(*left) *right { return &right{} }

func TestExecute_DependencyCycle(t *testing.T) {
	h := newHarness(t, false)
	h.router.MustRegister("/cycle", func(_ string, l *left) {},
		router.WithDependencies(di.Depends(leftFromRight), di.Depends(rightFromLeft)))

	r := h.exec(t, "serveAPI:/cycle:x", client)
	assert.True(t, apierr.IsKind(r.Err, apierr.DependencyCycle))
	assert.Equal(t, "DependencyCycleError", body(t, h.sink.to(client)[0]).Exception.Type)
}

func TestExecute_DuplicateParamsRole(t *testing.T) {
	h := newHarness(t, false)
	h.router.MustRegister("/dup/{a}", func(_ string, p1, p2 router.Params) {})

	r := h.exec(t, "serveAPI:/dup/1:x", client)
	assert.True(t, apierr.IsKind(r.Err, apierr.ParamsResolve))
	assert.ErrorIs(t, r.Err, di.ErrDuplicateRole)
}

func TestExecute_HandlerError(t *testing.T) {
	h := newHarness(t, false)
	h.router.MustRegister("/fail", func(string) (string, error) { return "", errors.New("nope") })

	r := h.exec(t, "serveAPI:/fail:x", client)
	require.NoError(t, r.Err)
	b := body(t, h.sink.to(client)[0])
	assert.Equal(t, "DispatchError", b.Exception.Type)
	assert.Equal(t, "nope", b.OriginalException.Msg)
}

func TestExecute_IDFramingCorrelates(t *testing.T) {
	h := newHarness(t, false)
	runner, err := New[string](wire.NewIDString(), h.router, h.chain, cast.String{}, h.resolver, h.disp)
	require.NoError(t, err)
	h.router.MustRegister("/echo", func(s string) string { return s })

	r := runner.Execute(context.Background(), []byte(wire.IDHeader("abc", "/echo", "a:b")), client)
	h.disp.Wait()
	assert.Equal(t, "abc", r.ID)
	assert.Equal(t, []string{"a:b"}, h.sink.to(client))
}

func TestExecute_ConcurrentPeersGetTheirOwnResponses(t *testing.T) {
	h := newHarness(t, false)
	h.router.MustRegister("/who", func(_ string, addr net.Addr) string { return addr.String() })

	var wg sync.WaitGroup
	peers := make([]net.Addr, 20)
	for i := range peers {
		peers[i] = &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 9000 + i}
		wg.Add(1)
		go func(a net.Addr) {
			defer wg.Done()
			h.runner.Execute(context.Background(), []byte("serveAPI:/who:?"), a)
		}(peers[i])
	}
	wg.Wait()
	h.disp.Wait()

	for _, p := range peers {
		assert.Equal(t, []string{p.String()}, h.sink.to(p))
	}
	assert.Equal(t, 0, h.disp.Pending())
}

func TestNew_RequiresCatchAll(t *testing.T) {
	disp := dispatcher.New[string](wire.NewSimpleString(), cast.String{}, middleware.New[string](), apierr.NewRegistry(), &sink{})
	_, err := New[string](wire.NewSimpleString(), router.New(), middleware.New[string](), cast.String{}, nil, disp)
	assert.ErrorIs(t, err, apierr.ErrNoCatchAll)
}

func TestExecute_SharedIDAcrossPeers(t *testing.T) {
	for _, firstDone := range []string{"a", "b"} {
		t.Run("first "+firstDone, func(t *testing.T) {
			h := newHarness(t, false)
			runner, err := New[string](wire.NewIDString(), h.router, h.chain, cast.String{}, h.resolver, h.disp)
			require.NoError(t, err)

			gates := map[string]chan struct{}{"a": make(chan struct{}), "b": make(chan struct{})}
			h.router.MustRegister("/a", func(s string) string { <-gates["a"]; return "a-" + s })
			h.router.MustRegister("/b", func(s string) string { <-gates["b"]; return "b-" + s })

			peerA := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 52001}
			peerB := &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 52002}
			ra := runner.Execute(context.Background(), []byte(wire.IDHeader("1", "/a", "A")), peerA)
			rb := runner.Execute(context.Background(), []byte(wire.IDHeader("1", "/b", "B")), peerB)
			require.NoError(t, ra.Err)
			require.NoError(t, rb.Err)
			assert.Equal(t, "1", ra.ID)
			assert.Equal(t, "1", rb.ID)

			peers := map[string]net.Addr{"a": peerA, "b": peerB}
			second := "b"
			if firstDone == "b" {
				second = "a"
			}
			close(gates[firstDone])
			require.Eventually(t, func() bool { return len(h.sink.to(peers[firstDone])) == 1 }, time.Second, 5*time.Millisecond)
			close(gates[second])
			h.disp.Wait()

			assert.Equal(t, []string{"a-A"}, h.sink.to(peerA))
			assert.Equal(t, []string{"b-B"}, h.sink.to(peerB))
			assert.Equal(t, 0, h.disp.Pending())
		})
	}
}
