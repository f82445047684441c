package health_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outboxrelay/relay/internal/adapters/health"
	"github.com/outboxrelay/relay/internal/core/ports"
	"github.com/outboxrelay/relay/test/mocks"
)

type fakeProbe struct {
	state     string
	startedAt time.Time
}

func (f fakeProbe) State() string        { return f.state }
func (f fakeProbe) StartedAt() time.Time { return f.startedAt }

type fakeStats struct{ snapshot interface{} }

func (f fakeStats) StatsSnapshot() interface{} { return f.snapshot }

func newTestServer(probe health.Probe, stats health.StatsProvider,
	store *mocks.Store, pub *mocks.Publisher, cb *mocks.Breaker) *health.Server {
	return health.NewServer(":0", probe, stats, store, pub, cb, 5*time.Second, nil)
}

func get(t *testing.T, srv *health.Server, path string) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	return doRequest(srv, req, rec)
}

func doRequest(srv *health.Server, req *http.Request, rec *httptest.ResponseRecorder) *http.Response {
	srv.Handler().ServeHTTP(rec, req)
	return rec.Result()
}

func TestHandleLiveness_UpUnlessSupervisorInError(t *testing.T) {
	probe := fakeProbe{state: "running"}
	srv := newTestServer(probe, fakeStats{}, mocks.NewStore(), mocks.NewPublisher(), mocks.NewBreaker())

	resp := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleLiveness_DownWhenSupervisorInError(t *testing.T) {
	probe := fakeProbe{state: "error"}
	srv := newTestServer(probe, fakeStats{}, mocks.NewStore(), mocks.NewPublisher(), mocks.NewBreaker())

	resp := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleReadiness_UpWhenEverythingHealthy(t *testing.T) {
	probe := fakeProbe{state: "running"}
	cb := mocks.NewBreaker()
	cb.StateVal = ports.BreakerClosed
	srv := newTestServer(probe, fakeStats{}, mocks.NewStore(), mocks.NewPublisher(), cb)

	resp := get(t, srv, "/readyz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleReadiness_DownWhenSupervisorNotRunning(t *testing.T) {
	probe := fakeProbe{state: "starting"}
	srv := newTestServer(probe, fakeStats{}, mocks.NewStore(), mocks.NewPublisher(), mocks.NewBreaker())

	resp := get(t, srv, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleReadiness_DownWhenStoreUnreachable(t *testing.T) {
	probe := fakeProbe{state: "running"}
	store := mocks.NewStore()
	store.PingErr = assertErr{}
	srv := newTestServer(probe, fakeStats{}, store, mocks.NewPublisher(), mocks.NewBreaker())

	resp := get(t, srv, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleReadiness_DownWhenBrokerUnreachable(t *testing.T) {
	probe := fakeProbe{state: "running"}
	pub := mocks.NewPublisher()
	pub.PingError = assertErr{}
	srv := newTestServer(probe, fakeStats{}, mocks.NewStore(), pub, mocks.NewBreaker())

	resp := get(t, srv, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleReadiness_DownWhenBreakerOpen(t *testing.T) {
	probe := fakeProbe{state: "running"}
	cb := mocks.NewBreaker()
	cb.StateVal = ports.BreakerOpen
	srv := newTestServer(probe, fakeStats{}, mocks.NewStore(), mocks.NewPublisher(), cb)

	resp := get(t, srv, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleStartup_UpOnceLeftStarting(t *testing.T) {
	probe := fakeProbe{state: "running", startedAt: time.Now()}
	srv := newTestServer(probe, fakeStats{}, mocks.NewStore(), mocks.NewPublisher(), mocks.NewBreaker())

	resp := get(t, srv, "/startupz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleStartup_StillStartingWithinTimeout(t *testing.T) {
	probe := fakeProbe{state: "starting", startedAt: time.Now()}
	srv := newTestServer(probe, fakeStats{}, mocks.NewStore(), mocks.NewPublisher(), mocks.NewBreaker())

	resp := get(t, srv, "/startupz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleStartup_TimeoutPastStartupTimeout(t *testing.T) {
	probe := fakeProbe{state: "starting", startedAt: time.Now().Add(-time.Hour)}
	srv := newTestServer(probe, fakeStats{}, mocks.NewStore(), mocks.NewPublisher(), mocks.NewBreaker())

	resp := get(t, srv, "/startupz")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleStats_RendersSnapshot(t *testing.T) {
	probe := fakeProbe{state: "running"}
	stats := fakeStats{snapshot: map[string]int{"processed": 42}}
	srv := newTestServer(probe, stats, mocks.NewStore(), mocks.NewPublisher(), mocks.NewBreaker())

	resp := get(t, srv, "/stats")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleResetBreaker_InvokesReset(t *testing.T) {
	probe := fakeProbe{state: "running"}
	cb := mocks.NewBreaker()
	cb.StateVal = ports.BreakerOpen
	srv := newTestServer(probe, fakeStats{}, mocks.NewStore(), mocks.NewPublisher(), cb)

	req := httptest.NewRequest(http.MethodPost, "/admin/reset-cb", nil)
	rec := httptest.NewRecorder()
	resp := doRequest(srv, req, rec)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, cb.ResetCount)
	assert.Equal(t, ports.BreakerClosed, cb.State())
}

type assertErr struct{}

func (assertErr) Error() string { return "unreachable" }
