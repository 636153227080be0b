package server

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jsonsqlite/jsonsqlite/internal/errors"
)

func TestShutdown_ClosesInReverseOrder(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{ShutdownTimeout: time.Second})

	var mu sync.Mutex
	var order []string
	record := func(name string) CloserFunc {
		return func() error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	sm.RegisterCloser("registry", record("registry"))
	sm.RegisterCloser("http", record("http"))

	started := false
	sm.OnShutdownStart(func() { started = true })

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown() failed: %v", err)
	}
	if !started {
		t.Error("start callback not called")
	}
	if want := []string{"http", "registry"}; !reflect.DeepEqual(order, want) {
		t.Errorf("close order = %v, want %v", order, want)
	}
	if !sm.IsShuttingDown() {
		t.Error("IsShuttingDown() = false after Shutdown")
	}

	// A second call does not close again.
	if err := sm.Shutdown(context.Background(), "again"); err != nil {
		t.Errorf("second Shutdown() failed: %v", err)
	}
	if len(order) != 2 {
		t.Errorf("closers ran %d times", len(order))
	}
}

func TestShutdown_ReportsCloseErrors(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	boom := stderrors.New("boom")
	sm.RegisterCloser("broken", CloserFunc(func() error { return boom }))
	sm.RegisterCloser("fine", CloserFunc(func() error { return nil }))

	err := sm.Shutdown(context.Background(), "test")
	if !stderrors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if !strings.Contains(err.Error(), "close broken") {
		t.Errorf("error does not name the resource: %v", err)
	}
	if got := sm.Wait(); !stderrors.Is(got, boom) {
		t.Errorf("Wait() = %v", got)
	}
}

func TestShutdown_DrainTimeout(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{ShutdownTimeout: time.Second, DrainTimeout: 100 * time.Millisecond})
	if !sm.TrackRequest() {
		t.Fatal("TrackRequest() rejected before shutdown")
	}

	err := sm.Shutdown(context.Background(), "test")
	if !errors.IsState(err) {
		t.Fatalf("expected drain timeout state error, got %v", err)
	}
	if sm.TrackRequest() {
		t.Error("TrackRequest() accepted during shutdown")
	}
	if sm.InFlightCount() != 1 {
		t.Errorf("in-flight = %d, want 1", sm.InFlightCount())
	}
}

func TestShutdown_WaitsForInFlight(t *testing.T) {
	sm := NewShutdownManager(ShutdownConfig{ShutdownTimeout: 5 * time.Second, DrainTimeout: 5 * time.Second})
	sm.TrackRequest()

	go func() {
		time.Sleep(100 * time.Millisecond)
		sm.UntrackRequest()
	}()

	if err := sm.Shutdown(context.Background(), "test"); err != nil {
		t.Fatalf("Shutdown() failed: %v", err)
	}
	if sm.InFlightCount() != 0 {
		t.Errorf("in-flight = %d after drain", sm.InFlightCount())
	}
}

func TestListenForSignals_ContextCancelled(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := sm.ListenForSignals(ctx); err != nil {
		t.Fatalf("ListenForSignals() failed: %v", err)
	}
	select {
	case <-sm.ShutdownCh():
	default:
		t.Error("shutdown channel not closed")
	}
}

func TestShutdownMiddleware(t *testing.T) {
	sm := NewShutdownManager(DefaultShutdownConfig())
	var inFlight int64
	h := ShutdownMiddleware(sm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inFlight = sm.InFlightCount()
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || inFlight != 1 {
		t.Errorf("status = %d, in-flight during request = %d", rec.Code, inFlight)
	}
	if sm.InFlightCount() != 0 {
		t.Errorf("request not untracked")
	}

	sm.Shutdown(context.Background(), "test")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status during shutdown = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), errors.CodeConnectionClosed) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHTTPServerCloser(t *testing.T) {
	srv := httptest.NewUnstartedServer(http.NotFoundHandler())
	srv.Start()
	defer srv.Close()

	if err := (HTTPServerCloser{Server: srv.Config, Timeout: time.Second}).Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if _, err := http.Get(srv.URL); err == nil {
		t.Error("server still accepting requests after Close")
	}
}
