package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowcase/internal/api"
	"github.com/shaiso/flowcase/internal/header"
	"github.com/shaiso/flowcase/internal/queue"
)

const testKey = "worker-key"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newQueueServer поднимает сервер только с маршрутами очереди.
func newQueueServer(t *testing.T) (*httptest.Server, *queue.Broker) {
	t.Helper()
	logger := testLogger()

	broker := queue.New(queue.Config{Logger: logger})
	broker.Start(context.Background())
	t.Cleanup(broker.Stop)

	mux := http.NewServeMux()
	h := api.NewHandler(api.Config{Broker: broker, WorkerAPIKey: testKey, Logger: logger})
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, broker
}

func startWorker(t *testing.T, cfg Config) *Worker {
	t.Helper()
	cfg.PollTimeout = time.Second
	cfg.MaxBackoff = 100 * time.Millisecond
	cfg.Logger = testLogger()
	w := New(cfg)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start worker: %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

func submit(t *testing.T, broker *queue.Broker, path string, headers map[string]string, body string) *queue.Response {
	t.Helper()
	id := uuid.NewString()
	if headers == nil {
		headers = map[string]string{}
	}
	headers[header.EventID] = id
	headers[header.URI] = path
	headers[header.Method] = http.MethodPost
	resp, err := broker.Submit(context.Background(), &queue.Event{
		ID:      id,
		Method:  http.MethodPost,
		Path:    path,
		Headers: headers,
		Body:    []byte(body),
	}, 5*time.Second)
	if err != nil {
		t.Fatalf("submit %s: %v", path, err)
	}
	return resp
}

// --- Worker Tests ---

func TestWorker_Echo(t *testing.T) {
	srv, broker := newQueueServer(t)
	startWorker(t, Config{BaseURL: srv.URL, Prefix: "/echo/", WorkerID: "w1", APIKey: testKey})

	resp := submit(t, broker, "/echo/ping", map[string]string{header.ContentType: "application/json"}, `{"ping":1}`)
	if resp.Status != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Status)
	}
	if string(resp.Body) != `{"ping":1}` {
		t.Errorf("expected echoed body, got %s", resp.Body)
	}
	if resp.Headers[header.ContentType] != "application/json" {
		t.Errorf("expected content-type application/json, got %v", resp.Headers)
	}
}

func TestWorker_HTTPForward(t *testing.T) {
	var gotPath, gotMethod, gotAuth string
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.RequestURI()
		gotMethod = r.Method
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "text/plain")
		w.Header().Set("X-Trace", "t-1")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write(append([]byte("got "), body...))
	}))
	defer target.Close()

	srv, broker := newQueueServer(t)
	startWorker(t, Config{
		BaseURL:  srv.URL,
		Prefix:   "/svc/",
		APIKey:   testKey,
		Registry: NewRegistry(&HTTPExecutor{Target: target.URL, StripPrefix: "/svc"}),
	})

	resp := submit(t, broker, "/svc/items?x=1", map[string]string{
		header.HeaderPrefix + "authorization": "Bearer abc",
	}, "hello")

	if resp.Status != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Status)
	}
	if string(resp.Body) != "got hello" {
		t.Errorf("expected body 'got hello', got %q", resp.Body)
	}
	if gotPath != "/items?x=1" {
		t.Errorf("expected path /items?x=1, got %s", gotPath)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("expected POST, got %s", gotMethod)
	}
	if gotAuth != "Bearer abc" {
		t.Errorf("expected unwrapped Authorization, got %q", gotAuth)
	}
	if resp.Headers["x-trace"] != "t-1" {
		t.Errorf("expected x-trace header, got %v", resp.Headers)
	}
	if resp.Headers["content-type"] != "text/plain" {
		t.Errorf("expected content-type text/plain, got %v", resp.Headers)
	}
	if _, ok := resp.Headers["content-length"]; ok {
		t.Errorf("content-length should not be forwarded: %v", resp.Headers)
	}
}

func TestWorker_TargetDown(t *testing.T) {
	target := httptest.NewServer(http.NotFoundHandler())
	url := target.URL
	target.Close()

	srv, broker := newQueueServer(t)
	startWorker(t, Config{
		BaseURL:  srv.URL,
		Prefix:   "/down/",
		APIKey:   testKey,
		Registry: NewRegistry(&HTTPExecutor{Target: url}),
	})

	resp := submit(t, broker, "/down/x", nil, "{}")
	if resp.Status != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Status)
	}
}

func TestWorker_Concurrency(t *testing.T) {
	var active, peak atomic.Int32
	slow := ExecutorFunc(func(ctx context.Context, e *Event) (*Result, error) {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(200 * time.Millisecond)
		active.Add(-1)
		return &Result{Status: http.StatusOK, Body: []byte(`"ok"`)}, nil
	})

	srv, broker := newQueueServer(t)
	startWorker(t, Config{
		BaseURL:     srv.URL,
		Prefix:      "/par/",
		APIKey:      testKey,
		Concurrency: 3,
		Registry:    NewRegistry(slow),
	})

	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, _ = broker.Submit(context.Background(), &queue.Event{
				ID:     uuid.NewString(),
				Method: http.MethodPost,
				Path:   "/par/x",
				Body:   []byte("{}"),
			}, 5*time.Second)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for events")
		}
	}
	if peak.Load() < 2 {
		t.Errorf("expected events to run in parallel, peak %d", peak.Load())
	}
}

func TestWorker_PollForbidden(t *testing.T) {
	srv, _ := newQueueServer(t)
	w := New(Config{BaseURL: srv.URL, Prefix: "/x/", APIKey: "wrong", PollTimeout: time.Second, Logger: testLogger()})

	_, err := w.poll(context.Background())
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestWorker_PollTimeout(t *testing.T) {
	srv, _ := newQueueServer(t)
	w := New(Config{BaseURL: srv.URL, Prefix: "/idle/", APIKey: testKey, PollTimeout: time.Second, Logger: testLogger()})

	e, err := w.poll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e != nil {
		t.Fatalf("expected no event, got %+v", e)
	}
}

func TestWorker_StopIsGraceful(t *testing.T) {
	srv, _ := newQueueServer(t)
	w := New(Config{BaseURL: srv.URL, Prefix: "/stop/", APIKey: testKey, PollTimeout: 5 * time.Second, Logger: testLogger()})
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not interrupt long-poll")
	}
	if !w.IsStopped() {
		t.Error("expected IsStopped")
	}
}

// --- Registry Tests ---

func TestRegistry_LongestPrefix(t *testing.T) {
	def := ExecutorFunc(func(context.Context, *Event) (*Result, error) { return &Result{Status: 1}, nil })
	pdf := ExecutorFunc(func(context.Context, *Event) (*Result, error) { return &Result{Status: 2}, nil })
	r := NewRegistry(def)
	r.Register("/orders/pdf", pdf)

	tests := []struct {
		uri  string
		want int
	}{
		{"/orders/pdf/1", 2},
		{"/orders/list", 1},
		{"/other", 1},
	}
	for _, tt := range tests {
		ex, err := r.Get(tt.uri)
		if err != nil {
			t.Fatalf("Get(%s): %v", tt.uri, err)
		}
		res, _ := ex.Execute(context.Background(), &Event{})
		if res.Status != tt.want {
			t.Errorf("Get(%s): expected executor %d, got %d", tt.uri, tt.want, res.Status)
		}
	}

	empty := NewRegistry(nil)
	if _, err := empty.Get("/x"); !errors.Is(err, ErrNoExecutor) {
		t.Errorf("expected ErrNoExecutor, got %v", err)
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := calculateBackoff(tt.attempt, 30*time.Second); got != tt.want {
			t.Errorf("attempt %d: expected %v, got %v", tt.attempt, tt.want, got)
		}
	}
}
