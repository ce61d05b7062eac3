package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaiso/flowcase/internal/domain"
)

type fakeCallbacks struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeCallbacks) CallAsync(id string, cb *domain.Callback, headers map[string]string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, id+" "+cb.URL+" "+headers["fw-status"]+" "+string(body))
}

func (f *fakeCallbacks) list() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestBroker(t *testing.T, cfg Config) *Broker {
	t.Helper()
	if cfg.SlowInterval == 0 {
		cfg.SlowInterval = 10 * time.Millisecond
	}
	b := New(cfg)
	b.Start(context.Background())
	t.Cleanup(b.Stop)
	return b
}

type pollResult struct {
	d   *Delivery
	err error
}

func pollAsync(b *Broker, prefix, id string, slow, timeout time.Duration) <-chan pollResult {
	ch := make(chan pollResult, 1)
	go func() {
		d, err := b.Poll(context.Background(), prefix, id, slow, timeout)
		ch <- pollResult{d, err}
	}()
	return ch
}

func waitWorkers(t *testing.T, b *Broker, prefix string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, st := range b.Stats() {
			if st.Prefix == prefix {
				return st.Workers >= n
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestBroker_DirectHandOff(t *testing.T) {
	b := newTestBroker(t, Config{})

	res := pollAsync(b, "/orders/", "w1", 0, 5*time.Second)
	waitWorkers(t, b, "/orders/", 1)

	var sent bool
	require.NoError(t, b.Enqueue(&Event{ID: "e1", Method: "POST", Path: "/orders/new", Body: []byte("{}"), OnSent: func() { sent = true }}))

	r := <-res
	require.NoError(t, r.err)
	require.NotNil(t, r.d)
	assert.Equal(t, "e1", r.d.ID)
	assert.Equal(t, "/orders/new", r.d.Path)
	assert.True(t, sent)

	st := b.Stats()
	require.Len(t, st, 1)
	assert.Equal(t, int64(1), st[0].Delivered)
	assert.Equal(t, 0, st[0].QueueSize)
}

func TestBroker_QueuedFIFO(t *testing.T) {
	b := newTestBroker(t, Config{})

	// создаём группу
	d, err := b.Poll(context.Background(), "/jobs/", "w1", 0, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, d)

	require.NoError(t, b.Enqueue(&Event{ID: "e1", Path: "/jobs/a"}))
	require.NoError(t, b.Enqueue(&Event{ID: "e2", Path: "/jobs/b"}))

	st := b.Stats()
	require.Len(t, st, 1)
	assert.Equal(t, 2, st[0].QueueSize)
	assert.NotNil(t, st[0].OldestEvent)

	d, err = b.Poll(context.Background(), "/jobs/", "w1", 0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "e1", d.ID)
	d, err = b.Poll(context.Background(), "/jobs/", "w1", 0, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "e2", d.ID)
}

func TestBroker_LongestPrefix(t *testing.T) {
	b := newTestBroker(t, Config{})
	for _, p := range []string{"/a/", "/a/b/", "/a/bc/", "/z/"} {
		_, err := b.Poll(context.Background(), p, "w", 0, time.Millisecond)
		require.NoError(t, err)
	}

	tests := []struct {
		path string
		want string
	}{
		{"/a/b/c", "/a/b/"},
		{"/a/bc/d", "/a/bc/"},
		{"/a/bd", "/a/"},
		{"/a/", "/a/"},
		{"/z/1", "/z/"},
		{"/b/1", ""},
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, tt := range tests {
		g := b.routes.lookup(tt.path)
		if tt.want == "" {
			assert.Nil(t, g, tt.path)
			continue
		}
		require.NotNil(t, g, tt.path)
		assert.Equal(t, tt.want, g.prefix, tt.path)
	}
}

func TestBroker_NoGroup503(t *testing.T) {
	b := newTestBroker(t, Config{NoGroupTimeout: 30 * time.Millisecond})

	resp, err := b.Submit(context.Background(), &Event{ID: "e1", Path: "/nobody/x"}, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 503, resp.Status)
}

func TestBroker_NewGroupAdoptsEvents(t *testing.T) {
	b := newTestBroker(t, Config{NoGroupTimeout: 50 * time.Millisecond})

	require.NoError(t, b.Enqueue(&Event{ID: "e1", Path: "/late/1"}))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, b.Enqueue(&Event{ID: "e2", Path: "/late/2"}))

	d, err := b.Poll(context.Background(), "/late/", "w1", 0, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "e1", d.ID)

	// после grace window событие в группе не получает 503
	time.Sleep(80 * time.Millisecond)
	d, err = b.Poll(context.Background(), "/late/", "w1", 0, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "e2", d.ID)
}

func TestBroker_SubmitWaitsForResponse(t *testing.T) {
	cb := &fakeCallbacks{}
	b := newTestBroker(t, Config{Callbacks: cb})

	res := pollAsync(b, "/svc/", "w1", 0, 5*time.Second)
	waitWorkers(t, b, "/svc/", 1)

	go func() {
		r := <-res
		_ = b.Respond(r.d.ID, 200, map[string]string{"content-type": "application/json"}, []byte(`{"ok":1}`))
	}()

	resp, err := b.Submit(context.Background(), &Event{
		ID: "e1", Path: "/svc/x",
		Callback: &domain.Callback{URL: "http://client"},
	}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, `{"ok":1}`, string(resp.Body))
	assert.Empty(t, cb.list())
}

func TestBroker_SubmitTimeoutFallsBackToCallback(t *testing.T) {
	cb := &fakeCallbacks{}
	b := newTestBroker(t, Config{Callbacks: cb})
	_, _ = b.Poll(context.Background(), "/svc/", "w1", 0, time.Millisecond)

	_, err := b.Submit(context.Background(), &Event{
		ID: "e1", Path: "/svc/x",
		Callback: &domain.Callback{URL: "http://client"},
	}, 20*time.Millisecond)
	require.ErrorIs(t, err, ErrGatewayTimeout)

	require.NoError(t, b.Respond("e1", 201, nil, []byte("late")))
	assert.Equal(t, []string{"e1 http://client 201 late"}, cb.list())
}

func TestBroker_Respond(t *testing.T) {
	b := newTestBroker(t, Config{})

	var got []Response
	require.NoError(t, b.Enqueue(&Event{ID: "t1", Path: "/x/", OnResponse: func(r Response) { got = append(got, r) }}))

	require.NoError(t, b.Respond("t1", 500, nil, []byte("boom")))
	require.ErrorIs(t, b.Respond("t1", 200, nil, nil), ErrEventNotFound)
	require.ErrorIs(t, b.Respond("missing", 200, nil, nil), ErrEventNotFound)

	require.Len(t, got, 1)
	assert.Equal(t, 500, got[0].Status)
}

func TestBroker_EnqueueDuplicate(t *testing.T) {
	b := newTestBroker(t, Config{})
	require.NoError(t, b.Enqueue(&Event{ID: "e1", Path: "/x/"}))
	require.ErrorIs(t, b.Enqueue(&Event{ID: "e1", Path: "/x/"}), ErrDuplicateEvent)
}

func TestBroker_PollTimeoutAndCancel(t *testing.T) {
	b := newTestBroker(t, Config{})

	d, err := b.Poll(context.Background(), "/p/", "w1", 0, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d, err = b.Poll(ctx, "/p/", "w1", 0, time.Second)
	assert.Nil(t, d)
	assert.ErrorIs(t, err, context.Canceled)

	// отменённый воркер не забирает события
	require.NoError(t, b.Enqueue(&Event{ID: "e1", Path: "/p/1"}))
	assert.Equal(t, 1, b.Stats()[0].QueueSize)
}

func TestBroker_CancelledWorkerReturnsEvent(t *testing.T) {
	b := newTestBroker(t, Config{})
	_, _ = b.Poll(context.Background(), "/r/", "w1", 0, time.Millisecond)
	require.NoError(t, b.Enqueue(&Event{ID: "e1", Path: "/r/1"}))
	require.NoError(t, b.Enqueue(&Event{ID: "e2", Path: "/r/2"}))

	// событие выдано воркеру, чей запрос отменён одновременно с выдачей
	b.mu.Lock()
	g := b.routes.groups["/r/"]
	p := &parked{id: "gone", ch: make(chan *Event, 1)}
	e := g.pop(b.live)
	b.markSentLocked(g, e)
	p.release(e)
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d, err := b.wait(ctx, g, p, time.Second)
	assert.Nil(t, d)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, b.Stats()[0].QueueSize)

	d, err = b.Poll(context.Background(), "/r/", "w2", 0, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "e1", d.ID)
}

func TestBroker_SlowWorkerWaitsForFast(t *testing.T) {
	b := newTestBroker(t, Config{})
	slow := 150 * time.Millisecond

	// быстрый воркер только что был
	_, _ = b.Poll(context.Background(), "/s/", "fast", 0, time.Millisecond)

	res := pollAsync(b, "/s/", "slow1", slow, 5*time.Second)
	waitWorkers(t, b, "/s/", 2)

	start := time.Now()
	require.NoError(t, b.Enqueue(&Event{ID: "e1", Path: "/s/1"}))

	r := <-res
	require.NoError(t, r.err)
	require.NotNil(t, r.d)
	assert.Equal(t, "e1", r.d.ID)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	st := b.Stats()
	assert.Equal(t, []string{"fast", "slow1@slow"}, st[0].WorkerIDs)
}

func TestBroker_SlowWorkerWithoutFast(t *testing.T) {
	b := newTestBroker(t, Config{NoGroupTimeout: time.Minute})
	require.NoError(t, b.Enqueue(&Event{ID: "e1", Path: "/s/1"}))

	d, err := b.Poll(context.Background(), "/s/", "slow1", time.Second, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "e1", d.ID)
}

func TestBroker_Cleanup(t *testing.T) {
	b := New(Config{SentTTL: time.Millisecond})
	_, _ = b.Poll(context.Background(), "/c/", "w", 0, time.Millisecond)
	require.NoError(t, b.Enqueue(&Event{ID: "e1", Path: "/c/1"}))
	d, err := b.Poll(context.Background(), "/c/", "w", 0, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)

	time.Sleep(5 * time.Millisecond)
	b.cleanup()

	assert.ErrorIs(t, b.Respond("e1", 200, nil, nil), ErrEventNotFound)
}

func TestParsePrefix(t *testing.T) {
	p, slow := ParsePrefix("/orders/@slow30")
	assert.Equal(t, "/orders/", p)
	assert.Equal(t, 30*time.Second, slow)

	p, slow = ParsePrefix("/orders/")
	assert.Equal(t, "/orders/", p)
	assert.Zero(t, slow)

	p, slow = ParsePrefix("@slow5")
	assert.Equal(t, "@slow5", p)
	assert.Zero(t, slow)
}
