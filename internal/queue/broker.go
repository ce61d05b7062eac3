package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shaiso/flowcase/internal/domain"
)

// Значения по умолчанию.
const (
	defaultPollTimeout     = 30 * time.Second
	defaultMaxWait         = 45 * time.Second
	defaultNoGroupTimeout  = 120 * time.Second
	defaultSentTTL         = 5 * time.Minute
	defaultSlowInterval    = time.Second
	defaultCleanupInterval = time.Minute
	defaultPingTTL         = 120 * time.Second
)

var serviceUnavailable = []byte("<h1>Service Unavailable</h1>")

// CallbackRunner отправляет ответ на внешний callback события.
type CallbackRunner interface {
	CallAsync(id string, cb *domain.Callback, headers map[string]string, body []byte)
}

// Config — конфигурация Broker.
type Config struct {
	Callbacks CallbackRunner
	Logger    *slog.Logger

	PollTimeout     time.Duration // таймаут long-poll воркера (default: 30s)
	MaxWait         time.Duration // максимальное ожидание Submit (default: 45s)
	NoGroupTimeout  time.Duration // ответ 503 для события без группы (default: 120s)
	SentTTL         time.Duration // срок жизни выданного события без ответа (default: 5m)
	SlowInterval    time.Duration // период прохода медленных воркеров (default: 1s)
	CleanupInterval time.Duration // период очистки (default: 1m)
	PingTTL         time.Duration // срок жизни пинга воркера в Stats (default: 120s)
}

// Broker сопоставляет события и воркеров.
//
// Всё сопоставление выполняется под одним мьютексом.
// Ожидающие воркеры и отправители освобождаются ровно один раз.
type Broker struct {
	callbacks CallbackRunner
	logger    *slog.Logger

	pollTimeout     time.Duration
	maxWait         time.Duration
	noGroupTimeout  time.Duration
	sentTTL         time.Duration
	slowInterval    time.Duration
	cleanupInterval time.Duration
	pingTTL         time.Duration

	mu     sync.Mutex
	events map[string]*Event
	routes *routes

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// New создаёт Broker.
func New(cfg Config) *Broker {
	b := &Broker{
		callbacks:       cfg.Callbacks,
		logger:          cfg.Logger,
		pollTimeout:     durationOr(cfg.PollTimeout, defaultPollTimeout),
		maxWait:         durationOr(cfg.MaxWait, defaultMaxWait),
		noGroupTimeout:  durationOr(cfg.NoGroupTimeout, defaultNoGroupTimeout),
		sentTTL:         durationOr(cfg.SentTTL, defaultSentTTL),
		slowInterval:    durationOr(cfg.SlowInterval, defaultSlowInterval),
		cleanupInterval: durationOr(cfg.CleanupInterval, defaultCleanupInterval),
		pingTTL:         durationOr(cfg.PingTTL, defaultPingTTL),
		events:          make(map[string]*Event),
		routes:          newRoutes(),
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

func durationOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Start запускает периодические проходы: медленные воркеры и очистку.
func (b *Broker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	b.cancelFunc = cancel

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		b.loop(ctx, b.slowInterval, b.slowPass)
	}()
	go func() {
		defer b.wg.Done()
		b.loop(ctx, b.cleanupInterval, b.cleanup)
	}()
	b.logger.Info("queue broker started", "poll_timeout", b.pollTimeout, "no_group_timeout", b.noGroupTimeout)
}

// Stop останавливает периодические проходы.
func (b *Broker) Stop() {
	if b.cancelFunc != nil {
		b.cancelFunc()
	}
	b.wg.Wait()
}

func (b *Broker) loop(ctx context.Context, interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// live — событие ещё в брокере и не выдано воркеру.
func (b *Broker) live(e *Event) bool {
	return b.events[e.ID] == e && e.sent.IsZero()
}

// Enqueue добавляет событие. Используется мостом оркестратора.
func (b *Broker) Enqueue(e *Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.events[e.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateEvent, e.ID)
	}
	e.arrived = time.Now()
	b.events[e.ID] = e

	g := b.routes.lookup(e.Path)
	if g == nil {
		b.logger.Debug("event without worker group", "event_id", e.ID, "path", e.Path)
		time.AfterFunc(b.noGroupTimeout, func() { b.expireUnassigned(e) })
		return nil
	}
	b.assignLocked(g, e)
	return nil
}

// assignLocked отдаёт событие ждущему быстрому воркеру или ставит в очередь.
func (b *Broker) assignLocked(g *group, e *Event) {
	e.group = g
	if p := g.popFast(); p != nil {
		b.markSentLocked(g, e)
		p.release(e)
		return
	}
	g.queue = append(g.queue, e)
}

func (b *Broker) markSentLocked(g *group, e *Event) {
	e.sent = time.Now()
	g.delivered++
}

// expireUnassigned отвечает 503 на событие, не попавшее ни в одну группу.
func (b *Broker) expireUnassigned(e *Event) {
	b.mu.Lock()
	expired := b.events[e.ID] == e && e.group == nil
	b.mu.Unlock()
	if !expired {
		return
	}
	b.logger.Warn("event without worker group expired", "event_id", e.ID, "path", e.Path)
	_ = b.Respond(e.ID, 503, map[string]string{"content-type": "text/html"}, serviceUnavailable)
}

// Submit добавляет внешнее событие.
//
// При wait <= 0 возвращается сразу с nil. Иначе ждёт ответ воркера
// не дольше wait (ограничено MaxWait) и возвращает его
// или ErrGatewayTimeout.
func (b *Broker) Submit(ctx context.Context, e *Event, wait time.Duration) (*Response, error) {
	if wait <= 0 {
		return nil, b.Enqueue(e)
	}
	if wait > b.maxWait {
		wait = b.maxWait
	}
	w := newWaiter()
	e.waiter = w
	if err := b.Enqueue(e); err != nil {
		return nil, err
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case resp := <-w.ch:
		return &resp, nil
	case <-timer.C:
	case <-ctx.Done():
	}
	if w.claim() {
		return nil, ErrGatewayTimeout
	}
	resp := <-w.ch
	return &resp, nil
}

// Poll ждёт событие для воркера workerID группы prefix.
//
// slow > 0 делает воркера медленным. timeout <= 0 означает PollTimeout.
// По таймауту возвращает nil.
func (b *Broker) Poll(ctx context.Context, prefix, workerID string, slow, timeout time.Duration) (*Delivery, error) {
	if timeout <= 0 {
		timeout = b.pollTimeout
	}

	b.mu.Lock()
	g, ok := b.routes.groups[prefix]
	if !ok {
		g = newGroup(prefix)
		b.routes.add(g)
		b.logger.Info("worker group created", "prefix", prefix)
		b.adoptLocked(g)
	}

	now := time.Now()
	g.lastPoll = now
	p := &parked{id: workerID, slow: slow, ch: make(chan *Event, 1)}

	if slow > 0 {
		g.pings[workerID+"@slow"] = now
		if g.lastFast.Add(slow).After(now) {
			g.slow = append(g.slow, p)
			b.mu.Unlock()
			return b.wait(ctx, g, p, timeout)
		}
	} else {
		g.pings[workerID] = now
		g.lastFast = now
	}

	if e := g.pop(b.live); e != nil {
		b.markSentLocked(g, e)
		b.mu.Unlock()
		return b.sent(e), nil
	}
	if slow > 0 {
		g.slow = append(g.slow, p)
	} else {
		g.fast = append(g.fast, p)
	}
	b.mu.Unlock()
	return b.wait(ctx, g, p, timeout)
}

// adoptLocked забирает в новую группу события без группы, по порядку поступления.
func (b *Broker) adoptLocked(g *group) {
	var orphans []*Event
	for _, e := range b.events {
		if e.group == nil && e.sent.IsZero() && strings.HasPrefix(e.Path, g.prefix) {
			orphans = append(orphans, e)
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].arrived.Before(orphans[j].arrived) })
	for _, e := range orphans {
		b.assignLocked(g, e)
	}
}

func (b *Broker) wait(ctx context.Context, g *group, p *parked, timeout time.Duration) (*Delivery, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case e := <-p.ch:
		return b.deliver(ctx, g, e)
	case <-timer.C:
	case <-ctx.Done():
	}

	b.mu.Lock()
	if !p.done {
		p.done = true
		g.fast = removeParked(g.fast, p)
		g.slow = removeParked(g.slow, p)
		b.mu.Unlock()
		return nil, ctx.Err()
	}
	b.mu.Unlock()
	return b.deliver(ctx, g, <-p.ch)
}

// deliver отдаёт событие воркеру. Если запрос воркера уже отменён,
// событие возвращается в очередь.
func (b *Broker) deliver(ctx context.Context, g *group, e *Event) (*Delivery, error) {
	if err := ctx.Err(); err != nil {
		b.requeue(g, e)
		return nil, err
	}
	return b.sent(e), nil
}

// requeue возвращает выданное событие в начало очереди группы.
func (b *Broker) requeue(g *group, e *Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.events[e.ID] != e {
		return
	}
	e.sent = time.Time{}
	if p := g.popFast(); p != nil {
		b.markSentLocked(g, e)
		p.release(e)
		return
	}
	g.queue = append([]*Event{e}, g.queue...)
	b.logger.Debug("event returned to queue", "event_id", e.ID, "path", e.Path)
}

// sent вызывается в горутине воркера после выдачи события.
func (b *Broker) sent(e *Event) *Delivery {
	b.logger.Debug("event sent to worker", "event_id", e.ID, "path", e.Path)
	if e.OnSent != nil {
		e.OnSent()
	}
	return e.delivery()
}

// Respond передаёт ответ воркера. Ответ получает ровно один адресат:
// ожидающий отправитель, затем OnResponse, затем внешний callback.
func (b *Broker) Respond(eventID string, status int, headers map[string]string, body []byte) error {
	b.mu.Lock()
	e, ok := b.events[eventID]
	if ok {
		delete(b.events, eventID)
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}

	b.logger.Debug("event response", "event_id", eventID, "path", e.Path, "status", status)
	resp := Response{Status: status, Headers: headers, Body: body}

	if e.waiter != nil && e.waiter.claim() {
		e.waiter.ch <- resp
		return nil
	}
	if e.OnResponse != nil {
		e.OnResponse(resp)
		return nil
	}
	if e.Callback != nil && b.callbacks != nil {
		h := make(map[string]string, len(headers)+1)
		for k, v := range headers {
			h[k] = v
		}
		h["fw-status"] = fmt.Sprint(status)
		b.callbacks.CallAsync(eventID, e.Callback, h, body)
	}
	return nil
}

// slowPass выдаёт события медленным воркерам.
func (b *Broker) slowPass() {
	now := time.Now()
	var deliveries []struct {
		p *parked
		e *Event
	}

	b.mu.Lock()
	for _, g := range b.routes.list() {
		for i := 0; i < len(g.slow); {
			p := g.slow[i]
			if p.done {
				g.slow = append(g.slow[:i], g.slow[i+1:]...)
				continue
			}
			e := g.peek(b.live)
			if e == nil {
				break
			}
			if now.Sub(e.arrived) <= p.slow && now.Sub(g.lastFast) <= p.slow {
				i++
				continue
			}
			g.pop(b.live)
			g.slow = append(g.slow[:i], g.slow[i+1:]...)
			b.markSentLocked(g, e)
			deliveries = append(deliveries, struct {
				p *parked
				e *Event
			}{p, e})
		}
	}
	for _, d := range deliveries {
		d.p.release(d.e)
	}
	b.mu.Unlock()
}

// cleanup удаляет события, выданные воркерам давно и оставшиеся без ответа.
func (b *Broker) cleanup() {
	expired := time.Now().Add(-b.sentTTL)

	b.mu.Lock()
	defer b.mu.Unlock()
	for id, e := range b.events {
		if !e.sent.IsZero() && e.sent.Before(expired) {
			delete(b.events, id)
			b.logger.Warn("queue event expired without response", "event_id", id, "path", e.Path)
		}
	}
}
