package orchestrator

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowcase/internal/domain"
)

// waitingCases — реестр запросов, ждущих завершения case.
type waitingCases struct {
	mu      sync.Mutex
	waiters map[uuid.UUID][]chan *domain.Case
}

func newWaitingCases() *waitingCases {
	return &waitingCases{waiters: make(map[uuid.UUID][]chan *domain.Case)}
}

func (w *waitingCases) add(id uuid.UUID) chan *domain.Case {
	ch := make(chan *domain.Case, 1)
	w.mu.Lock()
	w.waiters[id] = append(w.waiters[id], ch)
	w.mu.Unlock()
	return ch
}

func (w *waitingCases) remove(id uuid.UUID, ch chan *domain.Case) {
	w.mu.Lock()
	defer w.mu.Unlock()
	list := w.waiters[id]
	for i, x := range list {
		if x == ch {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(w.waiters, id)
	} else {
		w.waiters[id] = list
	}
}

// release отдаёт завершённый case всем ожидающим.
func (w *waitingCases) release(c *domain.Case) int {
	w.mu.Lock()
	list := w.waiters[c.ID]
	delete(w.waiters, c.ID)
	w.mu.Unlock()

	for _, ch := range list {
		ch <- c
	}
	return len(list)
}

func (w *waitingCases) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, list := range w.waiters {
		n += len(list)
	}
	return n
}

// taskTimers — таймеры таймаутов отправленных tasks.
type taskTimers struct {
	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
	closed bool
}

func newTaskTimers() *taskTimers {
	return &taskTimers{timers: make(map[uuid.UUID]*time.Timer)}
}

func (t *taskTimers) start(id uuid.UUID, d time.Duration, fn func(uuid.UUID)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if old, ok := t.timers[id]; ok {
		old.Stop()
	}
	t.timers[id] = time.AfterFunc(d, func() {
		t.mu.Lock()
		delete(t.timers, id)
		t.mu.Unlock()
		fn(id)
	})
}

func (t *taskTimers) stop(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[id]; ok {
		timer.Stop()
		delete(t.timers, id)
	}
}

func (t *taskTimers) stopAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
}
