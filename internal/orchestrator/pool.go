package orchestrator

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

const defaultPoolWorkers = 4

// TickFunc выполняет один тик case.
type TickFunc func(ctx context.Context, caseID uuid.UUID)

// Pool сериализует тики по case.
//
// Для каждого активного case работает одна горутина. Число одновременно
// выполняемых тиков ограничено семафором. Schedule во время тика
// выставляет флаг pending: после тика выполняется ровно один
// дополнительный тик, сколько бы раз ни вызывался Schedule.
// Schedule, пока тик ждёт семафор, лишнего тика не добавляет.
type Pool struct {
	sem    *semaphore.Weighted
	tick   TickFunc
	logger *slog.Logger

	mu     sync.Mutex
	active map[uuid.UUID]*slot

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type slot struct {
	pending bool
}

// NewPool создаёт Pool на workers одновременных тиков.
func NewPool(workers int, tick TickFunc, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = defaultPoolWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		sem:    semaphore.NewWeighted(int64(workers)),
		tick:   tick,
		logger: logger,
		active: make(map[uuid.UUID]*slot),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Schedule ставит тик case в очередь.
func (p *Pool) Schedule(caseID uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ctx.Err() != nil {
		return
	}
	if s, ok := p.active[caseID]; ok {
		s.pending = true
		return
	}
	p.active[caseID] = &slot{}
	p.wg.Add(1)
	go p.run(caseID)
}

// Active возвращает число case с запланированным или выполняемым тиком.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Close отменяет ожидающие тики и ждёт выполняемые.
func (p *Pool) Close() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pool) run(caseID uuid.UUID) {
	defer p.wg.Done()
	for {
		if err := p.sem.Acquire(p.ctx, 1); err != nil {
			p.mu.Lock()
			delete(p.active, caseID)
			p.mu.Unlock()
			return
		}
		// тик ещё не начат и увидит все изменения до этого момента
		p.mu.Lock()
		p.active[caseID].pending = false
		p.mu.Unlock()

		p.safeTick(caseID)
		p.sem.Release(1)

		p.mu.Lock()
		s := p.active[caseID]
		if !s.pending {
			delete(p.active, caseID)
			p.mu.Unlock()
			return
		}
		s.pending = false
		p.mu.Unlock()
	}
}

func (p *Pool) safeTick(caseID uuid.UUID) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("tick panic",
				"case_id", caseID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	p.tick(p.ctx, caseID)
}
