package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/shaiso/flowcase/internal/domain"
)

// CaseCreator создаёт case по срабатыванию cron job.
type CaseCreator interface {
	CreateScheduledCase(ctx context.Context, caseType string, params json.RawMessage) error
}

// CaseCreatorFunc — адаптер функции к CaseCreator.
type CaseCreatorFunc func(ctx context.Context, caseType string, params json.RawMessage) error

// CreateScheduledCase вызывает f.
func (f CaseCreatorFunc) CreateScheduledCase(ctx context.Context, caseType string, params json.RawMessage) error {
	return f(ctx, caseType, params)
}

// Job — зарегистрированный cron job.
type Job struct {
	CaseType   string          `json:"case_type"`
	Expression string          `json:"expression"`
	Params     json.RawMessage `json:"params,omitempty"`
	Next       time.Time       `json:"next"`
	Prev       time.Time       `json:"prev,omitempty"`
}

// Scheduler запускает cron jobs определений flow.
type Scheduler struct {
	cron    *cron.Cron
	creator CaseCreator
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	entries map[cron.EntryID]*Job
}

// Config — конфигурация Scheduler.
type Config struct {
	Creator CaseCreator
	Logger  *slog.Logger

	// Location — часовой пояс выражений (default: UTC).
	Location *time.Location

	// CreateTimeout — таймаут создания одного case (default: 30s).
	CreateTimeout time.Duration
}

// New создаёт новый Scheduler. Jobs регистрируются через Reload.
func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = 30 * time.Second
	}
	return &Scheduler{
		cron:    cron.New(cron.WithParser(cronParser), cron.WithLocation(cfg.Location)),
		creator: cfg.Creator,
		logger:  cfg.Logger,
		timeout: cfg.CreateTimeout,
		entries: make(map[cron.EntryID]*Job),
	}
}

// Start запускает cron в отдельной горутине.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop останавливает cron и ждёт завершения запущенных jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// Reload перерегистрирует jobs всех определений.
// Невалидные выражения логируются и пропускаются.
func (s *Scheduler) Reload(defs []*domain.FlowDef) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.entries {
		s.cron.Remove(id)
	}
	s.entries = make(map[cron.EntryID]*Job)

	for _, def := range defs {
		for _, cj := range def.CronJobs {
			params, err := json.Marshal(cj.Params)
			if err != nil {
				s.logger.Warn("cron job params", "case_type", def.Code, "expression", cj.Expression, "error", err)
				continue
			}
			if cj.Params == nil {
				params = json.RawMessage(`{}`)
			}
			job := &Job{CaseType: def.Code, Expression: cj.Expression, Params: params}
			id, err := s.cron.AddFunc(cj.Expression, func() { s.fire(job) })
			if err != nil {
				s.logger.Warn("cron job skipped", "case_type", def.Code, "expression", cj.Expression, "error", err)
				continue
			}
			s.entries[id] = job
		}
	}
	s.logger.Info("cron jobs registered", "count", len(s.entries))
}

// Jobs возвращает зарегистрированные jobs с временем следующего запуска.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]Job, 0, len(s.entries))
	for id, j := range s.entries {
		job := *j
		e := s.cron.Entry(id)
		job.Next = e.Next
		job.Prev = e.Prev
		if job.Next.IsZero() {
			if next, err := NextRun(job.Expression, time.Now()); err == nil {
				job.Next = next
			}
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].CaseType != jobs[k].CaseType {
			return jobs[i].CaseType < jobs[k].CaseType
		}
		return jobs[i].Expression < jobs[k].Expression
	})
	return jobs
}

// fire создаёт case. Ошибка одного job не влияет на остальные.
func (s *Scheduler) fire(job *Job) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.creator.CreateScheduledCase(ctx, job.CaseType, job.Params); err != nil {
		s.logger.Error("cron job failed",
			"case_type", job.CaseType,
			"expression", job.Expression,
			"error", fmt.Errorf("create case: %w", err),
		)
		return
	}
	s.logger.Info("cron job fired", "case_type", job.CaseType, "expression", job.Expression)
}
