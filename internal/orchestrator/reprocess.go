package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/flowcase/internal/domain"
	"github.com/shaiso/flowcase/internal/repo"
	"github.com/shaiso/flowcase/internal/telemetry"
)

var codeRangeRe = regexp.MustCompile(`^([0-9]+)$|^([0-9]*)-([0-9]*)$`)

// Границы открытых диапазонов кодов ("-299", "500-").
const (
	minResponseCode = 0
	maxResponseCode = 1000
)

// ClearFilter — какие tasks исходного case выполнить заново.
type ClearFilter struct {
	// Steps — коды шагов.
	Steps []string `json:"steps,omitempty"`

	// Workers — коды воркеров: "worker" или "step.worker".
	Workers []string `json:"workers,omitempty"`

	// Tasks — id tasks.
	Tasks []string `json:"tasks,omitempty"`

	// ResponseCodes — коды и диапазоны: "500", "400-499", "-299", "500-".
	ResponseCodes []string `json:"responseCodes,omitempty"`
}

type codeRange struct{ from, to int }

func parseCodeRanges(codes []string) ([]codeRange, error) {
	ranges := make([]codeRange, 0, len(codes))
	for _, s := range codes {
		m := codeRangeRe.FindStringSubmatch(s)
		if m == nil || s == "-" {
			return nil, fmt.Errorf("%w: response code range %q", ErrInvalidRequest, s)
		}
		if m[1] != "" {
			code, _ := strconv.Atoi(m[1])
			ranges = append(ranges, codeRange{code, code})
			continue
		}
		r := codeRange{minResponseCode, maxResponseCode}
		if m[2] != "" {
			r.from, _ = strconv.Atoi(m[2])
		}
		if m[3] != "" {
			r.to, _ = strconv.Atoi(m[3])
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

// clears возвращает true, если task нужно выполнить заново.
func (f *ClearFilter) clears(t *domain.Task, ranges []codeRange) bool {
	if t.Step == domain.StepResponse {
		return true
	}
	if slices.Contains(f.Steps, t.Step) ||
		slices.Contains(f.Workers, t.Worker) ||
		slices.Contains(f.Workers, t.Step+"."+t.Worker) ||
		slices.Contains(f.Tasks, t.ID.String()) {
		return true
	}
	if t.ResponseCode > 0 {
		for _, r := range ranges {
			if t.ResponseCode >= r.from && t.ResponseCode <= r.to {
				return true
			}
		}
	}
	return false
}

// Reprocess создаёт новый case из завершённого case id.
//
// Новый case получает params, assets и callback исходного и копии его
// tasks, не попавших под filter. Копии считаются завершёнными, поэтому
// тики нового case создают заново только очищенные tasks.
func (m *Manager) Reprocess(ctx context.Context, id uuid.UUID, filter ClearFilter) (uuid.UUID, error) {
	ranges, err := parseCodeRanges(filter.ResponseCodes)
	if err != nil {
		return uuid.Nil, err
	}

	src, err := m.cases.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return uuid.Nil, fmt.Errorf("%w: %s", ErrCaseNotFound, id)
		}
		return uuid.Nil, fmt.Errorf("get case: %w", err)
	}
	if !src.IsFinished() {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrCaseNotFinished, id)
	}
	if _, err := m.resolve(src.CaseType); err != nil {
		return uuid.Nil, err
	}

	tasks := m.finalTasks(ctx, src)

	assets := make([]domain.Asset, len(src.Assets))
	for i, a := range src.Assets {
		assets[i] = domain.Asset{ID: a.ID, ExtName: a.ExtName}
	}
	now := time.Now().UTC()
	c := &domain.Case{
		ID:         uuid.New(),
		CaseType:   src.CaseType,
		ExternalID: src.ExternalID,
		Params:     src.Params,
		Assets:     assets,
		Callback:   src.Callback,
		Created:    now,
		State:      domain.CaseStateCreated,
	}
	if err := m.cases.Insert(ctx, c); err != nil {
		return uuid.Nil, fmt.Errorf("insert case: %w", err)
	}

	kept := 0
	for i := range tasks {
		t := &tasks[i]
		if !t.IsFinished() || filter.clears(t, ranges) {
			continue
		}
		cp := *t
		cp.ID = uuid.New()
		cp.CaseID = c.ID
		cp.Created = &now
		cp.Finished = &now
		cp.QueueSent = nil
		if err := m.tasks.Insert(ctx, &cp); err != nil {
			return uuid.Nil, fmt.Errorf("copy task %s: %w", t.ID, err)
		}
		kept++
	}

	m.logger.Info("case reprocessed", "case_id", c.ID, "source_id", src.ID, "kept_tasks", kept, "source_tasks", len(tasks))
	telemetry.CasesCreated.WithLabelValues(c.CaseType).Inc()
	m.pool.Schedule(c.ID)
	return c.ID, nil
}

// finalTasks возвращает tasks завершённого case: из архива,
// при его отсутствии — из хранилища.
func (m *Manager) finalTasks(ctx context.Context, c *domain.Case) []domain.Task {
	final, err := m.archive.LoadFinalCase(ctx, c.CaseType, c.ID)
	if err == nil {
		return final.Tasks
	}
	m.logger.Debug("final case not loaded", "case_id", c.ID, "error", err)

	tasks, err := m.tasks.ListByCaseID(ctx, c.ID)
	if err != nil {
		m.logger.Warn("tasks not loaded", "case_id", c.ID, "error", err)
		return nil
	}
	return tasks
}
