package definition

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/shaiso/flowcase/internal/domain"
	"github.com/shaiso/flowcase/internal/engine"
	"github.com/shaiso/flowcase/internal/scheduler"
)

const maxPathLen = 512

var (
	flowCodeRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)
	codeRe     = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)
)

// Normalize приводит определение к виду, с которым работает оркестратор,
// и проверяет его. Определение изменяется на месте.
//
// Правила:
//   - воркер без method получает POST при наличии params, иначе GET;
//   - воркер без path и pathExpr получает path "echo";
//   - шаг с itemsExpr получает первым воркер _iterator;
//   - response превращается в последний шаг _response.
func Normalize(def *domain.FlowDef) error {
	if def == nil {
		return &ValidationError{Message: "empty definition"}
	}
	if !flowCodeRe.MatchString(def.Code) {
		return &ValidationError{Flow: def.Code, Field: "code", Message: "invalid code"}
	}
	if len(def.Steps) == 0 {
		return &ValidationError{Flow: def.Code, Field: "steps", Message: "empty steps"}
	}

	for _, step := range def.Steps {
		if step == nil {
			return &ValidationError{Flow: def.Code, Field: "steps", Message: "empty step"}
		}
		normalizeStep(step)
	}

	if def.Response != nil {
		def.Steps = append(def.Steps, &domain.StepDef{
			Code: domain.StepResponse,
			Workers: []*domain.WorkerDef{{
				Code:   domain.WorkerResponse,
				Method: http.MethodPost,
				Path:   domain.PathEcho,
				Params: def.Response,
			}},
		})
		def.Response = nil
	}

	return validate(def)
}

func normalizeStep(step *domain.StepDef) {
	iterator := -1
	for i, w := range step.Workers {
		if w == nil {
			continue
		}
		if w.Code == domain.WorkerIterator {
			iterator = i
		}
		w.Method = strings.ToUpper(w.Method)
		if w.Method == "" {
			if len(w.Params) > 0 {
				w.Method = http.MethodPost
			} else {
				w.Method = http.MethodGet
			}
		}
		if w.Path == "" && w.PathExpr == "" {
			w.Path = domain.PathEcho
		}
	}

	switch {
	case iterator > 0:
		it := step.Workers[iterator]
		copy(step.Workers[1:iterator+1], step.Workers[:iterator])
		step.Workers[0] = it
		fallthrough
	case iterator == 0:
		if step.ItemsExpr == "" {
			step.ItemsExpr = domain.WorkerIterator
		}
	case step.ItemsExpr != "":
		it := &domain.WorkerDef{
			Code:   domain.WorkerIterator,
			Method: http.MethodPost,
			Path:   domain.PathEcho,
			Params: map[string]any{"$.": step.ItemsExpr},
		}
		step.Workers = append([]*domain.WorkerDef{it}, step.Workers...)
	}
}

func validate(def *domain.FlowDef) error {
	if def.ExternalIDExpr != "" {
		if err := engine.Validate(def.ExternalIDExpr); err != nil {
			return &ValidationError{Flow: def.Code, Field: "externalIdExpr", Err: err}
		}
	}
	if def.AssetsExpr != "" {
		if err := engine.Validate(def.AssetsExpr); err != nil {
			return &ValidationError{Flow: def.Code, Field: "assetsExpr", Err: err}
		}
	}

	steps := make(map[string]bool, len(def.Steps))
	for i, step := range def.Steps {
		field := fmt.Sprintf("steps[%s]", step.Code)
		if !validCode(step.Code) {
			return &ValidationError{Flow: def.Code, Field: fmt.Sprintf("steps[%d].code", i), Message: "invalid code " + step.Code}
		}
		if step.Code == domain.StepResponse && i != len(def.Steps)-1 {
			return &ValidationError{Flow: def.Code, Field: field, Message: "reserved step code"}
		}
		if steps[step.Code] {
			return &ValidationError{Flow: def.Code, Field: field, Err: ErrDuplicateCode}
		}
		steps[step.Code] = true

		if len(step.Workers) == 0 {
			return &ValidationError{Flow: def.Code, Field: field + ".workers", Message: "empty workers"}
		}
		if step.ItemsExpr != "" && step.ItemsExpr != domain.WorkerIterator {
			if err := engine.Validate(step.ItemsExpr); err != nil {
				return &ValidationError{Flow: def.Code, Field: field + ".itemsExpr", Err: err}
			}
		}

		workers := make(map[string]bool, len(step.Workers))
		for j, w := range step.Workers {
			if w == nil || !validCode(w.Code) {
				return &ValidationError{Flow: def.Code, Field: fmt.Sprintf("%s.workers[%d].code", field, j), Message: "invalid code"}
			}
			wfield := fmt.Sprintf("%s.workers[%s]", field, w.Code)
			if workers[w.Code] {
				return &ValidationError{Flow: def.Code, Field: wfield, Err: ErrDuplicateCode}
			}
			workers[w.Code] = true
			if err := validateWorker(w); err != nil {
				err.Flow = def.Code
				err.Field = wfield + err.Field
				return err
			}
		}
	}

	for i, job := range def.CronJobs {
		if err := scheduler.ValidateCronExpr(job.Expression); err != nil {
			return &ValidationError{Flow: def.Code, Field: fmt.Sprintf("cronJobs[%d].expression", i), Err: err}
		}
	}
	return nil
}

func validateWorker(w *domain.WorkerDef) *ValidationError {
	if len(w.Path) > maxPathLen || len(w.PathExpr) > maxPathLen {
		return &ValidationError{Field: ".path", Message: "path too long"}
	}
	if w.Timeout < 0 {
		return &ValidationError{Field: ".timeout", Message: "negative timeout"}
	}
	if w.PathExpr != "" {
		if err := engine.Validate(w.PathExpr); err != nil {
			return &ValidationError{Field: ".pathExpr", Err: err}
		}
	}
	if w.Where != "" {
		if err := engine.Validate(w.Where); err != nil {
			return &ValidationError{Field: ".where", Err: err}
		}
	}
	for k, v := range w.Headers {
		if strings.HasPrefix(k, "$") && !strings.HasPrefix(k, "$$") {
			if err := engine.Validate(v); err != nil {
				return &ValidationError{Field: ".headers." + k, Err: err}
			}
		}
	}
	if err := validateTemplate(w.Params, ".params"); err != nil {
		return err
	}
	return nil
}

// validateTemplate проверяет выражения в ключах $name, ключи $$name литеральны.
func validateTemplate(v any, field string) *ValidationError {
	switch x := v.(type) {
	case map[string]any:
		for k, item := range x {
			if strings.HasPrefix(k, "$") && !strings.HasPrefix(k, "$$") {
				if expr, ok := item.(string); ok {
					if err := engine.Validate(expr); err != nil {
						return &ValidationError{Field: field + "." + k, Err: err}
					}
					continue
				}
			}
			if err := validateTemplate(item, field+"."+k); err != nil {
				return err
			}
		}
	case []any:
		for i, item := range x {
			if err := validateTemplate(item, fmt.Sprintf("%s[%d]", field, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

func validCode(code string) bool {
	if code == domain.WorkerIterator || code == domain.WorkerResponse {
		return true
	}
	return codeRe.MatchString(code)
}
