package domain

// Зарезервированные имена воркеров, шагов и путей.
const (
	// WorkerIterator — синтетический воркер шага с itemsExpr.
	// Его результат (список) задаёт количество индексов шага.
	WorkerIterator = "_iterator"

	// WorkerResponse — воркер последнего шага, формирующий ответ case.
	WorkerResponse = "_response"

	// StepResponse — код шага, добавляемого из FlowDef.Response.
	StepResponse = "_response"

	// PathEcho — путь, при котором task завершается сразу с телом запроса.
	PathEcho = "echo"

	// QueuePathPrefix — префикс путей внутренней очереди.
	QueuePathPrefix = "/queue/"

	// LabelDebug — метка flow, включающая логирование тел запросов.
	LabelDebug = "debug"
)

// FlowDef — определение flow (содержимое файла *.flow.yaml).
//
// После загрузки и нормализации FlowDef неизменяем и
// используется всеми case данного типа только на чтение.
type FlowDef struct {
	// Code — код flow, он же тип case.
	Code string `yaml:"code" json:"code"`

	// Labels — произвольные метки (debug и т.д.).
	Labels map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`

	// ExternalIDExpr — выражение для externalId при старте из params.
	ExternalIDExpr string `yaml:"externalIdExpr,omitempty" json:"external_id_expr,omitempty"`

	// AssetsExpr — выражение списка id assets при старте из params.
	AssetsExpr string `yaml:"assetsExpr,omitempty" json:"assets_expr,omitempty"`

	// Steps — упорядоченный список шагов.
	Steps []*StepDef `yaml:"steps" json:"steps"`

	// Response — шаблон ответа case. Превращается в шаг _response.
	Response map[string]any `yaml:"response,omitempty" json:"response,omitempty"`

	// CronJobs — периодические запуски.
	CronJobs []CronJob `yaml:"cronJobs,omitempty" json:"cron_jobs,omitempty"`

	// Source — файл, из которого загружено определение.
	Source string `yaml:"-" json:"source,omitempty"`
}

// StepDef — шаг flow.
type StepDef struct {
	// Code — код шага.
	Code string `yaml:"code" json:"code"`

	// ItemsExpr — выражение списка элементов. Делает шаг итерируемым.
	ItemsExpr string `yaml:"itemsExpr,omitempty" json:"items_expr,omitempty"`

	// Workers — воркеры шага. Итератор, если есть, всегда первый.
	Workers []*WorkerDef `yaml:"workers" json:"workers"`
}

// WorkerDef — объявление воркера (шаблон исходящего запроса).
type WorkerDef struct {
	Code     string            `yaml:"code" json:"code"`
	Method   string            `yaml:"method,omitempty" json:"method,omitempty"`
	Path     string            `yaml:"path,omitempty" json:"path,omitempty"`
	PathExpr string            `yaml:"pathExpr,omitempty" json:"path_expr,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Params   map[string]any    `yaml:"params,omitempty" json:"params,omitempty"`
	Where    string            `yaml:"where,omitempty" json:"where,omitempty"`
	Blocking bool              `yaml:"blocking,omitempty" json:"blocking,omitempty"`

	// Timeout — таймаут в секундах, 0 — значение по умолчанию.
	Timeout int `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	Labels map[string]string `yaml:"labels,omitempty" json:"labels,omitempty"`
}

// CronJob — периодический запуск case с фиксированными params.
type CronJob struct {
	Expression string         `yaml:"expression" json:"expression"`
	Params     map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// IsIterator возвращает true для шага с itemsExpr.
func (s *StepDef) IsIterator() bool {
	return s.ItemsExpr != ""
}

// Worker возвращает воркер шага по коду.
func (s *StepDef) Worker(code string) *WorkerDef {
	for _, w := range s.Workers {
		if w.Code == code {
			return w
		}
	}
	return nil
}

// Step возвращает шаг по коду.
func (f *FlowDef) Step(code string) *StepDef {
	for _, s := range f.Steps {
		if s.Code == code {
			return s
		}
	}
	return nil
}

// Worker возвращает воркер по кодам шага и воркера.
func (f *FlowDef) Worker(step, worker string) *WorkerDef {
	s := f.Step(step)
	if s == nil {
		return nil
	}
	return s.Worker(worker)
}

// NextStep возвращает шаг, следующий за состоянием state.
// Для CREATED это первый шаг, после последнего шага — nil.
func (f *FlowDef) NextStep(state CaseState) *StepDef {
	if state == "" || state == CaseStateCreated {
		if len(f.Steps) == 0 {
			return nil
		}
		return f.Steps[0]
	}
	code, ok := state.Step()
	if !ok {
		return nil
	}
	for i := 1; i < len(f.Steps); i++ {
		if f.Steps[i-1].Code == code {
			return f.Steps[i]
		}
	}
	return nil
}

// IsDebug возвращает true, если у flow есть метка debug.
func (f *FlowDef) IsDebug() bool {
	_, ok := f.Labels[LabelDebug]
	return ok
}
