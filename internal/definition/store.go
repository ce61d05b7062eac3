package definition

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/flowcase/internal/domain"
)

// Config — параметры Store.
type Config struct {
	// Dir — корневой каталог с файлами *.flow.yaml.
	Dir string

	// Debounce — пауза после последнего изменения перед перезагрузкой.
	// По умолчанию 500ms.
	Debounce time.Duration

	Logger *slog.Logger
}

// Store хранит загруженные определения flow.
type Store struct {
	dir      string
	debounce time.Duration
	logger   *slog.Logger

	mu    sync.RWMutex
	flows map[string]*domain.FlowDef

	subMu sync.Mutex
	subs  []func([]*domain.FlowDef)
}

// NewStore создаёт пустой Store. Определения загружаются через Load.
func NewStore(cfg Config) *Store {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		dir:      cfg.Dir,
		debounce: cfg.Debounce,
		logger:   cfg.Logger,
		flows:    make(map[string]*domain.FlowDef),
	}
}

// Load (пере)загружает определения из каталога и уведомляет подписчиков.
func (s *Store) Load() error {
	defs, skipped, err := LoadFS(os.DirFS(s.dir))
	if err != nil {
		return fmt.Errorf("load flows from %s: %w", s.dir, err)
	}
	for _, e := range skipped {
		s.logger.Warn("flow definition skipped", "dir", s.dir, "error", e)
	}
	s.Replace(defs)
	s.logger.Info("flow definitions loaded", "dir", s.dir, "count", len(defs), "skipped", len(skipped))
	return nil
}

// Replace подменяет набор определений целиком.
func (s *Store) Replace(defs []*domain.FlowDef) {
	flows := make(map[string]*domain.FlowDef, len(defs))
	for _, d := range defs {
		flows[d.Code] = d
	}

	s.mu.Lock()
	s.flows = flows
	s.mu.Unlock()

	s.notify()
}

// Put нормализует и добавляет одно определение.
func (s *Store) Put(def *domain.FlowDef) error {
	if err := Normalize(def); err != nil {
		return err
	}
	s.mu.Lock()
	s.flows[def.Code] = def
	s.mu.Unlock()

	s.notify()
	return nil
}

// Resolve возвращает определение по коду (типу case).
func (s *Store) Resolve(code string) (*domain.FlowDef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, ok := s.flows[code]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCaseType, code)
	}
	return def, nil
}

// List возвращает определения, отсортированные по коду.
func (s *Store) List() []*domain.FlowDef {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]*domain.FlowDef, 0, len(s.flows))
	for _, d := range s.flows {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Code < defs[j].Code })
	return defs
}

// Subscribe регистрирует fn, вызываемую после каждой перезагрузки.
func (s *Store) Subscribe(fn func([]*domain.FlowDef)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subs = append(s.subs, fn)
}

func (s *Store) notify() {
	s.subMu.Lock()
	subs := slices.Clone(s.subs)
	s.subMu.Unlock()

	defs := s.List()
	for _, fn := range subs {
		fn(defs)
	}
}
