package definition

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/shaiso/flowcase/internal/domain"
)

// FilePattern — шаблон файлов определений относительно корня.
const FilePattern = "**/*.flow.{yaml,yml}"

// Parse декодирует и нормализует одно определение.
func Parse(data []byte, source string) (*domain.FlowDef, error) {
	var def domain.FlowDef
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("decode %s: %w", source, errors.Join(ErrInvalidDefinition, err))
	}
	def.Source = source
	if err := Normalize(&def); err != nil {
		return nil, fmt.Errorf("load %s: %w", source, err)
	}
	return &def, nil
}

// LoadFS загружает все определения из fsys.
//
// Невалидные файлы и повторы кодов не прерывают загрузку: они
// пропускаются и возвращаются вторым значением. Результат
// отсортирован по коду.
func LoadFS(fsys fs.FS) ([]*domain.FlowDef, []error, error) {
	files, err := doublestar.Glob(fsys, FilePattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, nil, fmt.Errorf("glob flow files: %w", err)
	}
	sort.Strings(files)

	var (
		defs    []*domain.FlowDef
		skipped []error
		seen    = make(map[string]string)
	)
	for _, name := range files {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			skipped = append(skipped, fmt.Errorf("read %s: %w", name, err))
			continue
		}
		def, err := Parse(data, name)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		if prev, ok := seen[def.Code]; ok {
			skipped = append(skipped, fmt.Errorf("load %s: flow %q already defined in %s: %w", name, def.Code, prev, ErrDuplicateCode))
			continue
		}
		seen[def.Code] = name
		defs = append(defs, def)
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Code < defs[j].Code })
	return defs, skipped, nil
}
