// Package corpus exposes the annotated reference dataset the vector index is built from.
package corpus

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hyperjump/dermamatch/internal/models"
	"github.com/hyperjump/dermamatch/internal/storage"
)

// Source kinds accepted by NewSource.
const (
	SourceSQLite = "sqlite"
	SourceFile   = "file"
)

// Source reads every reference record from a backing dataset.
type Source interface {
	Name() string
	ReadAll(ctx context.Context) ([]*models.ReferenceCase, error)
}

// NewSource returns the source selected by kind. The sqlite source reads from store;
// the file source reads the YAML or JSON document at filePath.
func NewSource(kind, filePath string, store storage.Storage) (Source, error) {
	switch strings.ToLower(kind) {
	case SourceSQLite, "":
		if store == nil {
			return nil, errors.New("sqlite corpus source requires a store")
		}
		return NewSQLiteSource(store), nil
	case SourceFile:
		if filePath == "" {
			return nil, errors.New("file corpus source requires a file path")
		}
		return NewFileSource(filePath), nil
	default:
		return nil, fmt.Errorf("unsupported corpus source: %s", kind)
	}
}

// SQLiteSource reads reference cases from the case store.
type SQLiteSource struct {
	store storage.Storage
}

// NewSQLiteSource creates a source over store.
func NewSQLiteSource(store storage.Storage) *SQLiteSource {
	return &SQLiteSource{store: store}
}

// Name implements Source.
func (s *SQLiteSource) Name() string { return SourceSQLite }

// ReadAll implements Source.
func (s *SQLiteSource) ReadAll(ctx context.Context) ([]*models.ReferenceCase, error) {
	return s.store.AllCases(ctx)
}

// FileSource reads reference cases from a YAML or JSON fixture file. The document is
// either a list of cases or a mapping with a "cases" list.
type FileSource struct {
	path string
}

// NewFileSource creates a source over the file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Name implements Source.
func (s *FileSource) Name() string { return SourceFile }

// Path returns the watched fixture path.
func (s *FileSource) Path() string { return s.path }

// ReadAll implements Source.
func (s *FileSource) ReadAll(ctx context.Context) ([]*models.ReferenceCase, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	inputs, err := DecodeCases(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	cases := make([]*models.ReferenceCase, len(inputs))
	for i, in := range inputs {
		cases[i] = in.ToCase()
	}
	return cases, nil
}

type caseDocument struct {
	Cases []models.ReferenceCaseInput `yaml:"cases"`
}

// DecodeCases parses a YAML or JSON document holding reference case inputs.
func DecodeCases(data []byte) ([]models.ReferenceCaseInput, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, err
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	node := root.Content[0]
	switch node.Kind {
	case yaml.SequenceNode:
		var inputs []models.ReferenceCaseInput
		if err := node.Decode(&inputs); err != nil {
			return nil, err
		}
		return inputs, nil
	case yaml.MappingNode:
		var doc caseDocument
		if err := node.Decode(&doc); err != nil {
			return nil, err
		}
		return doc.Cases, nil
	default:
		return nil, errors.New("expected a list of cases or a mapping with a cases key")
	}
}

// SourceFunc adapts a function to a Source.
type SourceFunc func(ctx context.Context) ([]*models.ReferenceCase, error)

// Name implements Source.
func (f SourceFunc) Name() string { return "func" }

// ReadAll implements Source.
func (f SourceFunc) ReadAll(ctx context.Context) ([]*models.ReferenceCase, error) {
	return f(ctx)
}
