package catalog

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/khanhnv2901/vela/internal/domain/pattern"
)

//go:embed data/default.yaml
var defaultCatalog []byte

// entryDTO is the on-disk shape of an entry, shared by YAML and JSON files.
type entryDTO struct {
	ID              string   `json:"id" yaml:"id"`
	Name            string   `json:"name" yaml:"name"`
	Vendor          string   `json:"vendor" yaml:"vendor"`
	Category        string   `json:"category" yaml:"category"`
	URLPatterns     []string `json:"url_patterns" yaml:"url_patterns"`
	GlobalVariables []string `json:"global_variables,omitempty" yaml:"global_variables,omitempty"`
	KnownIssues     []string `json:"known_issues,omitempty" yaml:"known_issues,omitempty"`
	Alternatives    []string `json:"alternatives,omitempty" yaml:"alternatives,omitempty"`
	DocsURL         *string  `json:"docs_url,omitempty" yaml:"docs_url,omitempty"`
	IsActive        *bool    `json:"is_active,omitempty" yaml:"is_active,omitempty"`
}

type document struct {
	Entries []entryDTO `json:"entries" yaml:"entries"`
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	entries, err := ParseYAML(defaultCatalog, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to parse built-in catalog: %w", err)
	}
	return New(entries)
}

// DefaultEntries returns the entries of the built-in catalog.
func DefaultEntries() ([]pattern.Entry, error) {
	return ParseYAML(defaultCatalog, nil)
}

// ParseYAML decodes a document of the form `entries: [...]`.
func ParseYAML(data []byte, logger *zap.Logger) ([]pattern.Entry, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode catalog yaml: %w", err)
	}
	return fromDTOs(doc.Entries, logger), nil
}

// ParseJSON decodes a single entry object, an array of entries, or an
// object with an "entries" array.
func ParseJSON(data []byte, logger *zap.Logger) ([]pattern.Entry, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("failed to decode catalog json: empty input")
	}

	var dtos []entryDTO
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &dtos); err != nil {
			return nil, fmt.Errorf("failed to decode catalog json: %w", err)
		}
	case '{':
		var doc document
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode catalog json: %w", err)
		}
		if doc.Entries != nil {
			dtos = doc.Entries
			break
		}
		var single entryDTO
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, fmt.Errorf("failed to decode catalog json: %w", err)
		}
		dtos = []entryDTO{single}
	default:
		return nil, fmt.Errorf("failed to decode catalog json: unexpected %q", trimmed[0])
	}
	return fromDTOs(dtos, logger), nil
}

// LoadFile reads entries from a .yaml, .yml or .json file.
func LoadFile(path string, logger *zap.Logger) ([]pattern.Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return ParseJSON(data, logger)
	case ".yaml", ".yml":
		return ParseYAML(data, logger)
	default:
		return nil, fmt.Errorf("unsupported catalog file extension: %s", path)
	}
}

// LoadDir walks dir and loads every catalog file in lexical order.
func LoadDir(dir string, logger *zap.Logger) ([]pattern.Entry, error) {
	var entries []pattern.Entry
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json", ".yaml", ".yml":
		default:
			return nil
		}
		loaded, err := LoadFile(path, logger)
		if err != nil {
			return err
		}
		entries = append(entries, loaded...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// MarshalYAML encodes entries in the same document shape ParseYAML reads.
func MarshalYAML(entries []pattern.Entry) ([]byte, error) {
	doc := document{Entries: make([]entryDTO, 0, len(entries))}
	for _, e := range entries {
		active := e.Active
		doc.Entries = append(doc.Entries, entryDTO{
			ID:              e.ID,
			Name:            e.Name,
			Vendor:          e.Vendor,
			Category:        string(e.Category),
			URLPatterns:     e.URLPatterns,
			GlobalVariables: e.GlobalVariables,
			KnownIssues:     e.KnownIssues,
			Alternatives:    e.Alternatives,
			DocsURL:         e.DocsURL,
			IsActive:        &active,
		})
	}
	return yaml.Marshal(doc)
}

func fromDTOs(dtos []entryDTO, logger *zap.Logger) []pattern.Entry {
	if logger == nil {
		logger = zap.NewNop()
	}
	out := make([]pattern.Entry, 0, len(dtos))
	for _, d := range dtos {
		category, known := pattern.NormalizeCategory(d.Category)
		if !known {
			logger.Warn("unknown_category_normalized",
				zap.String("pattern_id", d.ID),
				zap.String("category", d.Category))
		}
		active := true
		if d.IsActive != nil {
			active = *d.IsActive
		}
		out = append(out, pattern.Entry{
			ID:              d.ID,
			Name:            d.Name,
			Vendor:          d.Vendor,
			Category:        category,
			URLPatterns:     d.URLPatterns,
			GlobalVariables: nonNil(d.GlobalVariables),
			KnownIssues:     nonNil(d.KnownIssues),
			Alternatives:    nonNil(d.Alternatives),
			DocsURL:         d.DocsURL,
			Active:          active,
		})
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
