package sources

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Package sources contains pluggable review source configs (YAML/JSON) and their fetchers.

// Supported source types.
const (
	TypeShopee  = "shopee"
	TypeTrustoo = "trustoo"
	TypeAmazon  = "amazon"

	typeBiodanceAlias = "biodance"
)

// Source describes one review-producing origin and where its rows land.
type Source struct {
	ID             string         `json:"id" yaml:"id"`
	Name           string         `json:"name" yaml:"name"`
	Type           string         `json:"type" yaml:"type"`
	SheetName      string         `json:"sheet_name" yaml:"sheet_name"`
	Schema         string         `json:"schema" yaml:"schema"`
	SourceURL      string         `json:"source_url" yaml:"source_url"`
	PageSize       int            `json:"page_size" yaml:"page_size"`
	RequestDelayMs int            `json:"request_delay_ms" yaml:"request_delay_ms"`
	LookbackDays   int            `json:"lookback_days" yaml:"lookback_days"`
	Enabled        *bool          `json:"enabled" yaml:"enabled"`
	Config         map[string]any `json:"config" yaml:"config"`
}

type registryFile struct {
	Sources []Source `json:"sources" yaml:"sources"`
}

// Registry holds the sources loaded from a config file, in file order.
type Registry struct {
	sources []Source
	idx     map[string]Source
}

var defaultRequestDelayMs = 1000

// defaultPageSizes follows what each upstream API serves per page.
var defaultPageSizes = map[string]int{
	TypeShopee:  50,
	TypeTrustoo: 40,
	TypeAmazon:  10,
}

// LoadRegistry loads the source registry from file.
func LoadRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sources file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sources file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	parsed, err := parseRegistry(raw, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if len(parsed.Sources) == 0 {
		return nil, errors.New("sources file contains no sources entries")
	}

	reg := &Registry{
		sources: make([]Source, 0, len(parsed.Sources)),
		idx:     make(map[string]Source, len(parsed.Sources)),
	}
	for i := range parsed.Sources {
		s := sanitizeSource(parsed.Sources[i])
		if err := validateSource(s); err != nil {
			return nil, fmt.Errorf("sources[%d]: %w", i, err)
		}
		if _, exists := reg.idx[s.ID]; exists {
			return nil, fmt.Errorf("duplicate source id %q", s.ID)
		}
		reg.sources = append(reg.sources, s)
		reg.idx[s.ID] = s
	}
	return reg, nil
}

func parseRegistry(data []byte, ext string) (registryFile, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))

	decoders := []struct {
		name string
		ext  string
		fn   unmarshalFn
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		if reg, err := unmarshalRegistry(d.name, data, d.fn); err == nil {
			return reg, nil
		}
	}

	return registryFile{}, errors.New("sources file format not recognized (expected YAML or JSON)")
}

type unmarshalFn func([]byte, any) error

func unmarshalRegistry(name string, data []byte, fn unmarshalFn) (registryFile, error) {
	var reg registryFile
	if err := fn(data, &reg); err != nil {
		return registryFile{}, fmt.Errorf("decode %s sources: %w", name, err)
	}
	return reg, nil
}

func sanitizeSource(s Source) Source {
	s.ID = strings.TrimSpace(s.ID)
	s.Name = strings.TrimSpace(s.Name)
	s.Type = strings.ToLower(strings.TrimSpace(s.Type))
	if s.Type == typeBiodanceAlias {
		s.Type = TypeTrustoo
	}
	s.SheetName = strings.TrimSpace(s.SheetName)
	s.Schema = strings.ToLower(strings.TrimSpace(s.Schema))
	s.SourceURL = strings.TrimRight(strings.TrimSpace(s.SourceURL), "/")

	if s.Config == nil {
		s.Config = map[string]any{}
	}
	if s.PageSize <= 0 {
		s.PageSize = defaultPageSizes[s.Type]
	}
	if s.RequestDelayMs <= 0 {
		s.RequestDelayMs = defaultRequestDelayMs
	}
	if s.Schema == "" && s.Type == TypeAmazon {
		s.Schema = TypeAmazon
	}
	if s.Enabled == nil {
		def := true
		s.Enabled = &def
	}
	return s
}

func validateSource(s Source) error {
	if s.ID == "" {
		return errors.New("id is required")
	}
	if s.Name == "" {
		return fmt.Errorf("name is required for source %q", s.ID)
	}
	if s.SheetName == "" {
		return fmt.Errorf("sheet_name is required for source %q", s.ID)
	}
	switch s.Type {
	case TypeShopee:
		return requireConfig(s, ConfigShopIDKey, ConfigUserIDKey, ConfigCountryKey)
	case TypeTrustoo:
		return requireConfig(s, ConfigShopIDKey, ConfigProductIDKey)
	case TypeAmazon:
		return requireConfig(s, ConfigASINKey)
	case "":
		return fmt.Errorf("type is required for source %q", s.ID)
	default:
		return fmt.Errorf("unsupported type %q for source %q", s.Type, s.ID)
	}
}

func requireConfig(s Source, keys ...string) error {
	for _, key := range keys {
		if ConfigString(s, key, "") == "" {
			return fmt.Errorf("config.%s is required for %s source %q", key, s.Type, s.ID)
		}
	}
	return nil
}

// All returns every configured source in file order.
func (r *Registry) All() []Source {
	if r == nil {
		return nil
	}
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// Enabled returns sources that are not switched off.
func (r *Registry) Enabled() []Source {
	all := r.All()
	out := make([]Source, 0, len(all))
	for _, s := range all {
		if s.EnabledValue() {
			out = append(out, s)
		}
	}
	return out
}

// ByID returns the source with the given id, if loaded.
func (r *Registry) ByID(id string) (Source, bool) {
	if r == nil {
		return Source{}, false
	}
	s, ok := r.idx[strings.TrimSpace(id)]
	return s, ok
}

// EnabledValue returns enabled flag defaulting to true.
func (s Source) EnabledValue() bool {
	if s.Enabled == nil {
		return true
	}
	return *s.Enabled
}

// RequestDelay returns the pause between page requests for the source.
func (s Source) RequestDelay() time.Duration {
	if s.RequestDelayMs <= 0 {
		return time.Duration(defaultRequestDelayMs) * time.Millisecond
	}
	return time.Duration(s.RequestDelayMs) * time.Millisecond
}

// Lookback returns the maximum review age to keep, or zero for no limit.
func (s Source) Lookback() time.Duration {
	if s.LookbackDays <= 0 {
		return 0
	}
	return time.Duration(s.LookbackDays) * 24 * time.Hour
}
