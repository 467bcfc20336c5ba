// CLAUDE:SUMMARY Pipeline configuration: in-code defaults, optional YAML file, FISCALFLOW_* environment overrides, then struct validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. FISCALFLOW_TOP_SINKS.
const EnvPrefix = "FISCALFLOW"

// Config is the full pipeline configuration.
type Config struct {
	Addr     string `yaml:"addr" split_words:"true" validate:"required"`
	LogLevel string `yaml:"log_level" split_words:"true" validate:"oneof=debug info warn error"`

	Input  InputConfig  `yaml:"input" split_words:"true"`
	Output OutputConfig `yaml:"output" split_words:"true"`

	// Years are the fiscal years in focus. When none of them is present in
	// the data, every year present is used.
	Years      []int  `yaml:"years" split_words:"true" validate:"dive,gte=1900,lte=2200"`
	TopSources int    `yaml:"top_sources" split_words:"true" validate:"gte=0"`
	TopSinks   int    `yaml:"top_sinks" split_words:"true" validate:"gte=0"`
	ChainTop   int    `yaml:"chain_top" split_words:"true" validate:"gte=0"`
	Labels     Labels `yaml:"labels" split_words:"true"`

	// LedgerDB is the SQLite run ledger. Empty disables it.
	LedgerDB string `yaml:"ledger_db" split_words:"true"`

	// Renames adds source-header mappings per schema ("revenue",
	// "expenditure"): source name -> canonical column.
	Renames map[string]map[string]string `yaml:"renames" ignored:"true"`
}

// InputConfig locates and describes the raw ledgers.
type InputConfig struct {
	ExpenditureDir string   `yaml:"expenditure_dir" split_words:"true" validate:"required"`
	Pattern        string   `yaml:"pattern" split_words:"true" validate:"required"`
	Revenue        string   `yaml:"revenue" split_words:"true" validate:"required"`
	Delimiter      string   `yaml:"delimiter" split_words:"true" validate:"required"`
	Encodings      []string `yaml:"encodings" split_words:"true" validate:"min=1,dive,required"`
	Workers        int      `yaml:"workers" split_words:"true" validate:"gte=1,lte=64"`
}

// OutputConfig names the produced artifacts.
type OutputConfig struct {
	// Unified is the unified expenditure file. Defaults to
	// despesas_unificado.csv inside the expenditure directory.
	Unified  string `yaml:"unified" split_words:"true"`
	Dir      string `yaml:"dir" split_words:"true" validate:"required"`
	Flows    string `yaml:"flows" split_words:"true" validate:"required"`
	XLSX     bool   `yaml:"xlsx" split_words:"true"`
	Manifest bool   `yaml:"manifest" split_words:"true"`
}

// Labels are the display labels of synthetic nodes and buckets.
type Labels struct {
	Hub              string `yaml:"hub" split_words:"true" validate:"required"`
	OtherSources     string `yaml:"other_sources" split_words:"true" validate:"required"`
	OtherSinks       string `yaml:"other_sinks" split_words:"true" validate:"required"`
	NotClassified    string `yaml:"not_classified" split_words:"true" validate:"required"`
	TotalRevenue     string `yaml:"total_revenue" split_words:"true" validate:"required"`
	TotalExpenditure string `yaml:"total_expenditure" split_words:"true" validate:"required"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Addr:     ":8421",
		LogLevel: "info",
		Input: InputConfig{
			ExpenditureDir: filepath.Join("data", "despesas"),
			Pattern:        "*.csv",
			Revenue:        filepath.Join("data", "receitas", "receita.csv"),
			Delimiter:      ";",
			Encodings:      []string{"utf-8", "latin1"},
			Workers:        4,
		},
		Output: OutputConfig{
			Dir:      "data",
			Flows:    "dados_sankey.csv",
			XLSX:     false,
			Manifest: true,
		},
		Years:      []int{2019, 2020, 2021, 2022, 2023},
		TopSources: 5,
		TopSinks:   5,
		ChainTop:   20,
		Labels: Labels{
			Hub:              "TREASURY",
			OtherSources:     "OTHER SOURCES",
			OtherSinks:       "OTHER FUNCTIONS",
			NotClassified:    "NOT CLASSIFIED",
			TotalRevenue:     "TOTAL REVENUE",
			TotalExpenditure: "TOTAL EXPENDITURE",
		},
		LedgerDB: filepath.Join("data", "runs.db"),
	}
}

// Load builds the configuration from defaults, the YAML file at path (a
// missing file is not an error) and FISCALFLOW_* environment variables, then
// validates it.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Info("no config file, using defaults", "path", path)
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("load config from env: %w", err)
	}

	if cfg.Output.Unified == "" {
		cfg.Output.Unified = filepath.Join(cfg.Input.ExpenditureDir, "despesas_unificado.csv")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and reports every violation at once.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("config validation failed: %w", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
		return fmt.Errorf("config validation failed: %s", strings.Join(msgs, "; "))
	}
	if utf8.RuneCountInString(c.Input.Delimiter) != 1 {
		return fmt.Errorf("config validation failed: input.delimiter must be a single character, got %q", c.Input.Delimiter)
	}
	return nil
}

// Delimiter returns the field delimiter as a rune.
func (c *Config) Delimiter() rune {
	r, _ := utf8.DecodeRuneInString(c.Input.Delimiter)
	return r
}

// FlowsPath is the flow CSV path.
func (c *Config) FlowsPath() string {
	return filepath.Join(c.Output.Dir, c.Output.Flows)
}

// FlowsXLSXPath is the flow workbook path, next to the CSV.
func (c *Config) FlowsXLSXPath() string {
	return strings.TrimSuffix(c.FlowsPath(), filepath.Ext(c.Output.Flows)) + ".xlsx"
}

// Level maps LogLevel to a slog level.
func (c *Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
