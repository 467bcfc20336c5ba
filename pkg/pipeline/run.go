// CLAUDE:SUMMARY End-to-end ETL run: unify expenditure files, load both tables, build per-year hub flows, export CSV/XLSX and the run manifest, record the run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hazyhaar/fiscalflow/pkg/config"
	"github.com/hazyhaar/fiscalflow/pkg/export"
	"github.com/hazyhaar/fiscalflow/pkg/flow"
	"github.com/hazyhaar/fiscalflow/pkg/metrics"
	"github.com/hazyhaar/fiscalflow/pkg/runlog"
	"github.com/hazyhaar/fiscalflow/pkg/schema"
	"github.com/hazyhaar/fiscalflow/pkg/tabular"
	"github.com/hazyhaar/fiscalflow/pkg/unify"
)

// Result describes a finished run.
type Result struct {
	RunID   string
	Unify   *unify.Report
	Dataset *Dataset
	Graphs  []flow.YearGraph
	Outputs []string
}

// Run executes the whole pipeline with cfg. m may be nil. A run ledger is
// kept when cfg.LedgerDB is set; failing to open it aborts the run.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (res *Result, err error) {
	started := time.Now().UTC()
	res = &Result{RunID: uuid.NewString()}

	var ledger *runlog.Ledger
	if cfg.LedgerDB != "" {
		if dir := filepath.Dir(cfg.LedgerDB); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create ledger dir: %w", err)
			}
		}
		if ledger, err = runlog.Open(cfg.LedgerDB); err != nil {
			return nil, err
		}
		defer ledger.Close()
		if res.RunID, err = ledger.Start("etl"); err != nil {
			return nil, err
		}
	}
	logger = logger.With("run_id", res.RunID)

	defer func() {
		m.RunFinished(err)
		if ledger == nil {
			return
		}
		var s runlog.Summary
		if res.Unify != nil {
			s.FilesIngested = res.Unify.Ingested
			s.FilesSkipped = res.Unify.Skipped
			s.Rows = res.Unify.Rows
			s.Fallbacks = res.Unify.Fallbacks
		}
		if res.Dataset != nil {
			s.Years = res.Dataset.Years
		}
		if ferr := ledger.Finish(res.RunID, s, err); ferr != nil {
			logger.Warn("run ledger", "error", ferr)
		}
	}()

	expSchema, err := schemaFor("expenditure", cfg)
	if err != nil {
		return res, err
	}
	u := &unify.Unifier{
		Reader: &tabular.Reader{
			Delimiter: cfg.Delimiter(),
			Encodings: cfg.Input.Encodings,
			Numeric:   tabular.RawLocale,
			Columns:   expSchema.SourceColumns(),
		},
		Logger:  logger,
		Workers: cfg.Input.Workers,
		Metrics: m,
		Runs:    ledger,
		RunID:   res.RunID,
	}
	if _, res.Unify, err = u.Unify(ctx, cfg.Input.ExpenditureDir, cfg.Input.Pattern, cfg.Output.Unified); err != nil {
		return res, err
	}
	res.Outputs = append(res.Outputs, cfg.Output.Unified)

	if res.Dataset, err = Load(ctx, cfg, logger); err != nil {
		return res, err
	}
	if res.Graphs, err = res.Dataset.Flows(nil, cfg.TopSources, cfg.TopSinks); err != nil {
		return res, fmt.Errorf("build flows: %w", err)
	}

	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return res, fmt.Errorf("create output dir: %w", err)
	}
	if err := export.WriteFlowsCSV(cfg.FlowsPath(), res.Graphs, cfg.Delimiter()); err != nil {
		return res, err
	}
	res.Outputs = append(res.Outputs, cfg.FlowsPath())
	if cfg.Output.XLSX {
		if err := export.WriteFlowsXLSX(cfg.FlowsXLSXPath(), res.Graphs); err != nil {
			return res, err
		}
		res.Outputs = append(res.Outputs, cfg.FlowsXLSXPath())
	}

	if cfg.Output.Manifest {
		man := manifest(cfg, res, started)
		if err := export.WriteManifest(cfg.Output.Dir, man); err != nil {
			return res, err
		}
		res.Outputs = append(res.Outputs, filepath.Join(cfg.Output.Dir, export.ManifestFile))
	}

	logger.Info("etl finished", "years", res.Dataset.Years, "graphs", len(res.Graphs),
		"outputs", res.Outputs, "elapsed", time.Since(started).Round(time.Millisecond))
	return res, nil
}

func manifest(cfg *config.Config, res *Result, started time.Time) *export.Manifest {
	man := &export.Manifest{
		RunID:      res.RunID,
		StartedAt:  started,
		FinishedAt: time.Now().UTC(),
		Years:      res.Dataset.Years,
		TopN:       cfg.TopSinks,
		Labels: map[string]string{
			"hub":            cfg.Labels.Hub,
			"other_sources":  cfg.Labels.OtherSources,
			"other_sinks":    cfg.Labels.OtherSinks,
			"not_classified": cfg.Labels.NotClassified,
		},
		Outputs:   append([]string(nil), res.Outputs...),
		Rows:      res.Unify.Rows,
		Fallbacks: res.Unify.Fallbacks,
	}
	for _, f := range res.Unify.Files {
		in := export.InputFile{Path: f.Path, Encoding: f.Encoding, Rows: f.Rows}
		if f.Err != nil {
			in.Error = f.Err.Error()
		}
		man.Inputs = append(man.Inputs, in)
	}
	man.Inputs = append(man.Inputs, export.InputFile{
		Path: cfg.Input.Revenue,
		Rows: res.Dataset.Revenue.Len(),
	})
	return man
}

// Schemas lists the registered input schemas with the monetary source
// headers each one converts.
func Schemas() map[string][]string {
	out := make(map[string][]string)
	for _, s := range schema.All() {
		out[s.Name] = s.SourceColumns()
	}
	return out
}
