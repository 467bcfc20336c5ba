// CLAUDE:SUMMARY Merges every matching ledger file of a directory into one unified table, skipping unreadable files and never re-ingesting its own output.
package unify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hazyhaar/fiscalflow/pkg/export"
	"github.com/hazyhaar/fiscalflow/pkg/fiscal"
	"github.com/hazyhaar/fiscalflow/pkg/metrics"
	"github.com/hazyhaar/fiscalflow/pkg/runlog"
	"github.com/hazyhaar/fiscalflow/pkg/tabular"
	"github.com/ryanuber/go-glob"
	"golang.org/x/sync/errgroup"
)

// FileResult is the outcome of reading one input file.
type FileResult struct {
	Path      string
	Encoding  string
	Rows      int
	Fallbacks int
	Err       error
}

// Report summarizes a unification run.
type Report struct {
	Files     []FileResult
	Ingested  int
	Skipped   int
	Rows      int
	Fallbacks int
	Output    string
}

// Unifier reads a set of raw files and writes their concatenation.
type Unifier struct {
	Reader *tabular.Reader
	Logger *slog.Logger
	// Workers bounds parallel reads. Values below 1 read sequentially.
	Workers int
	// Metrics and Runs are optional.
	Metrics *metrics.Metrics
	Runs    *runlog.Ledger
	RunID   string
}

// Candidates lists the files in dir whose names match pattern, sorted by
// name. The output file and in-flight temp files are excluded.
func Candidates(dir, pattern, output string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	outAbs, err := filepath.Abs(output)
	if err != nil {
		return nil, fmt.Errorf("resolve output %s: %w", output, err)
	}
	if pattern == "" {
		pattern = "*.csv"
	}

	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || export.IsTempFile(name) || !glob.Glob(pattern, name) {
			continue
		}
		path := filepath.Join(dir, name)
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", path, err)
		}
		if abs == outAbs {
			continue
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// Unify reads every candidate file of dir, concatenates the readable ones in
// name order and writes the result to output. Files no encoding can read are
// logged and skipped. It fails with fiscal.ErrEmptyInput when nothing could
// be read, and with export.ErrOutputLocked when output cannot be replaced.
func (u *Unifier) Unify(ctx context.Context, dir, pattern, output string) (*tabular.Frame, *Report, error) {
	logger := u.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reader := u.Reader
	if reader == nil {
		reader = &tabular.Reader{}
	}

	paths, err := Candidates(dir, pattern, output)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("unifying", "dir", dir, "pattern", pattern, "files", len(paths))

	frames := make([]*tabular.Frame, len(paths))
	results := make([]FileResult, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(u.Workers, 1))
	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			f, err := reader.ReadFile(path)
			results[i] = FileResult{Path: path, Err: err}
			if err == nil {
				frames[i] = f
				results[i].Encoding = f.Encoding
				results[i].Rows = f.Len()
				results[i].Fallbacks = f.TotalFallbacks()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("unify %s: %w", dir, err)
	}

	rep := &Report{Files: results, Output: output}
	var readable []*tabular.Frame
	for i, res := range results {
		u.Metrics.FileRead(res.Err == nil)
		if u.Runs != nil && u.RunID != "" {
			if err := u.Runs.RecordFile(u.RunID, res.Path, res.Encoding, res.Rows, res.Err); err != nil {
				logger.Warn("run ledger", "error", err)
			}
		}
		if res.Err != nil {
			rep.Skipped++
			logger.Warn("skipping file", "file", res.Path, "error", res.Err)
			continue
		}
		rep.Ingested++
		rep.Rows += res.Rows
		rep.Fallbacks += res.Fallbacks
		u.Metrics.Fallbacks(frames[i].Fallbacks)
		if res.Fallbacks > 0 {
			logger.Warn("numeric values replaced by zero", "file", res.Path, "count", res.Fallbacks, "columns", frames[i].Fallbacks)
		}
		logger.Debug("file read", "file", res.Path, "encoding", res.Encoding, "rows", res.Rows)
		readable = append(readable, frames[i])
	}

	if len(readable) == 0 {
		return nil, rep, fmt.Errorf("unify %s (%d files matched): %w", dir, len(paths), fiscal.ErrEmptyInput)
	}

	unified := tabular.Concat(readable...)
	delim := reader.Delimiter
	if err := export.WriteFrameCSV(output, unified, delim); err != nil {
		return nil, rep, err
	}
	u.Metrics.Rows(unified.Len())

	logger.Info("unified file written", "output", output, "ingested", rep.Ingested,
		"skipped", rep.Skipped, "rows", rep.Rows, "numeric_fallbacks", rep.Fallbacks)
	return unified, rep, nil
}
