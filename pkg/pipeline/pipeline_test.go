package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/fiscalflow/pkg/config"
	"github.com/hazyhaar/fiscalflow/pkg/export"
	"github.com/hazyhaar/fiscalflow/pkg/fiscal"
	"github.com/hazyhaar/fiscalflow/pkg/flow"
	"github.com/hazyhaar/fiscalflow/pkg/metrics"
	"github.com/hazyhaar/fiscalflow/pkg/runlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

const expenditureHeader = "exercicio;mes;nome_orgao;desc_funcao;desc_elemento;desc_categoria;desc_natureza;vlorcini;vlpag;vlemp;vlliq\n"

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// fixture lays out a data directory with two yearly expenditure exports
// (one Latin-1) and a revenue export spanning one year outside the focus.
func fixture(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	expDir := filepath.Join(root, "despesas")
	require.NoError(t, os.MkdirAll(expDir, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "receitas"), 0o755))

	latin, err := charmap.ISO8859_1.NewEncoder().String(expenditureHeader +
		"2022;1;SMS;Saúde;Salários;Correntes;Pessoal;600,00;400,00;500,00;450,00\n")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(expDir, "despesas_2022.csv"), []byte(latin), 0o644))

	require.NoError(t, os.WriteFile(filepath.Join(expDir, "despesas_2023.csv"), []byte(expenditureHeader+
		"2023;1;SMS;saúde;Salários;Correntes;Pessoal;2.000,00;1.500,00;1.800,00;1.600,00\n"+
		"2023;2;SMED;Educação;Obras;Capital;Investimentos;1.000,00;1.000,00;1.000,00;1.000,00\n"), 0o644))

	revenue := filepath.Join(root, "receitas", "receita.csv")
	require.NoError(t, os.WriteFile(revenue, []byte(
		"ano;mes;nome_origem;nome_especie;nome_tipo;valor_arrecadado;valor_orcado\n"+
			"2023;1;Receita Tributária;Impostos;IPTU;1.000,00;900,00\n"+
			"2023;2;Transferências Correntes;FPM;FPM;2.000,50;2.000,00\n"+
			"2022;1;Receita Tributária;Impostos;ISS;500,00;400,00\n"+
			"2018;1;Receita Tributária;Impostos;ISS;999,00;0\n"), 0o644))

	cfg := config.Defaults()
	cfg.Input.ExpenditureDir = expDir
	cfg.Input.Revenue = revenue
	cfg.Output.Unified = filepath.Join(expDir, "despesas_unificado.csv")
	cfg.Output.Dir = filepath.Join(root, "out")
	cfg.Output.XLSX = true
	cfg.LedgerDB = filepath.Join(root, "runs.db")
	cfg.Years = []int{2022, 2023}
	cfg.TopSources = 1
	cfg.TopSinks = 1
	require.NoError(t, cfg.Validate())
	return cfg
}

const wantFlows = "year;source_label;target_label;value\n" +
	"2022;OTHER SOURCES;TREASURY;500\n" +
	"2022;TREASURY;SAÚDE;400\n" +
	"2023;OTHER SOURCES;TREASURY;1000\n" +
	"2023;FPM;TREASURY;2000,5\n" +
	"2023;TREASURY;SAÚDE;1500\n" +
	"2023;TREASURY;OTHER FUNCTIONS;1000\n"

func TestRun(t *testing.T) {
	cfg := fixture(t)
	m, err := metrics.New()
	require.NoError(t, err)

	res, err := Run(context.Background(), cfg, quietLogger(), m)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Unify.Ingested)
	assert.Equal(t, []int{2022, 2023}, res.Dataset.Years)
	require.Len(t, res.Graphs, 2)

	data, err := os.ReadFile(cfg.FlowsPath())
	require.NoError(t, err)
	assert.Equal(t, wantFlows, string(data))

	xl, err := excelize.OpenFile(cfg.FlowsXLSXPath())
	require.NoError(t, err)
	defer xl.Close()
	rows, err := xl.GetRows(export.FlowSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 7)

	man, err := export.LoadManifest(filepath.Join(cfg.Output.Dir, export.ManifestFile))
	require.NoError(t, err)
	assert.Equal(t, res.RunID, man.RunID)
	assert.Equal(t, []int{2022, 2023}, man.Years)
	assert.Len(t, man.Inputs, 3)

	ledger, err := runlog.Open(cfg.LedgerDB)
	require.NoError(t, err)
	defer ledger.Close()
	runs, err := ledger.ListRuns(10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runlog.StatusOK, runs[0].Status)
	assert.Equal(t, 3, runs[0].Rows)
	assert.Equal(t, []int{2022, 2023}, runs[0].Years)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues(runlog.StatusOK)))
}

func TestRun_HeaderAliasesAcrossYears(t *testing.T) {
	cfg := fixture(t)
	// The 2023 export renames the year and paid columns.
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Input.ExpenditureDir, "despesas_2023.csv"), []byte(
		"ano_exercicio;mes;nome_orgao;desc_funcao;desc_elemento;desc_categoria;desc_natureza;vlorcini;paid;vlemp;vlliq\n"+
			"2023;1;SMS;saúde;Salários;Correntes;Pessoal;2.000,00;1.500,00;1.800,00;1.600,00\n"+
			"2023;2;SMED;Educação;Obras;Capital;Investimentos;1.000,00;1.000,00;1.000,00;1.000,00\n"), 0o644))

	res, err := Run(context.Background(), cfg, quietLogger(), nil)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Dataset.Expenditure.Len())
	assert.Equal(t, []int{2022, 2023}, fiscal.Years(res.Dataset.Expenditure))
	total := decimal.Zero
	for _, r := range res.Dataset.Expenditure.Rows {
		total = total.Add(r.Amount(fiscal.Paid))
	}
	assert.True(t, total.Equal(dec("2900")), "paid total %s", total)

	data, err := os.ReadFile(cfg.FlowsPath())
	require.NoError(t, err)
	assert.Equal(t, wantFlows, string(data))
}

func TestRun_Conservation(t *testing.T) {
	cfg := fixture(t)
	cfg.TopSources = 5
	cfg.TopSinks = 5
	res, err := Run(context.Background(), cfg, quietLogger(), nil)
	require.NoError(t, err)

	for _, yg := range res.Graphs {
		hub := yg.Graph.Hub()
		for _, n := range yg.Graph.Nodes {
			if n.Role == flow.Source {
				assert.True(t, yg.Graph.Outflow(n.ID).IsPositive(), "source %s", n.Label)
			}
		}
		assert.True(t, yg.Graph.Inflow(hub.ID).IsPositive())
	}
	// 2023 revenue: IPTU 1000 + FPM 2000.50.
	g2023 := res.Graphs[1].Graph
	assert.True(t, g2023.Inflow(g2023.Hub().ID).Equal(dec("3000.5")))
}

func TestRun_Idempotent(t *testing.T) {
	cfg := fixture(t)
	cfg.LedgerDB = ""
	_, err := Run(context.Background(), cfg, quietLogger(), nil)
	require.NoError(t, err)
	first, err := os.ReadFile(cfg.FlowsPath())
	require.NoError(t, err)

	_, err = Run(context.Background(), cfg, quietLogger(), nil)
	require.NoError(t, err)
	second, err := os.ReadFile(cfg.FlowsPath())
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestRun_EmptyInputRecordsFailure(t *testing.T) {
	cfg := fixture(t)
	cfg.Input.Pattern = "*.xls"

	_, err := Run(context.Background(), cfg, quietLogger(), nil)
	require.ErrorIs(t, err, fiscal.ErrEmptyInput)

	ledger, err := runlog.Open(cfg.LedgerDB)
	require.NoError(t, err)
	defer ledger.Close()
	runs, err := ledger.ListRuns(1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, runlog.StatusFailed, runs[0].Status)
	require.NotNil(t, runs[0].Error)

	_, statErr := os.Stat(cfg.FlowsPath())
	assert.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestRun_MissingRevenue(t *testing.T) {
	cfg := fixture(t)
	cfg.Input.Revenue = filepath.Join(t.TempDir(), "missing.csv")
	_, err := Run(context.Background(), cfg, quietLogger(), nil)
	assert.Error(t, err)
}

func loaded(t *testing.T) *Dataset {
	t.Helper()
	cfg := fixture(t)
	cfg.LedgerDB = ""
	res, err := Run(context.Background(), cfg, quietLogger(), nil)
	require.NoError(t, err)

	ds, err := Load(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, res.Dataset.Expenditure.Len(), ds.Expenditure.Len())
	return ds
}

func TestLoad_RestrictsYears(t *testing.T) {
	ds := loaded(t)
	assert.Equal(t, 3, ds.Revenue.Len(), "2018 revenue is outside the focus")
	assert.Equal(t, 3, ds.Expenditure.Len())
	assert.Equal(t, []int{2022, 2023}, fiscal.Years(ds.Revenue))
}

func TestLoad_StaleYearsFallBack(t *testing.T) {
	cfg := fixture(t)
	cfg.LedgerDB = ""
	_, err := Run(context.Background(), cfg, quietLogger(), nil)
	require.NoError(t, err)

	cfg.Years = []int{2030}
	ds, err := Load(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, []int{2018, 2022, 2023}, ds.Years)
}

func TestDataset_Balance(t *testing.T) {
	ds := loaded(t)
	b, err := ds.Balance([]int{2023})
	require.NoError(t, err)
	assert.True(t, b.Revenue.Equal(dec("3000.5")))
	assert.True(t, b.Expenditure.Equal(dec("2500")))
	assert.True(t, b.OwnRevenue.Equal(dec("1000")))

	_, err = ds.Balance([]int{1999})
	assert.ErrorIs(t, err, fiscal.ErrEmptyResult)
}

func TestDataset_Execution(t *testing.T) {
	ds := loaded(t)
	stages, err := ds.Execution(nil)
	require.NoError(t, err)
	require.Len(t, stages, 4)
	assert.True(t, stages[0].Amount.Equal(dec("3600")))
	assert.True(t, stages[3].Amount.Equal(dec("2900")))
}

func TestDataset_Aggregate(t *testing.T) {
	ds := loaded(t)

	groups, err := ds.Aggregate(AggregateQuery{Kind: fiscal.Expenditure, Path: []fiscal.Column{fiscal.Function}, Top: 1})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "SAÚDE", groups[0].Label())
	assert.True(t, groups[0].Value().Equal(dec("1900")))
	assert.Equal(t, "OTHER FUNCTIONS", groups[1].Label())

	groups, err = ds.Aggregate(AggregateQuery{
		Kind:    fiscal.Revenue,
		Path:    []fiscal.Column{fiscal.Origin, fiscal.RevenueType},
		Measure: fiscal.BudgetedAmount,
		Years:   []int{2023},
	})
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, []string{"RECEITA TRIBUTÁRIA", "IPTU"}, groups[0].Key)
	assert.True(t, groups[0].Value().Equal(dec("900")))

	_, err = ds.Aggregate(AggregateQuery{Kind: fiscal.Expenditure})
	assert.Error(t, err)
	_, err = ds.Aggregate(AggregateQuery{Kind: "payroll", Path: []fiscal.Column{fiscal.Function}})
	assert.Error(t, err)
}

func TestDataset_Chain(t *testing.T) {
	ds := loaded(t)
	g, err := ds.Chain(fiscal.Expenditure, nil, nil, 1)
	require.NoError(t, err)

	root := g.Hub()
	assert.Equal(t, "TOTAL EXPENDITURE", root.Label)
	// Only the top element (SALÁRIOS, 1900) survives the drop.
	assert.True(t, g.Outflow(root.ID).Equal(dec("1900")))
	leaf, ok := g.Lookup(flow.Sink, "CORRENTES", "PESSOAL", "SALÁRIOS")
	require.True(t, ok)
	assert.True(t, g.Inflow(leaf.ID).Equal(dec("1900")))
	_, ok = g.Lookup(flow.Sink, "CAPITAL")
	assert.False(t, ok)

	g, err = ds.Chain(fiscal.Revenue, nil, []int{2023}, 0)
	require.NoError(t, err)
	assert.Equal(t, "TOTAL REVENUE", g.Hub().Label)
	assert.True(t, g.Outflow(g.Hub().ID).Equal(dec("3000.5")))
}

func TestDataset_Monthly(t *testing.T) {
	ds := loaded(t)
	points, err := ds.Monthly([]int{2023})
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "1", points[0].Month)
	assert.True(t, points[0].Revenue.Equal(dec("1000")))
	assert.True(t, points[0].Expenditure.Equal(dec("1500")))
}

func TestSchemas(t *testing.T) {
	s := Schemas()
	assert.Contains(t, s["revenue"], "valor_arrecadado")
	assert.Contains(t, s["revenue"], "valor_realizado")
	assert.Contains(t, s["expenditure"], "vlpag")
	assert.NotContains(t, s["expenditure"], "desc_funcao")
}
