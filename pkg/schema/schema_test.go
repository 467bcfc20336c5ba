package schema

import (
	"testing"

	"github.com/hazyhaar/fiscalflow/pkg/fiscal"
	"github.com/hazyhaar/fiscalflow/pkg/tabular"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func expenditureFrame() *tabular.Frame {
	return &tabular.Frame{
		Header: []string{"exercicio", "mes", "desc_funcao", "nome_orgao", "codigo_interno", "vlpag", "vlemp"},
		Rows: [][]tabular.Cell{
			{
				tabular.TextCell("2023"), tabular.TextCell("1"), tabular.TextCell(" saúde "),
				tabular.TextCell("sms"), tabular.TextCell("X1"),
				tabular.AmountCell(decimal.RequireFromString("1500")), tabular.TextCell("1.600,00"),
			},
			{
				tabular.TextCell("2023.0"), tabular.TextCell("2"), tabular.TextCell(""),
				tabular.TextCell("SMED"), tabular.TextCell("X2"),
				tabular.AmountCell(decimal.RequireFromString("-20")), tabular.TextCell(""),
			},
		},
	}
}

func TestNormalize_Expenditure(t *testing.T) {
	s, err := Get("expenditure")
	require.NoError(t, err)

	tbl, err := Normalize(expenditureFrame(), s)
	require.NoError(t, err)

	assert.Equal(t, fiscal.Expenditure, tbl.Kind)
	// Wanted columns that are missing (element, category, ...) are absent,
	// unknown source columns are dropped.
	assert.Equal(t, []fiscal.Column{
		fiscal.Year, fiscal.Month, fiscal.Agency, fiscal.Function, fiscal.Paid, fiscal.Committed,
	}, tbl.Columns)
	assert.False(t, tbl.Has(fiscal.Element))

	require.Equal(t, 2, tbl.Len())
	first := tbl.Rows[0]
	assert.Equal(t, 2023, first.Year)
	assert.Equal(t, "1", first.Month)
	assert.Equal(t, "SAÚDE", first.Label(fiscal.Function))
	assert.Equal(t, "SMS", first.Label(fiscal.Agency))
	assert.True(t, first.Amount(fiscal.Paid).Equal(decimal.NewFromInt(1500)))
	assert.True(t, first.Amount(fiscal.Committed).Equal(decimal.NewFromInt(1600)))

	second := tbl.Rows[1]
	assert.Equal(t, 2023, second.Year)
	assert.Equal(t, NotClassified, second.Label(fiscal.Function))
	// Negative amounts are corrections and pass through.
	assert.True(t, second.Amount(fiscal.Paid).Equal(decimal.NewFromInt(-20)))
}

func TestNormalize_PlaceholderAndRenames(t *testing.T) {
	s, err := Get("expenditure")
	require.NoError(t, err)
	s = s.WithPlaceholder("OUTRAS FUNÇÕES").WithRenames(map[string]string{"funcao": "function"})

	f := &tabular.Frame{
		Header: []string{"exercicio", "funcao", "vlpag"},
		Rows: [][]tabular.Cell{
			{tabular.TextCell("2022"), tabular.TextCell(""), tabular.TextCell("10,00")},
		},
	}
	tbl, err := Normalize(f, s)
	require.NoError(t, err)
	assert.Equal(t, "OUTRAS FUNÇÕES", tbl.Rows[0].Label(fiscal.Function))
	assert.True(t, tbl.Rows[0].Amount(fiscal.Paid).Equal(decimal.NewFromInt(10)))
}

func TestNormalize_CanonicalHeaders(t *testing.T) {
	s, err := Get("revenue")
	require.NoError(t, err)

	f := &tabular.Frame{
		Header: []string{"year", "origin", "realized_amount"},
		Rows: [][]tabular.Cell{
			{tabular.TextCell("2021"), tabular.TextCell("receita tributária"), tabular.TextCell("5")},
		},
	}
	tbl, err := Normalize(f, s)
	require.NoError(t, err)
	assert.Equal(t, []fiscal.Column{fiscal.Year, fiscal.Origin, fiscal.RealizedAmount}, tbl.Columns)
	assert.Equal(t, "RECEITA TRIBUTÁRIA", tbl.Rows[0].Label(fiscal.Origin))
}

func TestParseYear(t *testing.T) {
	tests := []struct {
		cell tabular.Cell
		want int
	}{
		{tabular.TextCell("2023"), 2023},
		{tabular.TextCell(" 2019 "), 2019},
		{tabular.TextCell("2023,0"), 2023},
		{tabular.TextCell("2023.5"), 0},
		{tabular.TextCell("n/a"), 0},
		{tabular.TextCell(""), 0},
		{tabular.AmountCell(decimal.NewFromInt(2020)), 2020},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, parseYear(tt.cell), "parseYear(%q)", tt.cell.Text)
	}
}

func TestSourceColumns(t *testing.T) {
	s, err := Get("expenditure")
	require.NoError(t, err)
	cols := s.SourceColumns()
	for _, want := range []string{"vlpag", "vlorcini", "vlemp", "vlliq", "paid"} {
		assert.Contains(t, cols, want)
	}
	assert.NotContains(t, cols, "desc_funcao")
}

func TestRegistry(t *testing.T) {
	names := []string{}
	for _, s := range All() {
		names = append(names, s.Name)
	}
	assert.Equal(t, []string{"expenditure", "revenue"}, names)

	_, err := Get("nope")
	assert.Error(t, err)
}

func TestNormalize_AliasesAcrossFiles(t *testing.T) {
	s, err := Get("expenditure")
	require.NoError(t, err)

	// A unified frame carries both spellings of the year and paid columns;
	// each row only fills the one its source file used.
	blank := tabular.TextCell("")
	f := &tabular.Frame{
		Header: []string{"exercicio", "desc_funcao", "vlpag", "ano_exercicio", "paid"},
		Rows: [][]tabular.Cell{
			{tabular.TextCell("2022"), tabular.TextCell("Saúde"), tabular.AmountCell(decimal.RequireFromString("1500")), blank, blank},
			{blank, tabular.TextCell("Educação"), blank, tabular.TextCell("2023"), tabular.AmountCell(decimal.RequireFromString("2000.5"))},
		},
	}
	tbl, err := Normalize(f, s)
	require.NoError(t, err)

	assert.Equal(t, []fiscal.Column{fiscal.Year, fiscal.Function, fiscal.Paid}, tbl.Columns)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, 2022, tbl.Rows[0].Year)
	assert.True(t, tbl.Rows[0].Amount(fiscal.Paid).Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, 2023, tbl.Rows[1].Year)
	assert.Equal(t, "EDUCAÇÃO", tbl.Rows[1].Label(fiscal.Function))
	assert.True(t, tbl.Rows[1].Amount(fiscal.Paid).Equal(decimal.RequireFromString("2000.5")))
}
