// Package fiscal defines the canonical revenue and expenditure tables the
// rest of the pipeline consumes. Tables are values: every transformation
// returns a new table and leaves its input untouched.
package fiscal

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Column is a canonical column name.
type Column string

// Shared columns.
const (
	Year  Column = "year"
	Month Column = "month"
)

// Revenue columns.
const (
	Origin         Column = "origin"
	Species        Column = "species"
	RevenueType    Column = "type"
	RealizedAmount Column = "realized_amount"
	BudgetedAmount Column = "budgeted_amount"
)

// Expenditure columns.
const (
	Agency    Column = "agency"
	Function  Column = "function"
	Element   Column = "element"
	Category  Column = "category"
	Nature    Column = "nature"
	Budgeted  Column = "budgeted"
	Paid      Column = "paid"
	Committed Column = "committed"
	Verified  Column = "verified"
)

// Kind tells revenue tables from expenditure tables.
type Kind string

const (
	Revenue     Kind = "revenue"
	Expenditure Kind = "expenditure"
)

// Realized returns the canonical "realized" measure for a kind: cash
// collected for revenue, cash paid for expenditure.
func (k Kind) Realized() Column {
	if k == Revenue {
		return RealizedAmount
	}
	return Paid
}

// Budget returns the budget measure for a kind.
func (k Kind) Budget() Column {
	if k == Revenue {
		return BudgetedAmount
	}
	return Budgeted
}

var measures = map[Column]bool{
	RealizedAmount: true,
	BudgetedAmount: true,
	Budgeted:       true,
	Paid:           true,
	Committed:      true,
	Verified:       true,
}

// IsMeasure reports whether c holds monetary amounts.
func IsMeasure(c Column) bool { return measures[c] }

// IsLabel reports whether c holds a categorical dimension.
func IsLabel(c Column) bool { return c != Year && c != Month && !measures[c] }

var (
	// ErrEmptyInput means no input file could be ingested.
	ErrEmptyInput = errors.New("no input rows")
	// ErrEmptyResult means a filter left no rows to work with.
	ErrEmptyResult = errors.New("empty result set")
)

// ColumnMissingError is returned when an operation needs a column the table
// does not carry.
type ColumnMissingError struct {
	Kind   Kind
	Column Column
}

func (e *ColumnMissingError) Error() string {
	return fmt.Sprintf("%s table has no %q column", e.Kind, e.Column)
}

// Row is one ledger line.
type Row struct {
	Year    int
	Month   string
	Labels  map[Column]string
	Amounts map[Column]decimal.Decimal
}

// Label returns the value of a categorical column.
func (r Row) Label(c Column) string { return r.Labels[c] }

// Amount returns the value of a measure column, zero when absent.
func (r Row) Amount(c Column) decimal.Decimal { return r.Amounts[c] }

// Value returns the row's value for any column rendered as text.
func (r Row) Value(c Column) string {
	switch {
	case c == Year:
		return fmt.Sprint(r.Year)
	case c == Month:
		return r.Month
	case IsMeasure(c):
		return r.Amounts[c].String()
	}
	return r.Labels[c]
}

// WithLabel returns a copy of r with column c relabeled. Maps are copied so
// the source row is never modified.
func (r Row) WithLabel(c Column, v string) Row {
	labels := make(map[Column]string, len(r.Labels))
	for k, val := range r.Labels {
		labels[k] = val
	}
	labels[c] = v
	r.Labels = labels
	return r
}

// Table is an immutable set of rows with the canonical columns that were
// present in the source.
type Table struct {
	Kind    Kind
	Columns []Column
	Rows    []Row
}

// Has reports whether the table carries column c.
func (t *Table) Has(c Column) bool {
	for _, col := range t.Columns {
		if col == c {
			return true
		}
	}
	return false
}

// Require returns a ColumnMissingError for the first absent column.
func (t *Table) Require(cols ...Column) error {
	for _, c := range cols {
		if !t.Has(c) {
			return &ColumnMissingError{Kind: t.Kind, Column: c}
		}
	}
	return nil
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// WithRows returns a table with the same kind and columns holding rows.
func (t *Table) WithRows(rows []Row) *Table {
	cols := make([]Column, len(t.Columns))
	copy(cols, t.Columns)
	return &Table{Kind: t.Kind, Columns: cols, Rows: rows}
}

// Where returns the rows satisfying keep.
func (t *Table) Where(keep func(Row) bool) *Table {
	var rows []Row
	for _, r := range t.Rows {
		if keep(r) {
			rows = append(rows, r)
		}
	}
	return t.WithRows(rows)
}
