// CLAUDE:SUMMARY Headline indicators over the focus years: revenue vs expenditure balance, fiscal autonomy, budget execution stages and monthly seasonality.
package report

import (
	"slices"
	"strconv"
	"strings"

	"github.com/hazyhaar/fiscalflow/pkg/aggregate"
	"github.com/hazyhaar/fiscalflow/pkg/fiscal"
	"github.com/hazyhaar/fiscalflow/pkg/schema"
	"github.com/shopspring/decimal"
)

// OwnRevenueKeywords mark revenue origins raised by the municipality itself,
// matched accent- and case-insensitively.
var OwnRevenueKeywords = []string{"TRIBUTARIA", "PATRIMONIAL", "SERVICOS"}

var hundred = decimal.NewFromInt(100)

// percent returns part/whole*100 rounded to two places, or nil when whole is
// not positive.
func percent(part, whole decimal.Decimal) *decimal.Decimal {
	if !whole.IsPositive() {
		return nil
	}
	p := part.Mul(hundred).DivRound(whole, 2)
	return &p
}

// Balance compares realized revenue with paid expenditure.
type Balance struct {
	Years       []int           `json:"years"`
	Revenue     decimal.Decimal `json:"revenue"`
	Expenditure decimal.Decimal `json:"expenditure"`
	// Result is revenue minus expenditure; negative means a deficit.
	Result decimal.Decimal `json:"result"`
	// Margin is Result as a percentage of revenue.
	Margin     *decimal.Decimal `json:"margin_pct,omitempty"`
	OwnRevenue decimal.Decimal  `json:"own_revenue"`
	// Autonomy is own revenue as a percentage of total revenue.
	Autonomy *decimal.Decimal `json:"autonomy_pct,omitempty"`
	// MonthlyAverage is revenue divided by the number of months on record.
	MonthlyAverage decimal.Decimal `json:"monthly_average_revenue"`
}

// Surplus reports whether the accounts closed positive.
func (b *Balance) Surplus() bool { return !b.Result.IsNegative() }

// NewBalance computes the balance of two tables already restricted to the
// focus years. Own revenue is zero when the revenue table has no origin.
func NewBalance(rev, exp *fiscal.Table) (*Balance, error) {
	totalRev, err := aggregate.Total(rev, rev.Kind.Realized())
	if err != nil {
		return nil, err
	}
	totalExp, err := aggregate.Total(exp, exp.Kind.Realized())
	if err != nil {
		return nil, err
	}

	b := &Balance{
		Years:       mergeYears(fiscal.Years(rev), fiscal.Years(exp)),
		Revenue:     totalRev,
		Expenditure: totalExp,
		Result:      totalRev.Sub(totalExp),
		OwnRevenue:  decimal.Zero,
	}
	b.Margin = percent(b.Result, totalRev)

	if rev.Has(fiscal.Origin) {
		own := rev.Where(func(r fiscal.Row) bool { return isOwnRevenue(r.Label(fiscal.Origin)) })
		b.OwnRevenue, _ = aggregate.Total(own, rev.Kind.Realized())
	}
	b.Autonomy = percent(b.OwnRevenue, totalRev)

	if rev.Has(fiscal.Month) {
		months := make(map[string]bool)
		for _, r := range rev.Rows {
			if r.Month != "" {
				months[r.Month] = true
			}
		}
		if n := len(months); n > 0 {
			b.MonthlyAverage = totalRev.DivRound(decimal.NewFromInt(int64(n)), 2)
		}
	}
	return b, nil
}

func isOwnRevenue(origin string) bool {
	key := schema.FoldKey(origin)
	for _, kw := range OwnRevenueKeywords {
		if strings.Contains(key, kw) {
			return true
		}
	}
	return false
}

func mergeYears(a, b []int) []int {
	out := slices.Concat(a, b)
	slices.Sort(out)
	return slices.Compact(out)
}

// Stage is one step of budget execution.
type Stage struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
	// OfPrevious is Amount as a percentage of the previous stage.
	OfPrevious *decimal.Decimal `json:"of_previous_pct,omitempty"`
}

// executionStages is the order money moves through: authorized, reserved,
// delivered, paid.
var executionStages = []struct {
	name   string
	column fiscal.Column
}{
	{"budgeted", fiscal.Budgeted},
	{"committed", fiscal.Committed},
	{"verified", fiscal.Verified},
	{"paid", fiscal.Paid},
}

// Execution sums each execution stage of an expenditure table. Every stage
// column must be present.
func Execution(exp *fiscal.Table) ([]Stage, error) {
	out := make([]Stage, 0, len(executionStages))
	for i, s := range executionStages {
		total, err := aggregate.Total(exp, s.column)
		if err != nil {
			return nil, err
		}
		st := Stage{Name: s.name, Amount: total}
		if i > 0 {
			st.OfPrevious = percent(total, out[i-1].Amount)
		}
		out = append(out, st)
	}
	return out, nil
}

// MonthPoint is revenue against expenditure for one month.
type MonthPoint struct {
	Month       string          `json:"month"`
	Revenue     decimal.Decimal `json:"revenue"`
	Expenditure decimal.Decimal `json:"expenditure"`
}

// Monthly sums realized revenue and expenditure per month. Only months with
// both sides on record are reported. Months are sorted numerically when they
// are all numbers, otherwise they keep revenue order.
func Monthly(rev, exp *fiscal.Table) ([]MonthPoint, error) {
	revByMonth, err := aggregate.Aggregate(rev, []fiscal.Column{fiscal.Month}, rev.Kind.Realized())
	if err != nil {
		return nil, err
	}
	expByMonth, err := aggregate.Aggregate(exp, []fiscal.Column{fiscal.Month}, exp.Kind.Realized())
	if err != nil {
		return nil, err
	}

	spent := make(map[string]decimal.Decimal, len(expByMonth))
	for _, g := range expByMonth {
		spent[g.Label()] = g.Value()
	}

	var out []MonthPoint
	numeric := true
	for _, g := range revByMonth {
		e, ok := spent[g.Label()]
		if !ok {
			continue
		}
		if _, err := strconv.Atoi(strings.TrimSpace(g.Label())); err != nil {
			numeric = false
		}
		out = append(out, MonthPoint{Month: g.Label(), Revenue: g.Value(), Expenditure: e})
	}
	if numeric {
		slices.SortStableFunc(out, func(a, b MonthPoint) int {
			x, _ := strconv.Atoi(strings.TrimSpace(a.Month))
			y, _ := strconv.Atoi(strings.TrimSpace(b.Month))
			return x - y
		})
	}
	return out, nil
}
