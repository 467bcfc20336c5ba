package schema

import (
	"fmt"
	"sort"
	"sync"

	"github.com/hazyhaar/fiscalflow/pkg/fiscal"
)

func init() {
	Register(revenueSchema())
	Register(expenditureSchema())
}

var (
	registryMu sync.RWMutex
	schemas    = make(map[string]Schema)
)

// Register adds a schema to the global registry, replacing any schema with
// the same name.
func Register(s Schema) {
	registryMu.Lock()
	defer registryMu.Unlock()
	schemas[s.Name] = s
}

// Get returns a registered schema by name.
func Get(name string) (Schema, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	s, ok := schemas[name]
	if !ok {
		return Schema{}, fmt.Errorf("unknown schema: %q", name)
	}
	return s, nil
}

// All returns all registered schemas sorted by name.
func All() []Schema {
	registryMu.RLock()
	defer registryMu.RUnlock()
	result := make([]Schema, 0, len(schemas))
	for _, s := range schemas {
		result = append(result, s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// revenueSchema maps the municipal revenue export (receita.csv).
func revenueSchema() Schema {
	return Schema{
		Name: "revenue",
		Kind: fiscal.Revenue,
		Renames: map[string]fiscal.Column{
			"ano":              fiscal.Year,
			"ano_exercicio":    fiscal.Year,
			"mes":              fiscal.Month,
			"nome_origem":      fiscal.Origin,
			"nome_especie":     fiscal.Species,
			"nome_tipo":        fiscal.RevenueType,
			"valor_arrecadado": fiscal.RealizedAmount,
			"valor_realizado":  fiscal.RealizedAmount,
			"valor_orcado":     fiscal.BudgetedAmount,
		},
		Wanted: []fiscal.Column{
			fiscal.Year, fiscal.Month,
			fiscal.Origin, fiscal.Species, fiscal.RevenueType,
			fiscal.RealizedAmount, fiscal.BudgetedAmount,
		},
		Categorical: []fiscal.Column{fiscal.Origin, fiscal.Species, fiscal.RevenueType},
	}
}

// expenditureSchema maps the yearly expenditure exports and the unified file
// built from them.
func expenditureSchema() Schema {
	return Schema{
		Name: "expenditure",
		Kind: fiscal.Expenditure,
		Renames: map[string]fiscal.Column{
			"exercicio":      fiscal.Year,
			"ano_exercicio":  fiscal.Year,
			"mes":            fiscal.Month,
			"nome_orgao":     fiscal.Agency,
			"desc_funcao":    fiscal.Function,
			"desc_elemento":  fiscal.Element,
			"desc_categoria": fiscal.Category,
			"desc_natureza":  fiscal.Nature,
			"vlorcini":       fiscal.Budgeted,
			"vlpag":          fiscal.Paid,
			"vlemp":          fiscal.Committed,
			"vlliq":          fiscal.Verified,
		},
		Wanted: []fiscal.Column{
			fiscal.Year, fiscal.Month,
			fiscal.Agency, fiscal.Function, fiscal.Element, fiscal.Category, fiscal.Nature,
			fiscal.Budgeted, fiscal.Paid, fiscal.Committed, fiscal.Verified,
		},
		Categorical: []fiscal.Column{
			fiscal.Agency, fiscal.Function, fiscal.Element, fiscal.Category, fiscal.Nature,
		},
	}
}
