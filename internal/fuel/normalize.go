package fuel

import (
	"fmt"
	"strings"

	"github.com/gridfeed/elecdata/internal/model"
)

// Per-market label tables. AESO and IESO values follow the upstream
// fuel-mix column names; the European markets use ENTSO-E production
// type names. Adding a market means adding its rows here (or passing a
// custom table to NewNormalizer), not changing the normalizer.
var defaultTables = map[string]map[string]model.FuelType{
	"AESO": {
		"Cogeneration":    model.FuelGas,
		"Combined Cycle":  model.FuelGas,
		"Gas Fired Steam": model.FuelGas,
		"Simple Cycle":    model.FuelGas,
		"Coal":            model.FuelCoal,
		"Hydro":           model.FuelHydro,
		"Wind":            model.FuelWind,
		"Solar":           model.FuelSolar,
		"Energy Storage":  model.FuelStorage,
		"Other":           model.FuelOther,
	},
	"IESO": {
		"Gas":     model.FuelGas,
		"Hydro":   model.FuelHydro,
		"Nuclear": model.FuelNuclear,
		"Wind":    model.FuelWind,
		"Solar":   model.FuelSolar,
		"Biofuel": model.FuelBiomass,
		"Other":   model.FuelOther,
	},
	"DE_LU": {
		"Fossil Brown coal/Lignite": model.FuelCoal,
		"Fossil Hard coal":          model.FuelCoal,
		"Fossil Gas":                model.FuelGas,
		"Fossil Oil":                model.FuelOil,
		"Hydro Run-of-river and poundage": model.FuelHydro,
		"Hydro Water Reservoir":           model.FuelHydro,
		"Hydro Pumped Storage":            model.FuelStorage,
		"Nuclear":                         model.FuelNuclear,
		"Wind Onshore":                    model.FuelWind,
		"Wind Offshore":                   model.FuelWind,
		"Solar":                           model.FuelSolar,
		"Biomass":                         model.FuelBiomass,
		"Other":                           model.FuelOther,
	},
	"GB": {
		"Fossil Hard coal":                model.FuelCoal,
		"Fossil Gas":                      model.FuelGas,
		"Fossil Oil":                      model.FuelOil,
		"Hydro Run-of-river and poundage": model.FuelHydro,
		"Hydro Pumped Storage":            model.FuelStorage,
		"Nuclear":                         model.FuelNuclear,
		"Wind Onshore":                    model.FuelWind,
		"Wind Offshore":                   model.FuelWind,
		"Solar":                           model.FuelSolar,
		"Biomass":                         model.FuelBiomass,
		"Other":                           model.FuelOther,
	},
	"ES": {
		"Fossil Hard coal":                model.FuelCoal,
		"Fossil Gas":                      model.FuelGas,
		"Fossil Oil":                      model.FuelOil,
		"Hydro Run-of-river and poundage": model.FuelHydro,
		"Hydro Water Reservoir":           model.FuelHydro,
		"Hydro Pumped Storage":            model.FuelStorage,
		"Nuclear":                         model.FuelNuclear,
		"Wind Onshore":                    model.FuelWind,
		"Solar":                           model.FuelSolar,
		"Biomass":                         model.FuelBiomass,
		"Other":                           model.FuelOther,
	},
}

// Normalizer resolves raw fuel labels against market-scoped tables.
// The zero value is not usable; construct with NewNormalizer.
type Normalizer struct {
	tables map[string]map[string]model.FuelType
}

// NewNormalizer returns a normalizer backed by the built-in tables.
func NewNormalizer() *Normalizer {
	return &Normalizer{tables: defaultTables}
}

// NewNormalizerWithTables returns a normalizer over custom tables,
// used by tests and by deployments with extra markets.
func NewNormalizerWithTables(tables map[string]map[string]model.FuelType) *Normalizer {
	return &Normalizer{tables: tables}
}

// Normalize maps a raw source label to a canonical fuel type. Unknown
// labels (or labels from markets with no table) return FuelOther with
// unmapped=true; the caller keeps the row and records a quality event.
func (n *Normalizer) Normalize(marketID, rawLabel string) (ft model.FuelType, unmapped bool) {
	table, ok := n.tables[marketID]
	if !ok {
		return model.FuelOther, true
	}
	ft, ok = table[rawLabel]
	if !ok {
		return model.FuelOther, true
	}
	return ft, false
}

// NormalizeUnit converts a source-reported unit and value into the
// canonical MW / MWh pair. Unit strings are matched case-insensitively.
func NormalizeUnit(rawUnit string, value float64) (model.Unit, float64, error) {
	switch strings.ToUpper(strings.TrimSpace(rawUnit)) {
	case "MW", "":
		return model.UnitMW, value, nil
	case "KW":
		return model.UnitMW, value / 1000, nil
	case "GW":
		return model.UnitMW, value * 1000, nil
	case "MWH":
		return model.UnitMWh, value, nil
	case "KWH":
		return model.UnitMWh, value / 1000, nil
	case "GWH":
		return model.UnitMWh, value * 1000, nil
	default:
		return "", 0, fmt.Errorf("unrecognized unit %q", rawUnit)
	}
}
