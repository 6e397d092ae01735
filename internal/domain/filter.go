package domain

// FilterKind selects which bar attribute a FilterSpec inspects.
type FilterKind string

const (
	FilterVolume    FilterKind = "volume"
	FilterPrice     FilterKind = "price"
	FilterTechnical FilterKind = "technical"
	FilterDatetime  FilterKind = "datetime"
)

// FilterSpec is one row-selection predicate applied to a bar series before a
// run. Parameter holds the OHLC field for price filters, the period for
// technical filters and the rule name for datetime filters.
type FilterSpec struct {
	Kind      FilterKind `yaml:"type" json:"type"`
	Operator  string     `yaml:"operator" json:"operator"`
	Value     float64    `yaml:"value" json:"value"`
	Parameter string     `yaml:"parameter" json:"parameter"`
	Indicator string     `yaml:"indicator" json:"indicator"`
	Enabled   bool       `yaml:"enabled" json:"enabled"`
}
