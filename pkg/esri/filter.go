package esri

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Filter renders to a SQL where-clause fragment.
type Filter interface {
	SQL() string
}

// Comparison operators accepted by Compare.
var comparisonOps = map[string]bool{
	"=": true, ">": true, "<": true, ">=": true, "<=": true, "!=": true, "<>": true, "LIKE": true,
}

// ErrInvalidFilter is returned by ValidateFilter.
var ErrInvalidFilter = errors.New("esri: invalid filter")

// Comparison renders as `field op literal`.
type Comparison struct {
	Field string
	Op    string
	Value any
}

func (c Comparison) SQL() string {
	return fmt.Sprintf("%s %s %s", c.Field, c.Op, Literal(c.Value))
}

// InFilter renders as `field IN (v1, v2)`.
type InFilter struct {
	Field  string
	Values []any
	Not    bool
}

func (f InFilter) SQL() string {
	vals := make([]string, len(f.Values))
	for i, v := range f.Values {
		vals[i] = Literal(v)
	}
	op := "IN"
	if f.Not {
		op = "NOT IN"
	}
	return fmt.Sprintf("%s %s (%s)", f.Field, op, strings.Join(vals, ", "))
}

// BetweenFilter renders as `field BETWEEN from AND to`.
type BetweenFilter struct {
	Field string
	From  any
	To    any
}

func (f BetweenFilter) SQL() string {
	return fmt.Sprintf("%s BETWEEN %s AND %s", f.Field, Literal(f.From), Literal(f.To))
}

// NullFilter renders as `field IS NULL` or `field IS NOT NULL`.
type NullFilter struct {
	Field string
	Not   bool
}

func (f NullFilter) SQL() string {
	if f.Not {
		return f.Field + " IS NOT NULL"
	}
	return f.Field + " IS NULL"
}

// Group joins sub-filters with AND or OR inside parentheses.
type Group struct {
	Op      string
	Filters []Filter
}

func (g Group) SQL() string {
	if len(g.Filters) == 0 {
		return "1=1"
	}
	parts := make([]string, len(g.Filters))
	for i, f := range g.Filters {
		parts[i] = f.SQL()
	}
	return "(" + strings.Join(parts, " "+g.Op+" ") + ")"
}

// Raw is a literal where clause passed through unchanged.
type Raw string

func (r Raw) SQL() string { return string(r) }

// Compare builds field <op> value; op is upper-cased.
func Compare(field, op string, value any) Comparison {
	return Comparison{Field: field, Op: strings.ToUpper(op), Value: value}
}

// Eq matches field = value.
func Eq(field string, value any) Comparison { return Compare(field, "=", value) }

// Like matches field against a SQL LIKE pattern.
func Like(field, pattern string) Comparison { return Compare(field, "LIKE", pattern) }

// In matches field against any of values.
func In(field string, values ...any) InFilter { return InFilter{Field: field, Values: values} }

// NotIn excludes rows whose field is one of values.
func NotIn(field string, values ...any) InFilter {
	return InFilter{Field: field, Values: values, Not: true}
}

// Between matches field in the inclusive range from..to.
func Between(field string, from, to any) BetweenFilter {
	return BetweenFilter{Field: field, From: from, To: to}
}

// IsNull matches rows where field is NULL.
func IsNull(field string) NullFilter { return NullFilter{Field: field} }

// IsNotNull matches rows where field has a value.
func IsNotNull(field string) NullFilter { return NullFilter{Field: field, Not: true} }

// And joins filters with AND; with no filters it matches everything.
func And(filters ...Filter) Group { return Group{Op: "AND", Filters: filters} }

// Or joins filters with OR.
func Or(filters ...Filter) Group { return Group{Op: "OR", Filters: filters} }

// Literal renders a value as a SQL literal. Strings are single-quoted with
// embedded quotes doubled.
func Literal(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'"
	case bool:
		if val {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case time.Time:
		return "timestamp '" + val.UTC().Format("2006-01-02 15:04:05") + "'"
	}
	return fmt.Sprint(v)
}

// ValidateFilter checks fields and operators recursively.
func ValidateFilter(f Filter) error {
	switch v := f.(type) {
	case nil:
		return fmt.Errorf("%w: nil filter", ErrInvalidFilter)
	case Comparison:
		if v.Field == "" {
			return fmt.Errorf("%w: comparison without field", ErrInvalidFilter)
		}
		if !comparisonOps[v.Op] {
			return fmt.Errorf("%w: unsupported operator %q", ErrInvalidFilter, v.Op)
		}
	case InFilter:
		if v.Field == "" || len(v.Values) == 0 {
			return fmt.Errorf("%w: IN needs a field and values", ErrInvalidFilter)
		}
	case BetweenFilter:
		if v.Field == "" || v.From == nil || v.To == nil {
			return fmt.Errorf("%w: BETWEEN needs a field, from and to", ErrInvalidFilter)
		}
	case NullFilter:
		if v.Field == "" {
			return fmt.Errorf("%w: NULL check without field", ErrInvalidFilter)
		}
	case Group:
		if v.Op != "AND" && v.Op != "OR" {
			return fmt.Errorf("%w: unsupported group operator %q", ErrInvalidFilter, v.Op)
		}
		for _, sub := range v.Filters {
			if err := ValidateFilter(sub); err != nil {
				return err
			}
		}
	}
	return nil
}

// FilterSpec is the JSON/YAML form of a filter expression.
type FilterSpec struct {
	Field   string       `json:"field,omitempty" yaml:"field,omitempty" doc:"Field name"`
	Op      string       `json:"op" yaml:"op" doc:"Operator: =, >, <, >=, <=, !=, LIKE, IN, NOT IN, BETWEEN, NULL, NOT NULL, AND, OR"`
	Value   any          `json:"value,omitempty" yaml:"value,omitempty" doc:"Comparison value"`
	Values  []any        `json:"values,omitempty" yaml:"values,omitempty" doc:"IN values"`
	From    any          `json:"from,omitempty" yaml:"from,omitempty" doc:"BETWEEN lower bound"`
	To      any          `json:"to,omitempty" yaml:"to,omitempty" doc:"BETWEEN upper bound"`
	Filters []FilterSpec `json:"filters,omitempty" yaml:"filters,omitempty" doc:"Grouped sub-filters"`
}

// Build converts the spec into a validated Filter.
func (s FilterSpec) Build() (Filter, error) {
	var f Filter
	switch op := strings.ToUpper(strings.TrimSpace(s.Op)); op {
	case "IN":
		f = In(s.Field, s.Values...)
	case "NOT IN":
		f = NotIn(s.Field, s.Values...)
	case "BETWEEN":
		f = Between(s.Field, s.From, s.To)
	case "NULL", "IS NULL":
		f = IsNull(s.Field)
	case "NOT NULL", "IS NOT NULL":
		f = IsNotNull(s.Field)
	case "AND", "OR":
		subs := make([]Filter, 0, len(s.Filters))
		for _, sub := range s.Filters {
			built, err := sub.Build()
			if err != nil {
				return nil, err
			}
			subs = append(subs, built)
		}
		f = Group{Op: op, Filters: subs}
	default:
		f = Compare(s.Field, op, s.Value)
	}
	if err := ValidateFilter(f); err != nil {
		return nil, err
	}
	return f, nil
}
