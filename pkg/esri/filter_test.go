package esri

import (
	"errors"
	"testing"
	"time"
)

func TestFilterSQL(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   string
	}{
		{"Equals string", Eq("STATE_NAME", "California"), "STATE_NAME = 'California'"},
		{"Greater number", Compare("POP", ">", 1000), "POP > 1000"},
		{"Not equal", Compare("TYPE", "!=", "A"), "TYPE != 'A'"},
		{"Quote escaped", Eq("NAME", "O'Brien"), "NAME = 'O''Brien'"},
		{"In strings", In("STATE_ABBR", "CA", "OR"), "STATE_ABBR IN ('CA', 'OR')"},
		{"In numbers", In("ID", 1, 2, 3), "ID IN (1, 2, 3)"},
		{"Between", Between("POP", 10, 20), "POP BETWEEN 10 AND 20"},
		{"Like", Like("NAME", "San%"), "NAME LIKE 'San%'"},
		{"Null", IsNull("NAME"), "NAME IS NULL"},
		{"Not null", IsNotNull("NAME"), "NAME IS NOT NULL"},
		{"And group", And(Eq("A", 1), Eq("B", "x")), "(A = 1 AND B = 'x')"},
		{"Nested", Or(Eq("A", 1), And(Compare("B", ">", 2), In("C", "x"))), "(A = 1 OR (B > 2 AND C IN ('x')))"},
		{"Empty group", And(), "1=1"},
		{"Timestamp", Compare("DATE", ">=", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)), "DATE >= timestamp '2024-01-02 03:04:05'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.SQL(); got != tt.want {
				t.Errorf("SQL() = %q; want %q", got, tt.want)
			}
		})
	}
}

func TestFilterSpecBuild(t *testing.T) {
	spec := FilterSpec{Op: "and", Filters: []FilterSpec{
		{Field: "STATE_NAME", Op: "=", Value: "California"},
		{Field: "STATE_ABBR", Op: "in", Values: []any{"CA", "OR"}},
	}}
	f, err := spec.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if want := "(STATE_NAME = 'California' AND STATE_ABBR IN ('CA', 'OR'))"; f.SQL() != want {
		t.Errorf("SQL() = %q; want %q", f.SQL(), want)
	}

	bad := []FilterSpec{
		{Field: "A", Op: "~"},
		{Op: "="},
		{Field: "A", Op: "IN"},
		{Field: "A", Op: "BETWEEN", From: 1},
		{Op: "OR", Filters: []FilterSpec{{Field: "A", Op: "??"}}},
	}
	for _, b := range bad {
		if _, err := b.Build(); !errors.Is(err, ErrInvalidFilter) {
			t.Errorf("Build(%+v) err = %v; want ErrInvalidFilter", b, err)
		}
	}
}
