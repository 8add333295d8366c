package pageset

import (
	"errors"
	"reflect"
	"sort"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		expr  string
		total int
		want  []int
	}{
		{"5", 10, []int{5}},
		{"2-4", 10, []int{2, 3, 4}},
		{"1-3,5", 10, []int{1, 2, 3, 5}},
		{"3-", 6, []int{3, 4, 5, 6}},
		{"1-2,5,7-", 8, []int{1, 2, 5, 7, 8}},
		{"1-4,3-6", 10, []int{1, 2, 3, 4, 5, 6}}, // overlap collapses
		{"5,5,5", 10, []int{5}},
		{" 2 , 4 ", 10, []int{2, 4}},
		{"10", 10, []int{10}},
	}

	for _, tt := range tests {
		got, err := Parse(tt.expr, tt.total)
		if err != nil {
			t.Errorf("Parse(%q, %d): %v", tt.expr, tt.total, err)
			continue
		}
		if !reflect.DeepEqual([]int(got), tt.want) {
			t.Errorf("Parse(%q, %d) = %v, want %v", tt.expr, tt.total, got, tt.want)
		}
	}
}

func TestParseAscendingUnique(t *testing.T) {
	// WHAT: For all valid inputs the result is strictly ascending and in bounds.
	// WHY: Downstream stages rely on set semantics without re-validating.
	exprs := []string{"1-", "9,1,5,1-3", "2-8,4-6", "10,1"}
	for _, expr := range exprs {
		got, err := Parse(expr, 10)
		if err != nil {
			t.Fatalf("Parse(%q): %v", expr, err)
		}
		if !sort.IntsAreSorted(got) {
			t.Errorf("Parse(%q) not sorted: %v", expr, got)
		}
		for i := 1; i < len(got); i++ {
			if got[i] == got[i-1] {
				t.Errorf("Parse(%q) has duplicate %d", expr, got[i])
			}
		}
		for _, p := range got {
			if p < 1 || p > 10 {
				t.Errorf("Parse(%q) out of bounds: %d", expr, p)
			}
		}
	}
}

func TestParseOutOfRange(t *testing.T) {
	_, err := Parse("11", 10)
	if err == nil {
		t.Fatal("expected out-of-range error")
	}
	var re *RangeError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RangeError, got %T: %v", err, err)
	}
	if re.Page != 11 || re.TotalPages != 10 {
		t.Errorf("RangeError = %+v, want page 11 of 10", re)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		expr  string
		total int
	}{
		{"", 10},
		{"1,,3", 10},
		{"a-b", 10},
		{"5-3", 10},
		{"3-", 0},  // open range without a page count
		{"0", 10},  // pages are 1-based
		{"-2", 10}, // no implicit range start
	}
	for _, tt := range tests {
		if _, err := Parse(tt.expr, tt.total); err == nil {
			t.Errorf("Parse(%q, %d): expected error", tt.expr, tt.total)
		}
	}
}

func TestZeroBased(t *testing.T) {
	s := PageSet{1, 3, 7}
	got := s.ZeroBased()
	if !reflect.DeepEqual(got, []int{0, 2, 6}) {
		t.Errorf("ZeroBased() = %v", got)
	}
}

func TestContains(t *testing.T) {
	s := PageSet{2, 4, 9}
	for _, p := range []int{2, 4, 9} {
		if !s.Contains(p) {
			t.Errorf("Contains(%d) = false", p)
		}
	}
	for _, p := range []int{1, 3, 10} {
		if s.Contains(p) {
			t.Errorf("Contains(%d) = true", p)
		}
	}
}
