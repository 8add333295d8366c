// Package pageset parses page-selector expressions into validated,
// deduplicated, ascending sets of 1-based page indices.
//
// An expression is a comma-separated list of tokens; each token is a
// single page number or a hyphen range "A-B". An open range "A-"
// resolves its end to the document's total page count at parse time.
package pageset

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PageSet is a strictly ascending sequence of unique 1-based page indices.
type PageSet []int

// RangeError reports a page index outside [1, TotalPages].
type RangeError struct {
	Page       int
	TotalPages int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("page %d is out of range (1-%d)", e.Page, e.TotalPages)
}

// Parse resolves expr against a document of totalPages pages.
//
// totalPages must be positive when expr contains an open-ended range;
// a missing bound is a configuration error, not a deferred lookup.
func Parse(expr string, totalPages int) (PageSet, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("empty page expression")
	}

	seen := make(map[int]struct{})
	for _, part := range strings.Split(expr, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty token in page expression %q", expr)
		}

		if i := strings.IndexByte(part, '-'); i >= 0 {
			start, err := strconv.Atoi(strings.TrimSpace(part[:i]))
			if err != nil {
				return nil, fmt.Errorf("invalid range start in %q: %w", part, err)
			}
			endStr := strings.TrimSpace(part[i+1:])
			var end int
			if endStr == "" {
				if totalPages <= 0 {
					return nil, fmt.Errorf("open-ended range %q requires a known page count", part)
				}
				end = totalPages
			} else {
				end, err = strconv.Atoi(endStr)
				if err != nil {
					return nil, fmt.Errorf("invalid range end in %q: %w", part, err)
				}
			}
			if end < start {
				return nil, fmt.Errorf("reversed range %q", part)
			}
			for p := start; p <= end; p++ {
				if err := checkBound(p, totalPages); err != nil {
					return nil, err
				}
				seen[p] = struct{}{}
			}
			continue
		}

		p, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid page %q: %w", part, err)
		}
		if err := checkBound(p, totalPages); err != nil {
			return nil, err
		}
		seen[p] = struct{}{}
	}

	pages := make(PageSet, 0, len(seen))
	for p := range seen {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages, nil
}

func checkBound(page, totalPages int) error {
	if page < 1 || (totalPages > 0 && page > totalPages) {
		return &RangeError{Page: page, TotalPages: totalPages}
	}
	return nil
}

// Contains reports whether page is a member of the set.
func (s PageSet) Contains(page int) bool {
	i := sort.SearchInts(s, page)
	return i < len(s) && s[i] == page
}

// ZeroBased returns the set converted to 0-based indices. The 1-based
// to 0-based conversion happens once, at the stage boundary.
func (s PageSet) ZeroBased() []int {
	out := make([]int, len(s))
	for i, p := range s {
		out[i] = p - 1
	}
	return out
}

// Strings returns the pages formatted as decimal strings, for handing
// to tools that take page selections as string lists.
func (s PageSet) Strings() []string {
	out := make([]string, len(s))
	for i, p := range s {
		out[i] = strconv.Itoa(p)
	}
	return out
}
