package plan

import (
	"fmt"
	"slices"
	"strings"
)

// SortOrder selects how Filter orders its result.
type SortOrder string

const (
	// SortIndex keeps index order: most recently registered first.
	SortIndex  SortOrder = ""
	SortNewest SortOrder = "newest"
	SortOldest SortOrder = "oldest"
	SortTitle  SortOrder = "az"
)

// ParseSortOrder validates a caller-supplied sort order.
func ParseSortOrder(s string) (SortOrder, error) {
	switch o := SortOrder(strings.ToLower(strings.TrimSpace(s))); o {
	case SortIndex, SortNewest, SortOldest, SortTitle:
		return o, nil
	}
	return "", fmt.Errorf("unknown sort order %q (want newest, oldest or az)", s)
}

// Query narrows and orders a list of records for browsing.
type Query struct {
	// Text is matched case-insensitively against title, district, highway,
	// CSJ, version and tags.
	Text string

	// District, when set, must equal the record's district exactly.
	District string

	Sort SortOrder
}

// Filter returns the records matching q in the requested order. The input
// slice is not modified.
func Filter(records []Record, q Query) []Record {
	text := strings.ToLower(strings.TrimSpace(q.Text))

	out := make([]Record, 0, len(records))
	for _, r := range records {
		if q.District != "" && r.District != q.District {
			continue
		}
		if text != "" && !strings.Contains(r.searchText(), text) {
			continue
		}
		out = append(out, r)
	}

	switch q.Sort {
	case SortNewest:
		// YYYY-MM-DD compares chronologically as a string.
		slices.SortStableFunc(out, func(a, b Record) int { return strings.Compare(b.LetDate, a.LetDate) })
	case SortOldest:
		slices.SortStableFunc(out, func(a, b Record) int { return strings.Compare(a.LetDate, b.LetDate) })
	case SortTitle:
		slices.SortStableFunc(out, func(a, b Record) int {
			return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		})
	}
	return out
}

// Districts returns the distinct non-empty districts in first-seen order.
func Districts(records []Record) []string {
	seen := make(map[string]struct{})
	districts := []string{}
	for _, r := range records {
		if r.District == "" {
			continue
		}
		if _, ok := seen[r.District]; ok {
			continue
		}
		seen[r.District] = struct{}{}
		districts = append(districts, r.District)
	}
	return districts
}

func (r Record) searchText() string {
	fields := []string{r.Title, r.District, r.Highway, r.CSJ, r.Version, strings.Join(r.Tags, " ")}
	return strings.ToLower(strings.Join(fields, " "))
}
