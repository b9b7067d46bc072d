package wfs

import (
	"sort"
	"strings"
)

// FilterString renders property equality filters as a CQL expression:
// values of one field are OR-ed with IN, fields are OR-ed together.
// It returns "" for an empty filter.
func FilterString(filter map[string][]string) string {
	var vals, parts []string

	fields := make([]string, 0, len(filter))
	for field := range filter {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		values := filter[field]
		if len(values) == 0 {
			continue
		}
		vals = vals[:0]
		for _, v := range values {
			vals = append(vals, "'"+strings.ReplaceAll(v, "'", "''")+"'")
		}
		parts = append(parts, "\""+field+"\" IN ("+strings.Join(vals, ", ")+")")
	}
	if parts == nil {
		return ""
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}
