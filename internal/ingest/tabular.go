package ingest

import (
	"strings"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lifecare-cli/internal/model"
)

// headerAliases maps normalized spreadsheet headers onto record keys. The
// review table exported by earlier tooling used display headers such as
// "Item/Service" and "Cost ($)".
var headerAliases = map[string]string{
	"item":       "item_service",
	"service":    "item_service",
	"cost":       "cost_per_unit",
	"unit_cost":  "cost_per_unit",
	"min_cost":   "cost_range_min",
	"max_cost":   "cost_range_max",
	"cost_min":   "cost_range_min",
	"cost_max":   "cost_range_max",
	"cpt":        "cpt_code",
	"confidence": "confidence_score",
	"source":     "sources",
	"notes":      "comment",
}

// normalizeHeader lowercases a header and collapses every run of
// non-alphanumeric characters to a single underscore.
func normalizeHeader(h string) string {
	var b strings.Builder
	sep := false
	for _, r := range strings.ToLower(strings.TrimSpace(h)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if sep && b.Len() > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r)
			sep = false
			continue
		}
		sep = true
	}
	key := b.String()
	if alias, ok := headerAliases[key]; ok {
		return alias
	}
	return key
}

// recordsFromRows turns a header row and data rows into raw records. Empty
// cells are treated as absent, and rows with no content are skipped.
func recordsFromRows(header []string, rows [][]string) ([]model.RawRecord, error) {
	if len(header) == 0 {
		return nil, eris.New("ingest: missing header row")
	}
	keys := make([]string, len(header))
	named := false
	for i, h := range header {
		keys[i] = normalizeHeader(h)
		for _, k := range nameKeys {
			if keys[i] == k {
				named = true
			}
		}
	}
	if !named {
		return nil, eris.Errorf("ingest: header has no item column (want one of %s)", strings.Join(nameKeys, ", "))
	}

	var out []model.RawRecord
	for _, row := range rows {
		fields := make(map[string]any, len(row))
		for i, cell := range row {
			if i >= len(keys) || keys[i] == "" {
				continue
			}
			if cell = strings.TrimSpace(cell); cell != "" {
				fields[keys[i]] = cell
			}
		}
		if len(fields) == 0 {
			continue
		}
		out = append(out, recordFromFields(fields))
	}
	return out, nil
}
