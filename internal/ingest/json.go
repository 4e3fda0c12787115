package ingest

import (
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lifecare-cli/internal/model"
)

// Alternate keys the research agent has used for the same field, in
// priority order.
var (
	nameKeys      = []string{"item_service", "item_name", "name"}
	costKeys      = []string{"cost_per_unit", "price"}
	frequencyKeys = []string{"frequency", "replacement_frequency"}
)

// DecodeJSON reads a research payload. Two shapes are accepted: a flat
// array of records, or an object mapping category keys to arrays of
// records. In the keyed form the key supplies the category of records that
// do not name one, and non-array values are ignored. Record order is
// preserved.
func DecodeJSON(r io.Reader) ([]model.RawRecord, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, eris.Wrap(err, "json: read opening token")
	}

	delim, ok := tok.(json.Delim)
	switch {
	case ok && delim == '[':
		return decodeArray(dec, "")
	case ok && delim == '{':
		var out []model.RawRecord
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, eris.Wrap(err, "json: read category key")
			}
			key, _ := keyTok.(string)

			var raw json.RawMessage
			if err := dec.Decode(&raw); err != nil {
				return nil, eris.Wrapf(err, "json: decode category %q", key)
			}
			trimmed := strings.TrimSpace(string(raw))
			if !strings.HasPrefix(trimmed, "[") {
				continue
			}
			sub := json.NewDecoder(strings.NewReader(trimmed))
			sub.UseNumber()
			if _, err := sub.Token(); err != nil {
				return nil, eris.Wrapf(err, "json: decode category %q", key)
			}
			recs, err := decodeArray(sub, key)
			if err != nil {
				return nil, eris.Wrapf(err, "json: category %q", key)
			}
			out = append(out, recs...)
		}
		return out, nil
	default:
		return nil, eris.Errorf("json: expected '[' or '{', got %v", tok)
	}
}

// decodeArray decodes records until the closing bracket. The opening
// bracket has already been consumed.
func decodeArray(dec *json.Decoder, category string) ([]model.RawRecord, error) {
	var out []model.RawRecord
	for dec.More() {
		var fields map[string]any
		if err := dec.Decode(&fields); err != nil {
			return nil, eris.Wrap(err, "json: decode record")
		}
		rec := recordFromFields(fields)
		if rec.Category == "" {
			rec.Category = category
		}
		out = append(out, rec)
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return nil, eris.Wrap(err, "json: read closing token")
	}
	return out, nil
}

// recordFromFields maps a loosely typed record onto a RawRecord. Numbers
// may arrive as JSON numbers or strings such as "$1,250.00"; a value that
// cannot be read as a number becomes NaN so validation reports it.
func recordFromFields(fields map[string]any) model.RawRecord {
	rec := model.RawRecord{
		Category:    str(fields["category"]),
		ItemService: first(fields, nameKeys),
		Frequency:   first(fields, frequencyKeys),
		Comment:     str(fields["comment"]),
		CPTCode:     str(fields["cpt_code"]),
		Sources:     sources(fields["sources"]),
	}

	for _, k := range costKeys {
		if v, ok := fields[k]; ok && v != nil {
			rec.CostPerUnit = number(v)
			break
		}
	}
	if v, ok := fields["cost_range_min"]; ok && v != nil {
		f := number(v)
		rec.CostRangeMin = &f
	}
	if v, ok := fields["cost_range_max"]; ok && v != nil {
		f := number(v)
		rec.CostRangeMax = &f
	}
	if v, ok := fields["confidence_score"]; ok && v != nil {
		rec.ConfidenceScore = number(v)
	}
	return rec
}

func first(fields map[string]any, keys []string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(str(fields[k])); s != "" {
			return s
		}
	}
	return ""
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func number(v any) float64 {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	case float64:
		return t
	case string:
		return parseNumber(t)
	default:
		return math.NaN()
	}
}

// parseNumber reads a cost or score written as text. Currency symbols,
// thousands separators and a trailing percent sign are tolerated; the
// percent form is scaled to a fraction.
func parseNumber(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN()
	}
	pct := strings.HasSuffix(s, "%")
	s = strings.TrimSuffix(s, "%")
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	if pct {
		f /= 100
	}
	return f
}

// sources accepts a list of citations or a single string, which may hold
// several citations separated by newlines, semicolons or pipes.
func sources(v any) []string {
	var out []string
	switch t := v.(type) {
	case []any:
		for _, s := range t {
			if s := strings.TrimSpace(str(s)); s != "" {
				out = append(out, s)
			}
		}
	case string:
		out = splitSources(t)
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func splitSources(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == '\n' || r == ';' || r == '|'
	})
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
