package cost

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	timesPerRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:x|times?)\s*(?:per|a|an|each|every|/)\s*(day|week|month|year)`)
	timesAdvRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:x|times?)\s*(daily|weekly|monthly|yearly|annually)`)
	everyRe    = regexp.MustCompile(`every\s+(\d+(?:\.\d+)?)(?:\s*(?:-|–|—|to)\s*(\d+(?:\.\d+)?))?\s*(day|week|month|year)s?`)
	wordRe     = regexp.MustCompile(`\b(once|twice|thrice)\b`)
)

var wordCounts = map[string]string{"once": "1 times", "twice": "2 times", "thrice": "3 times"}

var periodsPerYear = map[string]float64{
	"day":      365,
	"week":     52,
	"month":    12,
	"year":     1,
	"daily":    365,
	"weekly":   52,
	"monthly":  12,
	"yearly":   1,
	"annually": 1,
}

// frequencyKeywords is checked in order; longer keywords come before the
// keywords they contain.
var frequencyKeywords = []struct {
	keyword string
	units   float64
}{
	{"every other day", 182.5},
	{"every other week", 26},
	{"biweekly", 26},
	{"bi-weekly", 26},
	{"fortnightly", 26},
	{"every other month", 6},
	{"bimonthly", 6},
	{"semiannual", 2},
	{"semi-annual", 2},
	{"biannual", 2},
	{"quarterly", 4},
	{"daily", 365},
	{"nightly", 365},
	{"per day", 365},
	{"/day", 365},
	{"weekly", 52},
	{"per week", 52},
	{"/week", 52},
	{"monthly", 12},
	{"per month", 12},
	{"/month", 12},
	{"annually", 1},
	{"annual", 1},
	{"yearly", 1},
	{"per year", 1},
	{"/year", 1},
}

// AnnualUnits converts a free-text frequency descriptor ("monthly",
// "3 times per week", "replace every 3-5 years") into units per year.
// Unknown or empty descriptors return 1 so the unit cost is treated as an
// annual cost; parsing never fails.
func AnnualUnits(frequency string) float64 {
	f := strings.ToLower(strings.TrimSpace(frequency))
	if f == "" {
		return 1
	}
	f = wordRe.ReplaceAllStringFunc(f, func(w string) string { return wordCounts[w] })

	if m := everyRe.FindStringSubmatch(f); m != nil {
		n := parseFloat(m[1])
		if m[2] != "" {
			n = (n + parseFloat(m[2])) / 2
		}
		if n > 0 {
			return periodsPerYear[m[3]] / n
		}
	}

	if m := timesPerRe.FindStringSubmatch(f); m != nil {
		if n := parseFloat(m[1]); n > 0 {
			return n * periodsPerYear[m[2]]
		}
	}

	if m := timesAdvRe.FindStringSubmatch(f); m != nil {
		if n := parseFloat(m[1]); n > 0 {
			return n * periodsPerYear[m[2]]
		}
	}

	for _, kw := range frequencyKeywords {
		if strings.Contains(f, kw.keyword) {
			return kw.units
		}
	}
	return 1
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
