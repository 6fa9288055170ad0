package ics

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"attendcal/internal/model"
)

// timestampLine matches description lines that only carry a date and/or a
// time, optionally wrapped in parentheses: "19/10/2026 08:15", "(2026-10-19)".
var timestampLine = regexp.MustCompile(`^\(?\s*(\d{1,4}[/.-]\d{1,2}[/.-]\d{1,4})?\s*(\d{1,2}[:hH]\d{2}(:\d{2})?)?\s*\)?$`)

var folder = cases.Fold()

// foldText lowercases s and strips diacritics so that "TRAVAIL PERSONNEL"
// and "Travail Personnel" and "travail personnél" compare equal.
func foldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return folder.String(out)
}

// isPersonalWork reports whether title contains one of markers.
func isPersonalWork(title string, markers []string) bool {
	ft := foldText(title)
	for _, m := range markers {
		m = strings.TrimSpace(m)
		if m == "" {
			continue
		}
		if strings.Contains(ft, foldText(m)) {
			return true
		}
	}
	return false
}

// unescapeText undoes RFC 5545 TEXT escaping. Values that were already
// unescaped by the decoder pass through unchanged.
func unescapeText(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch s[i] {
		case 'n', 'N':
			b.WriteByte('\n')
		case ',', ';', '\\':
			b.WriteByte(s[i])
		default:
			b.WriteByte('\\')
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// extractPresenters applies the description heuristic: drop blank lines,
// timestamp-only lines and boilerplate lines, then read the first two
// remaining lines as "LASTNAME Firstname".
func extractPresenters(description string, boilerplate []string) []model.Presenter {
	desc := strings.ReplaceAll(unescapeText(description), "\r\n", "\n")

	out := make([]model.Presenter, 0, 2)
	for _, line := range strings.Split(desc, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || timestampLine.MatchString(line) || hasAnyPrefix(line, boilerplate) {
			continue
		}
		out = append(out, splitName(line))
		if len(out) == 2 {
			break
		}
	}
	return out
}

func hasAnyPrefix(line string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// splitName splits "LASTNAME Firstname" on the first space.
func splitName(line string) model.Presenter {
	last, first, _ := strings.Cut(line, " ")
	return model.Presenter{LastName: last, FirstName: strings.TrimSpace(first)}
}
