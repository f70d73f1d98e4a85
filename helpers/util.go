package helpers

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

// IsDigits reports whether s is a non-empty run of ASCII digits
func IsDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseDigits parses a parameter value that carries only digits
func ParseDigits(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if !IsDigits(s) {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}

// CleanText strips markup that listing titles and descriptions sometimes carry
// and collapses whitespace
func CleanText(s string) string {
	if s == "" {
		return ""
	}

	text := s
	if strings.ContainsAny(s, "<&") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
		if err == nil {
			text = doc.Text()
		}
	}

	return strings.Join(strings.FieldsFunc(text, unicode.IsSpace), " ")
}

// Slugify lower-cases a name and replaces spaces with hyphens
func Slugify(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "-")
}
