// Package filter sanitizes player-chosen display names before they are shown
// to anyone else.
package filter

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	// NameLimit is the maximum display name length in runes.
	NameLimit = 32
	// DefaultName replaces names that are empty after cleaning.
	DefaultName = "Big Slopper"
	// CensoredName replaces names containing a banned word.
	CensoredName = "Punished Slopper"
)

// Filter turns an arbitrary client-supplied name into a displayable one.
type Filter interface {
	Sanitize(name string) string
}

// WordFilter normalizes names and censors any that contain a banned word.
type WordFilter struct {
	banned []string
}

// leet maps common digit and symbol substitutions back to letters so that
// "b4dw0rd" matches "badword".
var leet = strings.NewReplacer(
	"0", "o",
	"1", "i",
	"3", "e",
	"4", "a",
	"5", "s",
	"7", "t",
	"@", "a",
	"$", "s",
	"!", "i",
)

// NewWordFilter builds a filter from a list of banned words. Matching is
// case-insensitive and ignores spaces and punctuation between letters.
func NewWordFilter(banned []string) *WordFilter {
	f := &WordFilter{}
	for _, w := range banned {
		if k := f.key(w); k != "" {
			f.banned = append(f.banned, k)
		}
	}
	return f
}

// Sanitize returns the cleaned name, DefaultName or CensoredName.
func (f *WordFilter) Sanitize(name string) string {
	name = norm.NFKC.String(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)

	if runes := []rune(name); len(runes) > NameLimit {
		name = strings.TrimSpace(string(runes[:NameLimit]))
	}
	if name == "" {
		return DefaultName
	}

	k := f.key(name)
	for _, w := range f.banned {
		if strings.Contains(k, w) {
			return CensoredName
		}
	}
	return name
}

// key reduces s to lowercase letters only, after undoing leetspeak.
// Casers carry state, so each call gets its own.
func (f *WordFilter) key(s string) string {
	s = leet.Replace(cases.Fold().String(s))
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) {
			return r
		}
		return -1
	}, s)
}

// Nop passes names through after trimming and length capping only.
type Nop struct{}

func (Nop) Sanitize(name string) string {
	return NewWordFilter(nil).Sanitize(name)
}
