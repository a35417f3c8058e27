// Package prefilter extracts structured fields from raw CV text and computes a
// local compatibility score used to shortlist candidates before AI ranking.
// Every function here is pure and never fails: unmatched input degrades to an
// empty value or a fixed fallback label.
package prefilter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/fmuoria/cv-shortlist-agent/internal/models"
)

const (
	// FallbackName is returned when neither the text nor the filename yields a name
	FallbackName = "Candidato"
	// UnknownExperience is returned when no experience signal is found
	UnknownExperience = "Experiencia no especificada"

	maxSkills    = 10
	maxEducation = 3
)

// nameWord is one capitalised Spanish word; separators never cross a line break.
const nameWord = `[A-ZÁÉÍÓÚÑÜ][a-záéíóúñü]+`

// matcher is one entry of an ordered pattern list. group selects the capture
// holding the value (0 for the whole match).
type matcher struct {
	re    *regexp.Regexp
	group int
}

func (m matcher) findAll(text string) []string {
	var out []string
	for _, sub := range m.re.FindAllStringSubmatch(text, -1) {
		if m.group < len(sub) {
			out = append(out, sub[m.group])
		}
	}
	return out
}

var (
	nameMatchers = []matcher{
		{re: regexp.MustCompile(`(?m)^[ \t]*(?:(?i:nombre)[ \t]*:?[ \t]*)?(` + nameWord + `(?:[ \t]+` + nameWord + `){1,3})`), group: 1},
		{re: regexp.MustCompile(`(?i:nombre)[ \t]*:[ \t]*(` + nameWord + `(?:[ \t]+` + nameWord + `){1,3})`), group: 1},
	}

	filenameExt   = regexp.MustCompile(`(?i)\.(?:pdf|txt|docx?)$`)
	filenameWords = regexp.MustCompile(`(?i)\b(?:cv|resume|curriculum)\b`)
	digits        = regexp.MustCompile(`\d+`)

	emailPattern = regexp.MustCompile(`[\w.+-]+@[\w-]+(?:\.[\w-]+)*\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`(?:\+?\d{1,3}[ .-]?)?\(?\d{2,4}\)?[ .-]?\d{2,4}[ .-]?\d{2,4}(?:[ .-]?\d{2,4})?`)

	experienceMatchers = []matcher{
		{re: regexp.MustCompile(`(?i)(\d{1,2})\+?\s*(?:años|anos|years?)\s+(?:de\s+|of\s+)?(?:experiencia|experience)`), group: 1},
		{re: regexp.MustCompile(`(?i)(?:experiencia|experience)\s+(?:de\s+|of\s+)?(?:m[aá]s\s+de\s+)?(\d{1,2})\+?\s*(?:años|anos|years?)`), group: 1},
		{re: regexp.MustCompile(`(?i)(\d{1,2})\+?\s*(?:años|anos|years?)\s+(?:de\s+)?(?:trayectoria|carrera)`), group: 1},
	}
	calendarYear = regexp.MustCompile(`\b20\d{2}\b`)

	educationMatchers = []matcher{
		{re: regexp.MustCompile(`(?i)(?:licenciatura|ingenier[ií]a|maestr[ií]a|doctorado|t[ée]cnico|bachelor|master|ph\.?d|mba)[ \t\p{L}]*`)},
		{re: regexp.MustCompile(`(?i)(?:universidad|instituto|college|university)(?:[ \t]+[\p{L}\d]+)+`)},
		{re: regexp.MustCompile(`(?i)(?:carrera|t[ií]tulo)[ \t]+(?:en|de)[ \t]+\p{L}+(?:[ \t]+\p{L}+)*`)},
	}
)

// ExtractName returns the candidate name found in text, falling back to a
// cleaned filename and finally to FallbackName.
func ExtractName(text, filename string) string {
	for _, m := range nameMatchers {
		for _, candidate := range m.findAll(text) {
			candidate = strings.TrimSpace(candidate)
			if n := utf8.RuneCountInString(candidate); n > 3 && n < 60 {
				return candidate
			}
		}
	}

	if name := nameFromFilename(filename); name != "" {
		return name
	}
	return FallbackName
}

func nameFromFilename(filename string) string {
	name := filenameExt.ReplaceAllString(filename, "")
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	name = filenameWords.ReplaceAllString(name, "")
	name = digits.ReplaceAllString(name, "")
	name = strings.Join(strings.Fields(name), " ")

	if utf8.RuneCountInString(name) <= 2 {
		return ""
	}
	// Casers keep state, so one per call.
	return cases.Title(language.Spanish).String(name)
}

// ExtractEmail returns the first email address in text or "".
func ExtractEmail(text string) string {
	return emailPattern.FindString(text)
}

// ExtractPhone returns the first phone-like sequence whose digit count is
// within [8, 15]. Shorter runs are usually dates or postal codes.
func ExtractPhone(text string) string {
	for _, candidate := range phonePattern.FindAllString(text, -1) {
		if n := countDigits(candidate); n >= 8 && n <= 15 {
			return strings.TrimSpace(candidate)
		}
	}
	return ""
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// ExtractExperience summarises years of experience stated in text, or
// estimated from the span of calendar years mentioned.
func ExtractExperience(text string) string {
	for _, m := range experienceMatchers {
		for _, raw := range m.findAll(text) {
			years, err := strconv.Atoi(raw)
			if err == nil && years > 0 && years < 50 {
				return fmt.Sprintf("%d años de experiencia", years)
			}
		}
	}

	found := calendarYear.FindAllString(text, -1)
	if len(found) >= 2 {
		lo, hi := 0, 0
		for i, s := range found {
			y, _ := strconv.Atoi(s)
			if i == 0 || y < lo {
				lo = y
			}
			if i == 0 || y > hi {
				hi = y
			}
		}
		if span := hi - lo; span > 0 && span < 40 {
			return fmt.Sprintf("~%d años de experiencia", span)
		}
	}

	return UnknownExperience
}

// ExtractSkills scans text for the category keywords (plus the general
// vocabulary) and returns up to 10 capitalised skills in table order.
func ExtractSkills(text string, category models.RoleCategory) []string {
	lower := strings.ToLower(text)
	skills := make([]string, 0, maxSkills)
	seen := make(map[string]bool)

	for _, keyword := range keywordsFor(category) {
		if len(skills) >= maxSkills {
			break
		}
		if !strings.Contains(lower, keyword) {
			continue
		}
		skill := capitalizeFirst(keyword)
		if seen[skill] {
			continue
		}
		seen[skill] = true
		skills = append(skills, skill)
	}

	return skills
}

func capitalizeFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// ExtractEducation returns up to three distinct degree or institution mentions.
func ExtractEducation(text string) []string {
	education := make([]string, 0, maxEducation)
	seen := make(map[string]bool)

	for _, m := range educationMatchers {
		for _, match := range m.findAll(text) {
			if len(education) >= maxEducation {
				return education
			}
			match = strings.TrimSpace(match)
			if n := utf8.RuneCountInString(match); n <= 3 || n >= 100 {
				continue
			}
			if seen[match] {
				continue
			}
			seen[match] = true
			education = append(education, match)
		}
	}

	return education
}
