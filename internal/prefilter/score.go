package prefilter

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/fmuoria/cv-shortlist-agent/internal/models"
)

// Component caps. The keyword ratio is scaled by 60 but capped at 40, so a
// match rate of two thirds already saturates it.
const (
	maxKeywordScore        = 40.0
	keywordScale           = 60.0
	maxSkillScore          = 30.0
	neutralSkillRatio      = 0.5
	maxExperienceScore     = 20.0
	defaultExperienceScore = 10.0
	maxEducationScore      = 10.0
	educationMentionScore  = 5.0

	// MaxPreliminaryScore is the sum of the component caps.
	MaxPreliminaryScore = maxKeywordScore + maxSkillScore + maxExperienceScore + maxEducationScore

	minKeywordLength = 4
)

var (
	nonWordChars = regexp.MustCompile(`[^\w\s\p{Z}áéíóúñü]`)
	yearsMention = regexp.MustCompile(`(?i)(\d+)\+?\s*(?:años|years)`)
)

// ScoreBreakdown holds the four components of a preliminary score
type ScoreBreakdown struct {
	Keyword    float64 `json:"keyword"`    // 0-40
	Skill      float64 `json:"skill"`      // 0-30
	Experience float64 `json:"experience"` // 0-20
	Education  float64 `json:"education"`  // 0-10
}

// Total rounds the component sum half away from zero.
func (b ScoreBreakdown) Total() int {
	return int(math.Round(b.Keyword + b.Skill + b.Experience + b.Education))
}

// CalculatePreliminaryScore returns the 0-100 compatibility estimate of a CV
// against a job description.
func CalculatePreliminaryScore(cvText, jobDescription string, category models.RoleCategory) int {
	return Breakdown(cvText, jobDescription, category).Total()
}

// Breakdown computes every score component separately.
func Breakdown(cvText, jobDescription string, category models.RoleCategory) ScoreBreakdown {
	return ScoreBreakdown{
		Keyword:    keywordScore(cvText, jobDescription),
		Skill:      skillScore(cvText, jobDescription, category),
		Experience: experienceScore(cvText),
		Education:  educationScore(cvText),
	}
}

func keywordScore(cvText, jobDescription string) float64 {
	cvLower := strings.ToLower(cvText)
	words := jobWords(jobDescription)

	matches := 0
	for word := range words {
		if strings.Contains(cvLower, word) {
			matches++
		}
	}

	ratio := float64(matches) / math.Max(1, float64(len(words)))
	return math.Min(maxKeywordScore, ratio*keywordScale)
}

// jobWords returns the distinct lowercase words longer than three runes.
func jobWords(jobDescription string) map[string]struct{} {
	cleaned := nonWordChars.ReplaceAllString(strings.ToLower(jobDescription), "")

	words := make(map[string]struct{})
	for _, w := range strings.Fields(cleaned) {
		if utf8.RuneCountInString(w) >= minKeywordLength {
			words[w] = struct{}{}
		}
	}
	return words
}

func skillScore(cvText, jobDescription string, category models.RoleCategory) float64 {
	jobSkills := ExtractSkills(jobDescription, category)
	if len(jobSkills) == 0 {
		return neutralSkillRatio * maxSkillScore
	}

	cvSkills := ExtractSkills(cvText, category)
	matches := 0
	for _, s := range cvSkills {
		for _, js := range jobSkills {
			if strings.EqualFold(s, js) {
				matches++
				break
			}
		}
	}

	return float64(matches) / float64(len(jobSkills)) * maxSkillScore
}

func experienceScore(cvText string) float64 {
	m := yearsMention.FindStringSubmatch(cvText)
	if m == nil {
		return defaultExperienceScore
	}

	// m[1] is all digits, so a parse error means the count overflowed int.
	years, err := strconv.Atoi(m[1])
	if err != nil {
		return maxExperienceScore
	}

	switch {
	case years >= 5:
		return maxExperienceScore
	case years >= 3:
		return 15
	case years >= 1:
		return 10
	default:
		return 5
	}
}

func educationScore(cvText string) float64 {
	return math.Min(maxEducationScore, float64(len(ExtractEducation(cvText)))*educationMentionScore)
}
