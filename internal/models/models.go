package models

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// RoleCategory selects which skill vocabulary is scanned for a job family
type RoleCategory string

const (
	RoleDesarrollo     RoleCategory = "desarrollo"
	RoleVentas         RoleCategory = "ventas"
	RoleAdministracion RoleCategory = "administracion"
	RoleMarketing      RoleCategory = "marketing"
	RoleDatos          RoleCategory = "datos"
	RoleGeneral        RoleCategory = "general"
)

// RoleCategories lists every known category in scan order
var RoleCategories = []RoleCategory{
	RoleDesarrollo,
	RoleVentas,
	RoleAdministracion,
	RoleMarketing,
	RoleDatos,
	RoleGeneral,
}

// ParseRoleCategory converts user input into a RoleCategory. Empty input maps to general.
func ParseRoleCategory(s string) (RoleCategory, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return RoleGeneral, nil
	}
	for _, c := range RoleCategories {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown role category %q", s)
}

// RawCandidateDocument is one extracted CV as delivered by ingestion
type RawCandidateDocument struct {
	Filename string `json:"filename" validate:"required"`
	Content  string `json:"content"`
}

// ParsedCandidate is the structured record derived from a RawCandidateDocument
type ParsedCandidate struct {
	Filename          string   `json:"filename"`
	Name              string   `json:"name"`
	Email             string   `json:"email"`
	Phone             string   `json:"phone"`
	ExperienceSummary string   `json:"experience"`
	Skills            []string `json:"skills"`
	Education         []string `json:"education"`
	RawText           string   `json:"-"`
	PreliminaryScore  int      `json:"preliminary_score"` // 0-100
}

// CandidateSummary is the compact payload sent to the external ranker
type CandidateSummary struct {
	Filename         string `json:"filename"`
	Name             string `json:"name"`
	Experience       string `json:"experience"`
	Skills           string `json:"skills"`
	PreliminaryScore int    `json:"preliminary_score"`
	Excerpt          string `json:"cv_excerpt"`
}

// RankedCandidate is one entry of the external ranker response
type RankedCandidate struct {
	Filename       string   `json:"filename"`
	Name           string   `json:"name"`
	FinalScore     float64  `json:"score"` // 0-100
	StarBullets    []string `json:"star_bullets"`
	Strengths      []string `json:"strengths"`
	Gaps           []string `json:"gaps"`
	Recommendation string   `json:"recommendation,omitempty"`
	Rank           int      `json:"rank"`
}

// SkippedDocument records an input that could not be scored
type SkippedDocument struct {
	Filename string `json:"filename"`
	Reason   string `json:"reason"`
}

// ScreeningRequest represents the payload for a screening run
type ScreeningRequest struct {
	JobTitle       string                 `json:"job_title"`
	JobDescription string                 `json:"job_description" validate:"required"`
	RoleCategory   string                 `json:"role_category"`
	TopN           int                    `json:"top_n" validate:"gte=0"`
	UseAI          bool                   `json:"use_ai"`
	Documents      []RawCandidateDocument `json:"documents" validate:"required,min=1,dive"`
	Skipped        []SkippedDocument      `json:"skipped,omitempty"` // rejected by ingestion before screening
}

// Validate checks the static constraints of the request
func (r *ScreeningRequest) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return validate.Struct(r)
}

// ScreeningReport represents the response with the shortlist
type ScreeningReport struct {
	RunID          string            `json:"run_id"`
	JobTitle       string            `json:"job_title"`
	JobDescription string            `json:"job_description"`
	RoleCategory   RoleCategory      `json:"role_category"`
	TotalReceived  int               `json:"total_received"`
	TotalScored    int               `json:"total_scored"`
	Skipped        []SkippedDocument `json:"skipped,omitempty"`
	Shortlist      []ParsedCandidate `json:"shortlist"`
	Ranked         []RankedCandidate `json:"ranked,omitempty"`
	AIError        string            `json:"ai_error,omitempty"`
	Timestamp      string            `json:"timestamp"`
}

// RankedFor returns the AI ranking entry for a shortlisted filename, if any
func (r *ScreeningReport) RankedFor(filename string) (RankedCandidate, bool) {
	for _, rc := range r.Ranked {
		if rc.Filename == filename {
			return rc, true
		}
	}
	return RankedCandidate{}, false
}

// ShortlistEntry pairs a shortlisted candidate with its AI ranking, if any
type ShortlistEntry struct {
	Candidate ParsedCandidate
	Ranked    *RankedCandidate
}

// Score is the AI score when available, the preliminary score otherwise
func (e ShortlistEntry) Score() float64 {
	if e.Ranked != nil {
		return e.Ranked.FinalScore
	}
	return float64(e.Candidate.PreliminaryScore)
}

// Entries lists AI-ranked candidates first in AI order, then the rest of
// the shortlist in preliminary order.
func (r *ScreeningReport) Entries() []ShortlistEntry {
	byFile := make(map[string]ParsedCandidate, len(r.Shortlist))
	for _, c := range r.Shortlist {
		byFile[c.Filename] = c
	}

	entries := make([]ShortlistEntry, 0, len(r.Shortlist))
	used := make(map[string]bool, len(r.Ranked))
	for i := range r.Ranked {
		rc := &r.Ranked[i]
		c, ok := byFile[rc.Filename]
		if !ok || used[rc.Filename] {
			continue
		}
		entries = append(entries, ShortlistEntry{Candidate: c, Ranked: rc})
		used[rc.Filename] = true
	}
	for _, c := range r.Shortlist {
		if !used[c.Filename] {
			entries = append(entries, ShortlistEntry{Candidate: c})
		}
	}
	return entries
}
