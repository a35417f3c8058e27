package prefilter

import (
	"sort"

	"github.com/fmuoria/cv-shortlist-agent/internal/models"
)

// DefaultTopN is the shortlist size forwarded to AI ranking when the caller has no preference
const DefaultTopN = 20

// ParseCandidate derives the full candidate record for one document.
func ParseCandidate(doc models.RawCandidateDocument, jobDescription string, category models.RoleCategory) models.ParsedCandidate {
	return models.ParsedCandidate{
		Filename:          doc.Filename,
		Name:              ExtractName(doc.Content, doc.Filename),
		Email:             ExtractEmail(doc.Content),
		Phone:             ExtractPhone(doc.Content),
		ExperienceSummary: ExtractExperience(doc.Content),
		Skills:            ExtractSkills(doc.Content, category),
		Education:         ExtractEducation(doc.Content),
		RawText:           doc.Content,
		PreliminaryScore:  CalculatePreliminaryScore(doc.Content, jobDescription, category),
	}
}

// SelectTopCandidates returns a new slice with the topN highest scored
// candidates, descending. Equal scores keep their input order. A non-positive
// topN selects nothing.
func SelectTopCandidates(candidates []models.ParsedCandidate, topN int) []models.ParsedCandidate {
	if topN <= 0 {
		return []models.ParsedCandidate{}
	}

	sorted := make([]models.ParsedCandidate, len(candidates))
	copy(sorted, candidates)

	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].PreliminaryScore > sorted[j].PreliminaryScore
	})

	if len(sorted) > topN {
		sorted = sorted[:topN]
	}
	return sorted
}
