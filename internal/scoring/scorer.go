package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/fmuoria/cv-shortlist-agent/internal/llm"
	"github.com/fmuoria/cv-shortlist-agent/internal/logger"
	"github.com/fmuoria/cv-shortlist-agent/internal/models"
)

const (
	maxExcerptRunes        = 1500
	maxExperienceRunes     = 100
	maxSummarySkills       = 5
	maxStarBullets         = 3
	maxJobDescriptionRunes = 4000
	logPreviewRunes        = 300
)

// Ranker asks an LLM to order a shortlist against a job description
type Ranker struct {
	generator llm.Generator
	logger    *zap.Logger
}

// NewRanker creates a new ranker instance
func NewRanker(generator llm.Generator, log *zap.Logger) *Ranker {
	return &Ranker{
		generator: generator,
		logger:    logger.OrNop(log),
	}
}

// Rank scores every shortlisted candidate in a single request and returns
// them ordered by final score. Entries that do not belong to the shortlist
// are dropped.
func (r *Ranker) Rank(ctx context.Context, jobTitle, jobDescription string, shortlist []models.ParsedCandidate) ([]models.RankedCandidate, error) {
	if len(shortlist) == 0 {
		return []models.RankedCandidate{}, nil
	}

	prompt, err := buildRankingPrompt(jobTitle, jobDescription, BuildSummaries(shortlist))
	if err != nil {
		return nil, err
	}

	r.logger.Debug("sending ranking prompt",
		zap.Int("candidates", len(shortlist)),
		zap.Int("prompt_bytes", len(prompt)),
	)

	response, err := r.generator.GenerateContent(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("failed to get LLM response: %w", err)
	}

	r.logger.Debug("ranking response received", zap.String("preview", logger.TruncateForLog(response, logPreviewRunes)))

	ranked, err := parseRanking(response, shortlist)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ranking: %w", err)
	}

	return ranked, nil
}

// BuildSummaries converts parsed candidates into the compact records sent to the ranker
func BuildSummaries(shortlist []models.ParsedCandidate) []models.CandidateSummary {
	summaries := make([]models.CandidateSummary, 0, len(shortlist))
	for _, c := range shortlist {
		skills := c.Skills
		if len(skills) > maxSummarySkills {
			skills = skills[:maxSummarySkills]
		}

		summaries = append(summaries, models.CandidateSummary{
			Filename:         c.Filename,
			Name:             c.Name,
			Experience:       truncate(c.ExperienceSummary, maxExperienceRunes),
			Skills:           strings.Join(skills, ", "),
			PreliminaryScore: c.PreliminaryScore,
			Excerpt:          truncate(strings.Join(strings.Fields(sanitizeUTF8(c.RawText)), " "), maxExcerptRunes),
		})
	}
	return summaries
}

// buildRankingPrompt creates the ranking prompt for the LLM
func buildRankingPrompt(jobTitle, jobDescription string, summaries []models.CandidateSummary) (string, error) {
	payload, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal candidate summaries: %w", err)
	}

	var sb strings.Builder

	sb.WriteString("You are an expert recruiter reviewing a pre-filtered shortlist of candidates. Rank them against the job below.\n\n")

	sb.WriteString("## JOB\n")
	if jobTitle != "" {
		sb.WriteString(fmt.Sprintf("Title: %s\n", sanitizeUTF8(jobTitle)))
	}
	description := sanitizeUTF8(jobDescription)
	if utf8.RuneCountInString(description) > maxJobDescriptionRunes {
		description = truncate(description, maxJobDescriptionRunes) + "\n[Job description truncated for length]"
	}
	sb.WriteString(fmt.Sprintf("Description:\n%s\n\n", description))

	sb.WriteString("## CANDIDATES\n")
	sb.WriteString("Each candidate has a preliminary_score (0-100) from keyword matching. Use it only as a hint.\n")
	sb.Write(payload)
	sb.WriteString("\n\n")

	sb.WriteString("## INSTRUCTIONS\n")
	sb.WriteString("Return a JSON array with one object per candidate, using exactly the filename given above:\n")
	sb.WriteString("[\n  {\n")
	sb.WriteString(`    "filename": "<filename>",` + "\n")
	sb.WriteString(`    "name": "<candidate name>",` + "\n")
	sb.WriteString(`    "score": <0-100>,` + "\n")
	sb.WriteString(`    "star_bullets": ["<Situation-Task-Action-Result evidence>", "..."],` + "\n")
	sb.WriteString(`    "strengths": ["..."],` + "\n")
	sb.WriteString(`    "gaps": ["..."],` + "\n")
	sb.WriteString(`    "recommendation": "<entrevistar | considerar | descartar>"` + "\n")
	sb.WriteString("  }\n]\n\n")
	sb.WriteString("Write 2 or 3 STAR bullets per candidate, grounded in the CV excerpt. Write all text in Spanish.\n")
	sb.WriteString("Return ONLY the JSON array, no additional text.\n")

	return sb.String(), nil
}

// rankingEntry mirrors one element of the LLM response. Decoding is weakly
// typed because models sometimes quote numbers or send a single string
// where a list is expected.
type rankingEntry struct {
	Filename       string   `json:"filename"`
	Name           string   `json:"name"`
	Score          float64  `json:"score"`
	StarBullets    []string `json:"star_bullets"`
	Strengths      []string `json:"strengths"`
	Gaps           []string `json:"gaps"`
	Recommendation string   `json:"recommendation"`
}

// parseRanking extracts the ranked candidates from an LLM response
func parseRanking(response string, shortlist []models.ParsedCandidate) ([]models.RankedCandidate, error) {
	items, err := extractItems(response)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string, len(shortlist))
	for _, c := range shortlist {
		names[c.Filename] = c.Name
	}

	seen := make(map[string]bool)
	ranked := make([]models.RankedCandidate, 0, len(items))
	for _, item := range items {
		var entry rankingEntry
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			TagName:          "json",
			Result:           &entry,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create decoder: %w", err)
		}
		if err := decoder.Decode(item); err != nil {
			continue
		}

		filename := strings.TrimSpace(entry.Filename)
		name, ok := names[filename]
		if !ok || seen[filename] {
			continue
		}
		seen[filename] = true

		if n := strings.TrimSpace(entry.Name); n != "" {
			name = n
		}

		ranked = append(ranked, models.RankedCandidate{
			Filename:       filename,
			Name:           name,
			FinalScore:     clampScore(entry.Score),
			StarBullets:    cleanList(entry.StarBullets, maxStarBullets),
			Strengths:      cleanList(entry.Strengths, 0),
			Gaps:           cleanList(entry.Gaps, 0),
			Recommendation: strings.TrimSpace(entry.Recommendation),
		})
	}

	if len(ranked) == 0 {
		return nil, fmt.Errorf("no shortlisted candidate found in response")
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].FinalScore > ranked[j].FinalScore
	})
	for i := range ranked {
		ranked[i].Rank = i + 1
	}

	return ranked, nil
}

// extractItems finds the JSON array in a response. Markdown fences and
// surrounding prose are ignored, and an object wrapping the array under a
// single list-valued key is accepted.
func extractItems(response string) ([]map[string]any, error) {
	startIdx := strings.IndexAny(response, "[{")
	if startIdx == -1 {
		return nil, fmt.Errorf("no JSON found in response")
	}

	if response[startIdx] == '[' {
		endIdx := strings.LastIndex(response, "]")
		if endIdx < startIdx {
			return nil, fmt.Errorf("no JSON array found in response")
		}
		var items []map[string]any
		if err := json.Unmarshal([]byte(response[startIdx:endIdx+1]), &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
		}
		return items, nil
	}

	endIdx := strings.LastIndex(response, "}")
	if endIdx < startIdx {
		return nil, fmt.Errorf("no JSON object found in response")
	}
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal([]byte(response[startIdx:endIdx+1]), &wrapper); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	for _, key := range []string{"candidates", "ranking", "ranked", "results"} {
		raw, ok := wrapper[key]
		if !ok {
			continue
		}
		var items []map[string]any
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		return items, nil
	}
	return nil, fmt.Errorf("no candidate list found in response object")
}

// clampScore bounds score to [0, 100]. Non-finite values, which JSON cannot
// encode, become 0.
func clampScore(score float64) float64 {
	switch {
	case math.IsNaN(score), math.IsInf(score, 0):
		return 0
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}

// cleanList trims entries, drops empty ones, and keeps at most limit items (0 means no limit).
func cleanList(items []string, limit int) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item == "" {
			continue
		}
		out = append(out, item)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// sanitizeUTF8 replaces invalid byte sequences with the Unicode replacement character
func sanitizeUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// truncate cuts s to maxLen runes and appends "..." when anything was removed
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen]) + "..."
}
