package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/fmuoria/cv-shortlist-agent/internal/models"
)

// TestSanitizeUTF8_ValidString tests that valid UTF-8 strings are returned unchanged
func TestSanitizeUTF8_ValidString(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "Simple ASCII text",
			input: "Hello, World!",
		},
		{
			name:  "UTF-8 with special characters",
			input: "José González - Ingeniero de software con 5 años de experiencia en Go, Python y Java.",
		},
		{
			name:  "UTF-8 with emoji",
			input: "Experienced developer 🚀 with strong communication skills 💻",
		},
		{
			name:  "Multi-language text",
			input: "Ingeniera de datos - 软件工程师 - مهندس برمجيات",
		},
		{
			name:  "Empty string",
			input: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := sanitizeUTF8(tt.input)
			if result != tt.input {
				t.Errorf("sanitizeUTF8() changed valid UTF-8 string: got %q, want %q", result, tt.input)
			}
			if !utf8.ValidString(result) {
				t.Errorf("sanitizeUTF8() returned invalid UTF-8 string")
			}
		})
	}
}

// TestSanitizeUTF8_InvalidString tests that invalid UTF-8 sequences are fixed
func TestSanitizeUTF8_InvalidString(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		contains string // String should contain this after sanitization
	}{
		{
			name:     "Invalid UTF-8 byte sequence at start",
			input:    string([]byte{0xFF, 0xFE}) + "Valid text",
			contains: "Valid text",
		},
		{
			name:     "Invalid UTF-8 byte sequence in middle",
			input:    "Start " + string([]byte{0xFF, 0xFE}) + " End",
			contains: "Start",
		},
		{
			name:     "Multiple invalid sequences",
			input:    string([]byte{0xFF}) + "Text" + string([]byte{0xFE}) + "More",
			contains: "Text",
		},
		{
			name:     "Invalid continuation bytes",
			input:    "Nombre: Juan" + string([]byte{0x80, 0x81}),
			contains: "Nombre: Juan",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Verify input is actually invalid
			if utf8.ValidString(tt.input) {
				t.Skip("Test input is valid UTF-8, skipping")
			}

			result := sanitizeUTF8(tt.input)

			// Result must be valid UTF-8
			if !utf8.ValidString(result) {
				t.Errorf("sanitizeUTF8() returned invalid UTF-8 string: %q", result)
			}

			// Result should be non-empty
			if len(result) == 0 {
				t.Errorf("sanitizeUTF8() returned empty string")
			}
		})
	}
}

// TestSanitizeUTF8_PreservesContent tests that sanitization preserves meaningful content
func TestSanitizeUTF8_PreservesContent(t *testing.T) {
	// Create a string with invalid UTF-8 in the middle
	validPart1 := "Educación: Licenciatura en Ciencias de la Computación"
	validPart2 := "Experiencia: 5 años en desarrollo de software"
	invalidBytes := []byte{0xFF, 0xFE}
	input := validPart1 + string(invalidBytes) + validPart2

	result := sanitizeUTF8(input)

	// Result must be valid UTF-8
	if !utf8.ValidString(result) {
		t.Errorf("sanitizeUTF8() returned invalid UTF-8 string")
	}

	// Result should be non-empty
	if len(result) == 0 {
		t.Errorf("sanitizeUTF8() returned empty string")
	}

	// Result length should be reasonable (not much shorter than input)
	// Allow for replacement characters
	if len(result) < len(input)-10 {
		t.Errorf("sanitizeUTF8() removed too much content: input %d bytes, output %d bytes", len(input), len(result))
	}
}

// TestSanitizeUTF8_ReplacementCharacter tests that invalid sequences are replaced with �
func TestSanitizeUTF8_ReplacementCharacter(t *testing.T) {
	// Create a string with a single invalid byte
	invalidByte := []byte{0xFF}
	input := "Before" + string(invalidByte) + "After"

	result := sanitizeUTF8(input)

	// Result must be valid UTF-8
	if !utf8.ValidString(result) {
		t.Errorf("sanitizeUTF8() returned invalid UTF-8 string")
	}

	// Result should contain the text before and after
	if !strings.Contains(result, "Before") || !strings.Contains(result, "After") {
		t.Errorf("sanitizeUTF8() did not preserve valid text: got %q", result)
	}

	// Result should contain the replacement character
	if !strings.Contains(result, "�") {
		t.Errorf("sanitizeUTF8() did not include replacement character")
	}
}

// TestTruncate tests the truncate helper function
func TestTruncate(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{
			name:   "Short string not truncated",
			input:  "Hello",
			maxLen: 10,
			want:   "Hello",
		},
		{
			name:   "Exact length not truncated",
			input:  "Hello",
			maxLen: 5,
			want:   "Hello",
		},
		{
			name:   "Long string truncated",
			input:  "This is a very long string that should be truncated",
			maxLen: 20,
			want:   "This is a very long ...",
		},
		{
			name:   "Empty string",
			input:  "",
			maxLen: 10,
			want:   "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := truncate(tt.input, tt.maxLen)
			if result != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, result, tt.want)
			}
		})
	}
}

// fakeGenerator returns a canned response and records the prompt
type fakeGenerator struct {
	response string
	err      error
	prompt   string
}

func (f *fakeGenerator) GenerateContent(_ context.Context, prompt string) (string, error) {
	f.prompt = prompt
	return f.response, f.err
}

func (f *fakeGenerator) Close() error { return nil }

func testShortlist() []models.ParsedCandidate {
	return []models.ParsedCandidate{
		{Filename: "ana.pdf", Name: "Ana Torres", PreliminaryScore: 80, RawText: "Ana Torres\nPython SQL"},
		{Filename: "luis.pdf", Name: "Luis Méndez", PreliminaryScore: 60, RawText: "Luis Méndez\nVentas"},
		{Filename: "eva.txt", Name: "Eva Ruiz", PreliminaryScore: 55, RawText: "Eva Ruiz"},
	}
}

// TestParseRanking_DirectJSON tests parsing of a pure JSON array response
func TestParseRanking_DirectJSON(t *testing.T) {
	response := `[
		{"filename": "luis.pdf", "name": "Luis Méndez", "score": 72.5, "star_bullets": ["a", "b"], "strengths": ["Cierre"], "gaps": ["CRM"], "recommendation": "considerar"},
		{"filename": "ana.pdf", "name": "Ana Torres", "score": 91, "star_bullets": ["c"], "strengths": [], "gaps": []}
	]`

	ranked, err := parseRanking(response, testShortlist())
	if err != nil {
		t.Fatalf("parseRanking() failed: %v", err)
	}

	if len(ranked) != 2 {
		t.Fatalf("len(ranked) = %d, want 2", len(ranked))
	}
	if ranked[0].Filename != "ana.pdf" || ranked[0].Rank != 1 || ranked[0].FinalScore != 91 {
		t.Errorf("first = %+v, want ana.pdf rank 1 score 91", ranked[0])
	}
	if ranked[1].Filename != "luis.pdf" || ranked[1].Rank != 2 || ranked[1].FinalScore != 72.5 {
		t.Errorf("second = %+v, want luis.pdf rank 2 score 72.5", ranked[1])
	}
	if ranked[1].Recommendation != "considerar" {
		t.Errorf("Recommendation = %q, want considerar", ranked[1].Recommendation)
	}
}

// TestParseRanking_JSONWithExtraText tests parsing of JSON with surrounding text
func TestParseRanking_JSONWithExtraText(t *testing.T) {
	tests := []struct {
		name      string
		response  string
		wantFirst string
		wantErr   bool
	}{
		{
			name:      "JSON with text before",
			response:  "Aquí está el ranking:\n[{\"filename\": \"eva.txt\", \"score\": 70}]",
			wantFirst: "eva.txt",
		},
		{
			name:      "JSON with text after",
			response:  "[{\"filename\": \"ana.pdf\", \"score\": 70}]\nEspero que ayude.",
			wantFirst: "ana.pdf",
		},
		{
			name:      "JSON with markdown code blocks",
			response:  "```json\n[{\"filename\": \"luis.pdf\", \"score\": 65}]\n```",
			wantFirst: "luis.pdf",
		},
		{
			name:      "Array wrapped in an object",
			response:  `{"candidates": [{"filename": "ana.pdf", "score": 50}]}`,
			wantFirst: "ana.pdf",
		},
		{
			name:     "No JSON in response",
			response: "This response has no JSON",
			wantErr:  true,
		},
		{
			name:     "Invalid JSON",
			response: "{ invalid json }",
			wantErr:  true,
		},
		{
			name:     "Only unknown filenames",
			response: `[{"filename": "otro.pdf", "score": 99}]`,
			wantErr:  true,
		},
		{
			name:     "Empty array",
			response: "[]",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ranked, err := parseRanking(tt.response, testShortlist())

			if tt.wantErr {
				if err == nil {
					t.Errorf("parseRanking() expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("parseRanking() failed: %v", err)
			}
			if ranked[0].Filename != tt.wantFirst {
				t.Errorf("first filename = %q, want %q", ranked[0].Filename, tt.wantFirst)
			}
		})
	}
}

// TestParseRanking_Normalization tests clamping, weak typing, bullet limits and filtering
func TestParseRanking_Normalization(t *testing.T) {
	response := `[
		{"filename": "ana.pdf", "score": 140, "star_bullets": ["1", " ", "2", "3", "4"]},
		{"filename": "luis.pdf", "score": "-5", "strengths": "Negociación"},
		{"filename": "ana.pdf", "score": 10},
		{"filename": "fantasma.pdf", "score": 100},
		{"filename": "eva.txt", "name": "", "score": "55.5"}
	]`

	ranked, err := parseRanking(response, testShortlist())
	if err != nil {
		t.Fatalf("parseRanking() failed: %v", err)
	}

	if len(ranked) != 3 {
		t.Fatalf("len(ranked) = %d, want 3 (duplicates and unknown filenames dropped)", len(ranked))
	}

	ana := ranked[0]
	if ana.Filename != "ana.pdf" || ana.FinalScore != 100 {
		t.Errorf("ana = %+v, want clamped score 100", ana)
	}
	if len(ana.StarBullets) != maxStarBullets {
		t.Errorf("len(StarBullets) = %d, want %d", len(ana.StarBullets), maxStarBullets)
	}
	if ana.Name != "Ana Torres" {
		t.Errorf("Name = %q, want shortlist name", ana.Name)
	}

	if ranked[1].Filename != "eva.txt" || ranked[1].FinalScore != 55.5 || ranked[1].Name != "Eva Ruiz" {
		t.Errorf("second = %+v, want eva.txt 55.5 Eva Ruiz", ranked[1])
	}

	luis := ranked[2]
	if luis.FinalScore != 0 {
		t.Errorf("luis score = %v, want clamped 0", luis.FinalScore)
	}
	if len(luis.Strengths) != 1 || luis.Strengths[0] != "Negociación" {
		t.Errorf("luis strengths = %v, want [Negociación]", luis.Strengths)
	}

	for _, rc := range ranked {
		if rc.FinalScore < 0 || rc.FinalScore > 100 {
			t.Errorf("score %v out of range", rc.FinalScore)
		}
	}
}

// TestParseRanking_NonFiniteScores tests that NaN and infinite scores become 0 so the report stays encodable
func TestParseRanking_NonFiniteScores(t *testing.T) {
	response := `[
		{"filename": "ana.pdf", "score": "NaN"},
		{"filename": "luis.pdf", "score": "Inf"},
		{"filename": "eva.txt", "score": "-Infinity"}
	]`

	ranked, err := parseRanking(response, testShortlist())
	if err != nil {
		t.Fatalf("parseRanking() failed: %v", err)
	}
	if len(ranked) != 3 {
		t.Fatalf("len(ranked) = %d, want 3", len(ranked))
	}

	for _, c := range ranked {
		if c.FinalScore != 0 {
			t.Errorf("%s score = %v, want 0", c.Filename, c.FinalScore)
		}
	}

	if _, err := json.Marshal(ranked); err != nil {
		t.Errorf("json.Marshal() failed: %v", err)
	}
}

// TestParseRanking_StableTies tests that equal scores keep response order
func TestParseRanking_StableTies(t *testing.T) {
	response := `[{"filename": "eva.txt", "score": 70}, {"filename": "ana.pdf", "score": 70}, {"filename": "luis.pdf", "score": 70}]`

	ranked, err := parseRanking(response, testShortlist())
	if err != nil {
		t.Fatalf("parseRanking() failed: %v", err)
	}

	want := []string{"eva.txt", "ana.pdf", "luis.pdf"}
	for i, rc := range ranked {
		if rc.Filename != want[i] || rc.Rank != i+1 {
			t.Errorf("ranked[%d] = %s rank %d, want %s rank %d", i, rc.Filename, rc.Rank, want[i], i+1)
		}
	}
}

// TestBuildSummaries tests excerpt, experience and skill limits
func TestBuildSummaries(t *testing.T) {
	candidates := []models.ParsedCandidate{{
		Filename:          "a.pdf",
		Name:              "Ana",
		ExperienceSummary: strings.Repeat("x", 150),
		Skills:            []string{"Python", "Sql", "Docker", "Aws", "Linux", "Git", "Html"},
		PreliminaryScore:  77,
		RawText:           strings.Repeat("palabra   ", 400) + string([]byte{0xFF}),
	}}

	summaries := BuildSummaries(candidates)
	if len(summaries) != 1 {
		t.Fatalf("len(summaries) = %d, want 1", len(summaries))
	}
	s := summaries[0]

	if s.Skills != "Python, Sql, Docker, Aws, Linux" {
		t.Errorf("Skills = %q", s.Skills)
	}
	if got := utf8.RuneCountInString(s.Experience); got != maxExperienceRunes+3 {
		t.Errorf("experience runes = %d, want %d", got, maxExperienceRunes+3)
	}
	if got := utf8.RuneCountInString(s.Excerpt); got != maxExcerptRunes+3 {
		t.Errorf("excerpt runes = %d, want %d", got, maxExcerptRunes+3)
	}
	if strings.Contains(s.Excerpt, "  ") {
		t.Error("excerpt whitespace should be collapsed")
	}
	if !utf8.ValidString(s.Excerpt) {
		t.Error("excerpt must be valid UTF-8")
	}
	if s.PreliminaryScore != 77 || s.Filename != "a.pdf" || s.Name != "Ana" {
		t.Errorf("unexpected summary %+v", s)
	}
}

// TestBuildRankingPrompt_ContentTruncation tests that a long job description is truncated
func TestBuildRankingPrompt_ContentTruncation(t *testing.T) {
	longJD := strings.Repeat("Responsabilidades del puesto. ", 300) // ~9,000 chars

	prompt, err := buildRankingPrompt("Analista", longJD, BuildSummaries(testShortlist()))
	if err != nil {
		t.Fatalf("buildRankingPrompt() failed: %v", err)
	}

	if !strings.Contains(prompt, "[Job description truncated for length]") {
		t.Error("Expected job description to be truncated but truncation message not found")
	}
	if len(prompt) > 12000 {
		t.Errorf("Prompt still too long: %d bytes", len(prompt))
	}
}

// TestBuildRankingPrompt_NoTruncationNeeded tests that short content is passed through
func TestBuildRankingPrompt_NoTruncationNeeded(t *testing.T) {
	prompt, err := buildRankingPrompt("Analista de Datos", "Analizar datos de ventas", BuildSummaries(testShortlist()))
	if err != nil {
		t.Fatalf("buildRankingPrompt() failed: %v", err)
	}

	if strings.Contains(prompt, "[Job description truncated for length]") {
		t.Error("Job description should not be truncated for short content")
	}
	for _, want := range []string{"Analista de Datos", "Analizar datos de ventas", "ana.pdf", "luis.pdf", "eva.txt"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

// TestRank tests the full round trip through a generator
func TestRank(t *testing.T) {
	gen := &fakeGenerator{response: `[{"filename": "luis.pdf", "score": 88}, {"filename": "ana.pdf", "score": 70}]`}
	ranker := NewRanker(gen, nil)

	ranked, err := ranker.Rank(context.Background(), "Vendedor", "Ventas B2B", testShortlist())
	if err != nil {
		t.Fatalf("Rank() failed: %v", err)
	}

	if len(ranked) != 2 || ranked[0].Filename != "luis.pdf" {
		t.Errorf("unexpected ranking %+v", ranked)
	}
	if !strings.Contains(gen.prompt, "Ventas B2B") {
		t.Error("job description not sent to generator")
	}
}

// TestRank_Errors tests generator failures and the empty shortlist shortcut
func TestRank_Errors(t *testing.T) {
	errBoom := errors.New("boom")
	ranker := NewRanker(&fakeGenerator{err: errBoom}, nil)

	if _, err := ranker.Rank(context.Background(), "", "desc", testShortlist()); !errors.Is(err, errBoom) {
		t.Errorf("Rank() error = %v, want wrapped boom", err)
	}

	gen := &fakeGenerator{}
	ranked, err := NewRanker(gen, nil).Rank(context.Background(), "", "desc", nil)
	if err != nil || len(ranked) != 0 {
		t.Errorf("Rank(nil) = %v, %v; want empty, nil", ranked, err)
	}
	if gen.prompt != "" {
		t.Error("generator should not be called for an empty shortlist")
	}
}
