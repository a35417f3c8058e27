package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fmuoria/cv-shortlist-agent/internal/config"
	"github.com/fmuoria/cv-shortlist-agent/internal/ingestion"
	"github.com/fmuoria/cv-shortlist-agent/internal/models"
)

const (
	backendJob = "Desarrollador backend con Python y Docker para plataforma de pagos"

	lauraCV = `Laura Gómez
laura.gomez@correo.cl
8 años de experiencia como desarrollador backend con Python y Docker para plataforma de pagos
Licenciatura en Informática
Universidad de Chile`

	pedroCV = `Pedro Rojas
Cocinero con experiencia en banquetes y eventos`
)

type fakeGenerator struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
	closed    bool
}

func (f *fakeGenerator) GenerateContent(_ context.Context, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return f.responses[len(f.responses)-1], nil
}

func (f *fakeGenerator) Close() error {
	f.closed = true
	return nil
}

func testOptions() Options {
	return Options{MinJobDescriptionLength: 20, MaxCandidates: 10, DefaultTopN: 20, Workers: 2}
}

func testRequest() models.ScreeningRequest {
	return models.ScreeningRequest{
		JobTitle:       "Backend",
		JobDescription: backendJob,
		RoleCategory:   "desarrollo",
		Documents: []models.RawCandidateDocument{
			{Filename: "pedro.txt", Content: pedroCV},
			{Filename: "laura.txt", Content: lauraCV},
			{Filename: "vacio.txt", Content: "   "},
			{Filename: "escaneado.pdf", Content: "%PDF-1.4 binary"},
		},
	}
}

const rankingResponse = `[
  {"filename": "laura.txt", "name": "Laura Gómez", "score": 91, "star_bullets": ["Lideró la migración de pagos a Docker"], "strengths": ["Python"], "gaps": []},
  {"filename": "pedro.txt", "name": "Pedro Rojas", "score": "12", "star_bullets": [], "strengths": [], "gaps": ["Sin experiencia técnica"]}
]`

// TestIsRateLimitError tests the rate limit error detection
func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "Nil error",
			err:      nil,
			expected: false,
		},
		{
			name:     "ResourceExhausted error",
			err:      errors.New("rpc error: code = ResourceExhausted desc = Resource exhausted"),
			expected: true,
		},
		{
			name:     "HTTP 429 error",
			err:      errors.New("HTTP 429: Too Many Requests"),
			expected: true,
		},
		{
			name:     "Rate limit error",
			err:      errors.New("rate limit exceeded"),
			expected: true,
		},
		{
			name:     "Quota error",
			err:      errors.New("quota exceeded for this project"),
			expected: true,
		},
		{
			name:     "Other error",
			err:      errors.New("connection timeout"),
			expected: false,
		},
		{
			name:     "Invalid JSON error",
			err:      errors.New("failed to parse JSON"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := isRateLimitError(tt.err)
			if result != tt.expected {
				t.Errorf("isRateLimitError(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

// TestRateLimitConstants tests that rate limit constants are set correctly
func TestRateLimitConstants(t *testing.T) {
	if maxRetries != 3 {
		t.Errorf("maxRetries = %d, want 3", maxRetries)
	}

	if retryBackoff.Seconds() != 10 {
		t.Errorf("retryBackoff = %v, want 10 seconds", retryBackoff)
	}
}

// TestScreen_Validation tests that malformed requests are rejected with the offending field
func TestScreen_Validation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(r *models.ScreeningRequest)
		field  string
	}{
		{
			name:   "No documents",
			modify: func(r *models.ScreeningRequest) { r.Documents = nil },
			field:  "documents",
		},
		{
			name:   "Missing job description",
			modify: func(r *models.ScreeningRequest) { r.JobDescription = "" },
			field:  "job_description",
		},
		{
			name:   "Short job description",
			modify: func(r *models.ScreeningRequest) { r.JobDescription = "Backend Python" },
			field:  "job_description",
		},
		{
			name:   "Negative topN",
			modify: func(r *models.ScreeningRequest) { r.TopN = -1 },
			field:  "top_n",
		},
		{
			name:   "Unknown category",
			modify: func(r *models.ScreeningRequest) { r.RoleCategory = "finanzas" },
			field:  "role_category",
		},
		{
			name: "Too many documents",
			modify: func(r *models.ScreeningRequest) {
				for len(r.Documents) <= testOptions().MaxCandidates {
					r.Documents = append(r.Documents, models.RawCandidateDocument{Filename: "extra.txt", Content: "x"})
				}
			},
			field: "documents",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewShortlistAgent(nil, nil, testOptions(), nil)
			req := testRequest()
			tt.modify(&req)

			_, err := a.Screen(context.Background(), req)

			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)

			_, err = a.LastReport()
			assert.ErrorIs(t, err, ErrNoReport)
		})
	}
}

// TestScreen_PreliminaryOnly tests a run without AI ranking
func TestScreen_PreliminaryOnly(t *testing.T) {
	a := NewShortlistAgent(nil, nil, testOptions(), nil)

	report, err := a.Screen(context.Background(), testRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, models.RoleDesarrollo, report.RoleCategory)
	assert.Equal(t, 4, report.TotalReceived)
	assert.Equal(t, 2, report.TotalScored)
	require.Len(t, report.Shortlist, 2)
	assert.Equal(t, "laura.txt", report.Shortlist[0].Filename)
	assert.Equal(t, "pedro.txt", report.Shortlist[1].Filename)
	assert.Greater(t, report.Shortlist[0].PreliminaryScore, report.Shortlist[1].PreliminaryScore)
	assert.Empty(t, report.Ranked)
	assert.Empty(t, report.AIError)

	require.Len(t, report.Skipped, 2)
	assert.Equal(t, models.SkippedDocument{Filename: "vacio.txt", Reason: "no extractable text"}, report.Skipped[0])
	assert.Equal(t, models.SkippedDocument{Filename: "escaneado.pdf", Reason: "binary content"}, report.Skipped[1])

	_, err = time.Parse(time.RFC3339, report.Timestamp)
	assert.NoError(t, err)

	last, err := a.LastReport()
	require.NoError(t, err)
	assert.Equal(t, report.RunID, last.RunID)
}

// TestScreen_TopN tests that the shortlist is cut to the requested size
func TestScreen_TopN(t *testing.T) {
	a := NewShortlistAgent(nil, nil, testOptions(), nil)
	req := testRequest()
	req.TopN = 1

	report, err := a.Screen(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, report.Shortlist, 1)
	assert.Equal(t, "laura.txt", report.Shortlist[0].Filename)
	assert.Equal(t, 2, report.TotalScored)
}

// TestScreen_WithAI tests that the LLM ranking is attached to the report
func TestScreen_WithAI(t *testing.T) {
	gen := &fakeGenerator{responses: []string{rankingResponse}}
	a := NewShortlistAgent(nil, gen, testOptions(), nil)
	req := testRequest()
	req.UseAI = true

	report, err := a.Screen(context.Background(), req)
	require.NoError(t, err)

	assert.Empty(t, report.AIError)
	require.Len(t, report.Ranked, 2)
	assert.Equal(t, "laura.txt", report.Ranked[0].Filename)
	assert.Equal(t, 91.0, report.Ranked[0].FinalScore)
	assert.Equal(t, 1, report.Ranked[0].Rank)
	assert.Equal(t, 12.0, report.Ranked[1].FinalScore)
	assert.Equal(t, 1, gen.calls)

	require.NoError(t, a.Close())
	assert.True(t, gen.closed)
}

// TestScreen_AIFailureDegrades tests that a ranking failure keeps the preliminary shortlist
func TestScreen_AIFailureDegrades(t *testing.T) {
	gen := &fakeGenerator{errs: []error{errors.New("connection timeout")}, responses: []string{""}}
	a := NewShortlistAgent(nil, gen, testOptions(), nil)
	req := testRequest()
	req.UseAI = true

	report, err := a.Screen(context.Background(), req)
	require.NoError(t, err)

	assert.Contains(t, report.AIError, "connection timeout")
	assert.Len(t, report.Shortlist, 2)
	assert.Empty(t, report.Ranked)
	assert.Equal(t, 1, gen.calls)
}

// TestScreen_RateLimitRetry tests that rate-limit errors are retried
func TestScreen_RateLimitRetry(t *testing.T) {
	gen := &fakeGenerator{
		errs:      []error{errors.New("HTTP 429: Too Many Requests"), errors.New("quota exceeded")},
		responses: []string{"", "", rankingResponse},
	}
	a := NewShortlistAgent(nil, gen, testOptions(), nil)
	a.retryBackoff = time.Millisecond
	req := testRequest()
	req.UseAI = true

	report, err := a.Screen(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 3, gen.calls)
	assert.Empty(t, report.AIError)
	assert.Len(t, report.Ranked, 2)
}

// TestScreen_RateLimitExhausted tests that retries stop after maxRetries
func TestScreen_RateLimitExhausted(t *testing.T) {
	limited := errors.New("rate limit exceeded")
	gen := &fakeGenerator{
		errs:      []error{limited, limited, limited, limited, limited},
		responses: []string{""},
	}
	a := NewShortlistAgent(nil, gen, testOptions(), nil)
	a.retryBackoff = time.Millisecond
	req := testRequest()
	req.UseAI = true

	report, err := a.Screen(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, maxRetries+1, gen.calls)
	assert.Contains(t, report.AIError, "rate limit")
}

// TestScreen_AIWithoutGenerator tests a run that asks for AI without a configured LLM
func TestScreen_AIWithoutGenerator(t *testing.T) {
	a := NewShortlistAgent(nil, nil, testOptions(), nil)
	assert.False(t, a.AIEnabled())

	req := testRequest()
	req.UseAI = true

	report, err := a.Screen(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "AI ranking is not configured", report.AIError)
	assert.Len(t, report.Shortlist, 2)
}

// TestScreen_Cancelled tests that a cancelled context aborts the run
func TestScreen_Cancelled(t *testing.T) {
	a := NewShortlistAgent(nil, nil, testOptions(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Screen(ctx, testRequest())
	assert.ErrorIs(t, err, context.Canceled)
}

// TestScreen_Progress tests that progress ends at 100%
func TestScreen_Progress(t *testing.T) {
	a := NewShortlistAgent(nil, nil, testOptions(), nil)

	var mu sync.Mutex
	var last int
	calls := 0
	a.SetProgressCallback(func(current, total int, message string) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		last = current
		assert.Equal(t, 100, total)
	})

	_, err := a.Screen(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, 5, calls)
	assert.Equal(t, 100, last)
}

// TestScreenUploads tests screening the files of an uploads directory
func TestScreenUploads(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "laura.txt"), []byte(lauraCV), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pedro.txt"), []byte(pedroCV), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "foto.png"), []byte{0x89, 0x50}, 0644))

	a := NewShortlistAgent(ingestion.NewFileHandler(dir), nil, testOptions(), nil)
	report, err := a.ScreenUploads(context.Background(), models.ScreeningRequest{
		JobDescription: backendJob,
		RoleCategory:   "desarrollo",
	})
	require.NoError(t, err)

	assert.Equal(t, 3, report.TotalReceived)
	assert.Equal(t, 2, report.TotalScored)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "foto.png", report.Skipped[0].Filename)
	assert.Equal(t, "laura.txt", report.Shortlist[0].Filename)
}

// TestScreenUploads_Empty tests an uploads directory without CVs
func TestScreenUploads_Empty(t *testing.T) {
	a := NewShortlistAgent(ingestion.NewFileHandler(t.TempDir()), nil, testOptions(), nil)

	_, err := a.ScreenUploads(context.Background(), models.ScreeningRequest{JobDescription: backendJob})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "documents", verr.Field)
}

// TestOptionsFromConfig tests that run limits come from the config
func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	opts := OptionsFromConfig(cfg)

	assert.Equal(t, 50, opts.MinJobDescriptionLength)
	assert.Equal(t, 500, opts.MaxCandidates)
	assert.Equal(t, 20, opts.DefaultTopN)
	assert.Equal(t, 8, opts.Workers)

	defaults := Options{}.withDefaults()
	assert.Equal(t, 8, defaults.Workers)
	assert.Equal(t, 20, defaults.DefaultTopN)
}

type fakeFetcher struct {
	dir      string
	filename string
	content  string
}

func (f *fakeFetcher) FetchAttachments(_ context.Context, _ string) (int, error) {
	if err := os.WriteFile(filepath.Join(f.dir, f.filename), []byte(f.content), 0644); err != nil {
		return 0, err
	}
	// Leave room for another run to clear the directory before this one reads it.
	time.Sleep(50 * time.Millisecond)
	return 1, nil
}

// TestScreenGmail_ConcurrentRuns tests that overlapping mailbox runs each screen only their own attachments
func TestScreenGmail_ConcurrentRuns(t *testing.T) {
	dir := t.TempDir()
	a := NewShortlistAgent(ingestion.NewFileHandler(dir), nil, testOptions(), nil)

	fetchers := []*fakeFetcher{
		{dir: dir, filename: "laura.txt", content: lauraCV},
		{dir: dir, filename: "pedro.txt", content: pedroCV},
	}
	reports := make([]*models.ScreeningReport, len(fetchers))
	errs := make([]error, len(fetchers))

	var wg sync.WaitGroup
	for i, f := range fetchers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i], errs[i] = a.ScreenGmail(context.Background(), f, "Postulación", models.ScreeningRequest{
				JobDescription: backendJob,
				RoleCategory:   "desarrollo",
			})
		}()
	}
	wg.Wait()

	for i, f := range fetchers {
		require.NoError(t, errs[i])
		assert.Equal(t, 1, reports[i].TotalScored, f.filename)
		require.Len(t, reports[i].Shortlist, 1)
		assert.Equal(t, f.filename, reports[i].Shortlist[0].Filename)
	}
}
