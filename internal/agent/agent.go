package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fmuoria/cv-shortlist-agent/internal/config"
	"github.com/fmuoria/cv-shortlist-agent/internal/ingestion"
	"github.com/fmuoria/cv-shortlist-agent/internal/llm"
	"github.com/fmuoria/cv-shortlist-agent/internal/logger"
	"github.com/fmuoria/cv-shortlist-agent/internal/models"
	"github.com/fmuoria/cv-shortlist-agent/internal/prefilter"
	"github.com/fmuoria/cv-shortlist-agent/internal/scoring"
)

const (
	maxRetries   = 3
	retryBackoff = 10 * time.Second
)

// ErrNoReport is returned by LastReport before any run has completed
var ErrNoReport = errors.New("no report available, run a screening first")

// ValidationError describes a rejected screening request
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ProgressCallback is called to report progress during processing.
// It may be invoked from several goroutines.
type ProgressCallback func(current, total int, message string)

// Options bounds a screening run
type Options struct {
	MinJobDescriptionLength int
	MaxCandidates           int
	DefaultTopN             int
	Workers                 int
}

// OptionsFromConfig copies the run limits out of cfg
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MinJobDescriptionLength: cfg.MinJobDescriptionLength,
		MaxCandidates:           cfg.MaxCandidates,
		DefaultTopN:             cfg.DefaultTopN,
		Workers:                 cfg.Workers,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxCandidates <= 0 {
		o.MaxCandidates = 500
	}
	if o.DefaultTopN <= 0 {
		o.DefaultTopN = prefilter.DefaultTopN
	}
	if o.Workers <= 0 {
		o.Workers = 8
	}
	return o
}

// AttachmentFetcher saves the CV attachments of the messages matching subject
// into the uploads directory. *ingestion.GmailHandler implements it.
type AttachmentFetcher interface {
	FetchAttachments(ctx context.Context, subject string) (int, error)
}

// ShortlistAgent orchestrates the screening process
type ShortlistAgent struct {
	FileHandler *ingestion.FileHandler

	generator    llm.Generator
	ranker       *scoring.Ranker
	opts         Options
	logger       *zap.Logger
	report       *models.ScreeningReport
	mu           sync.RWMutex
	uploadsMu    sync.Mutex // held while a run clears, fills or reads the uploads directory
	progressCb   ProgressCallback
	retryBackoff time.Duration
}

// NewShortlistAgent creates a new agent. generator may be nil, in which case
// runs that ask for AI ranking return the preliminary shortlist with an AI error.
func NewShortlistAgent(fileHandler *ingestion.FileHandler, generator llm.Generator, opts Options, log *zap.Logger) *ShortlistAgent {
	log = logger.OrNop(log)

	a := &ShortlistAgent{
		FileHandler:  fileHandler,
		generator:    generator,
		opts:         opts.withDefaults(),
		logger:       log,
		retryBackoff: retryBackoff,
	}
	if generator != nil {
		a.ranker = scoring.NewRanker(generator, log)
	}
	return a
}

// SetProgressCallback sets the progress callback function
func (a *ShortlistAgent) SetProgressCallback(cb ProgressCallback) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.progressCb = cb
}

// reportProgress calls the progress callback if set
func (a *ShortlistAgent) reportProgress(current, total int, message string) {
	a.mu.RLock()
	cb := a.progressCb
	a.mu.RUnlock()

	if cb != nil {
		cb(current, total, message)
	}
}

// ScreenUploads screens every supported document in the uploads directory.
// Files ingestion could not read are added to the report's skipped list.
func (a *ShortlistAgent) ScreenUploads(ctx context.Context, req models.ScreeningRequest) (*models.ScreeningReport, error) {
	if a.FileHandler == nil {
		return nil, errors.New("no uploads directory configured")
	}

	a.uploadsMu.Lock()
	defer a.uploadsMu.Unlock()
	return a.screenUploads(ctx, req)
}

func (a *ShortlistAgent) screenUploads(ctx context.Context, req models.ScreeningRequest) (*models.ScreeningReport, error) {
	a.reportProgress(0, 100, "Loading documents...")

	documents, skipped, err := a.FileHandler.LoadDocuments()
	if err != nil {
		return nil, fmt.Errorf("failed to load documents: %w", err)
	}
	if len(documents) == 0 {
		return nil, &ValidationError{Field: "documents", Message: fmt.Sprintf("no readable CVs found in %s", a.FileHandler.Dir())}
	}

	req.Documents = documents
	req.Skipped = append(req.Skipped, skipped...)
	return a.Screen(ctx, req)
}

// ScreenGmail replaces the uploads directory with the CV attachments of the
// messages matching subject, then screens them. Concurrent runs are
// serialized so one run never clears another's attachments.
func (a *ShortlistAgent) ScreenGmail(ctx context.Context, gmail AttachmentFetcher, subject string, req models.ScreeningRequest) (*models.ScreeningReport, error) {
	if a.FileHandler == nil {
		return nil, errors.New("no uploads directory configured")
	}

	a.uploadsMu.Lock()
	defer a.uploadsMu.Unlock()

	a.reportProgress(0, 100, "Clearing existing uploads...")
	if err := a.FileHandler.ClearUploads(); err != nil {
		return nil, fmt.Errorf("failed to clear uploads: %w", err)
	}

	a.reportProgress(5, 100, "Fetching emails from Gmail...")
	saved, err := gmail.FetchAttachments(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch Gmail attachments: %w", err)
	}
	a.logger.Info("fetched Gmail attachments", zap.String("subject", subject), zap.Int("saved", saved))

	return a.screenUploads(ctx, req)
}

// Screen validates req, pre-filters every document locally and, when asked,
// ranks the shortlist with the LLM. A failed ranking degrades to the
// preliminary shortlist and records the failure in the report's AIError.
func (a *ShortlistAgent) Screen(ctx context.Context, req models.ScreeningRequest) (*models.ScreeningReport, error) {
	category, err := a.validate(&req)
	if err != nil {
		return nil, err
	}

	topN := req.TopN
	if topN == 0 {
		topN = a.opts.DefaultTopN
	}

	runID := uuid.NewString()
	log := a.logger.With(zap.String(logger.FieldRunID, runID))
	log.Info("screening started",
		zap.Int("documents", len(req.Documents)),
		zap.String("role_category", string(category)),
		zap.Int("top_n", topN),
		zap.Bool("use_ai", req.UseAI),
	)

	scored, skipped, err := a.parseAll(ctx, req.Documents, req.JobDescription, category)
	if err != nil {
		return nil, err
	}

	shortlist := prefilter.SelectTopCandidates(scored, topN)

	report := &models.ScreeningReport{
		RunID:          runID,
		JobTitle:       req.JobTitle,
		JobDescription: req.JobDescription,
		RoleCategory:   category,
		TotalReceived:  len(req.Documents) + len(req.Skipped),
		TotalScored:    len(scored),
		Skipped:        append(append([]models.SkippedDocument{}, req.Skipped...), skipped...),
		Shortlist:      shortlist,
	}

	if req.UseAI && len(shortlist) > 0 {
		a.reportProgress(80, 100, fmt.Sprintf("Ranking %d candidates with AI...", len(shortlist)))

		if a.ranker == nil {
			report.AIError = "AI ranking is not configured"
		} else {
			ranked, err := a.rankWithRetry(ctx, log, req.JobTitle, req.JobDescription, shortlist)
			switch {
			case err == nil:
				report.Ranked = ranked
			case ctx.Err() != nil:
				return nil, ctx.Err()
			default:
				log.Warn("AI ranking failed, returning preliminary shortlist", zap.Error(err))
				report.AIError = err.Error()
			}
		}
	}

	report.Timestamp = time.Now().Format(time.RFC3339)

	a.mu.Lock()
	a.report = report
	a.mu.Unlock()

	log.Info("screening complete",
		zap.Int("scored", report.TotalScored),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("shortlisted", len(shortlist)),
		zap.Int("ranked", len(report.Ranked)),
	)
	a.reportProgress(100, 100, "Processing complete!")

	return report, nil
}

// validate applies the request limits and resolves the role category
func (a *ShortlistAgent) validate(req *models.ScreeningRequest) (models.RoleCategory, error) {
	if err := req.Validate(); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return "", &ValidationError{Field: fieldName(fe.Namespace()), Message: fmt.Sprintf("failed on the '%s' rule", fe.Tag())}
		}
		return "", &ValidationError{Field: "request", Message: err.Error()}
	}

	if n := utf8.RuneCountInString(strings.TrimSpace(req.JobDescription)); n < a.opts.MinJobDescriptionLength {
		return "", &ValidationError{
			Field:   "job_description",
			Message: fmt.Sprintf("must be at least %d characters, got %d", a.opts.MinJobDescriptionLength, n),
		}
	}

	if len(req.Documents) > a.opts.MaxCandidates {
		return "", &ValidationError{
			Field:   "documents",
			Message: fmt.Sprintf("at most %d CVs per run, got %d", a.opts.MaxCandidates, len(req.Documents)),
		}
	}

	category, err := models.ParseRoleCategory(req.RoleCategory)
	if err != nil {
		return "", &ValidationError{Field: "role_category", Message: err.Error()}
	}

	return category, nil
}

// fieldName strips the struct name from a validator namespace such as
// ScreeningRequest.documents[2].filename.
func fieldName(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		namespace = namespace[idx+1:]
	}
	return namespace
}

// parseAll runs the extractors and scorer over every document with a bounded
// worker pool. Results keep the input order.
func (a *ShortlistAgent) parseAll(ctx context.Context, documents []models.RawCandidateDocument, jobDescription string, category models.RoleCategory) ([]models.ParsedCandidate, []models.SkippedDocument, error) {
	parsed := make([]*models.ParsedCandidate, len(documents))
	reasons := make([]string, len(documents))
	total := len(documents)
	var done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.opts.Workers)

	for i, doc := range documents {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			switch {
			case strings.TrimSpace(doc.Content) == "":
				reasons[i] = "no extractable text"
			case ingestion.IsBinaryData(doc.Content):
				reasons[i] = "binary content"
			default:
				candidate := prefilter.ParseCandidate(doc, jobDescription, category)
				parsed[i] = &candidate
			}

			n := int(done.Add(1))
			a.reportProgress(n*80/total, 100, fmt.Sprintf("Scored %s (%d/%d)", doc.Filename, n, total))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	scored := make([]models.ParsedCandidate, 0, len(documents))
	var skipped []models.SkippedDocument
	for i, p := range parsed {
		if p == nil {
			skipped = append(skipped, models.SkippedDocument{Filename: documents[i].Filename, Reason: reasons[i]})
			continue
		}
		scored = append(scored, *p)
	}
	return scored, skipped, nil
}

// rankWithRetry calls the ranker, backing off linearly on rate-limit errors
func (a *ShortlistAgent) rankWithRetry(ctx context.Context, log *zap.Logger, jobTitle, jobDescription string, shortlist []models.ParsedCandidate) ([]models.RankedCandidate, error) {
	for attempt := 0; ; attempt++ {
		ranked, err := a.ranker.Rank(ctx, jobTitle, jobDescription, shortlist)
		if err == nil {
			return ranked, nil
		}
		if !isRateLimitError(err) || attempt >= maxRetries {
			return nil, err
		}

		wait := a.retryBackoff * time.Duration(attempt+1)
		log.Warn("rate limited by LLM, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
}

// isRateLimitError reports whether err looks like a quota or throttling error
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "resourceexhausted") ||
		strings.Contains(msg, "resource exhausted") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "quota")
}

// LastReport returns the most recent screening report
func (a *ShortlistAgent) LastReport() (models.ScreeningReport, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.report == nil {
		return models.ScreeningReport{}, ErrNoReport
	}
	return *a.report, nil
}

// AIEnabled reports whether the agent has an LLM to rank with
func (a *ShortlistAgent) AIEnabled() bool {
	return a.ranker != nil
}

// Close cleans up resources
func (a *ShortlistAgent) Close() error {
	if a.generator != nil {
		return a.generator.Close()
	}
	return nil
}
