package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fmuoria/cv-shortlist-agent/internal/agent"
	"github.com/fmuoria/cv-shortlist-agent/internal/export"
	"github.com/fmuoria/cv-shortlist-agent/internal/ingestion"
	"github.com/fmuoria/cv-shortlist-agent/internal/logger"
	"github.com/fmuoria/cv-shortlist-agent/internal/models"
)

const (
	maxMemory   = 32 << 20
	maxJSONBody = 64 << 20
)

// Server handles HTTP requests
type Server struct {
	agent       *agent.ShortlistAgent
	gmail       *ingestion.GmailHandler
	archiveOpts ingestion.ArchiveOptions
	logger      *zap.Logger
}

// NewServer creates a new API server
func NewServer(a *agent.ShortlistAgent, archiveOpts ingestion.ArchiveOptions, log *zap.Logger) *Server {
	return &Server{
		agent:       a,
		archiveOpts: archiveOpts,
		logger:      logger.OrNop(log),
	}
}

// SetGmailHandler enables the gmail_subject form field of POST /screen
func (s *Server) SetGmailHandler(gh *ingestion.GmailHandler) {
	s.gmail = gh
}

// Router returns the HTTP router
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /screen", s.handleScreen)
	mux.HandleFunc("GET /report", s.handleReport)
	mux.HandleFunc("GET /report.xlsx", s.handleReportXLSX)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)

	return s.loggingMiddleware(mux)
}

// handleRoot provides API information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "CV Shortlist Agent",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"POST /screen":     "Upload CVs (files, ZIP archives or JSON documents) and a job description",
			"GET /report":      "Get the last shortlist",
			"GET /report.xlsx": "Download the last shortlist as an Excel workbook",
			"GET /health":      "Health check",
		},
		"ai_enabled": s.agent.AIEnabled(),
	})
}

// handleHealth provides a health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// handleScreen runs a screening from a JSON or multipart request
func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var (
		req    models.ScreeningRequest
		report *models.ScreeningReport
		err    error
	)

	switch mediaType {
	case "application/json":
		decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
		if err := decoder.Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse JSON body: %v", err))
			return
		}
		report, err = s.agent.Screen(r.Context(), req)

	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxMemory); err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse form: %v", err))
			return
		}

		req, err = requestFromForm(r.MultipartForm)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}

		if subject := r.FormValue("gmail_subject"); subject != "" {
			if s.gmail == nil {
				s.respondError(w, http.StatusBadRequest, "Gmail ingestion is not configured")
				return
			}
			report, err = s.agent.ScreenGmail(r.Context(), s.gmail, subject, req)
			break
		}

		req.Documents, req.Skipped, err = s.documentsFromForm(r.MultipartForm.File["files"])
		if err != nil {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		report, err = s.agent.Screen(r.Context(), req)

	default:
		s.respondError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json or multipart/form-data")
		return
	}

	if err != nil {
		var verr *agent.ValidationError
		if errors.As(err, &verr) {
			s.respondError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.logger.Error("screening failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, report)
}

// requestFromForm reads the scalar screening fields of a multipart form
func requestFromForm(form *multipart.Form) (models.ScreeningRequest, error) {
	value := func(key string) string {
		if v := form.Value[key]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}

	req := models.ScreeningRequest{
		JobTitle:       value("job_title"),
		JobDescription: value("job_description"),
		RoleCategory:   value("role_category"),
	}

	if v := value("top_n"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("top_n must be an integer")
		}
		req.TopN = n
	}

	if v := value("use_ai"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return req, fmt.Errorf("use_ai must be true or false")
		}
		req.UseAI = b
	}

	return req, nil
}

// documentsFromForm extracts the text of every uploaded file. ZIP uploads
// are unpacked; unreadable files are reported as skipped.
func (s *Server) documentsFromForm(files []*multipart.FileHeader) ([]models.RawCandidateDocument, []models.SkippedDocument, error) {
	var (
		documents []models.RawCandidateDocument
		skipped   []models.SkippedDocument
	)

	for _, fh := range files {
		file, err := fh.Open()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open uploaded file %s: %w", fh.Filename, err)
		}

		name := filepath.Base(fh.Filename)
		if strings.EqualFold(filepath.Ext(name), ".zip") {
			docs, skip, err := ingestion.ReadArchive(file, fh.Size, s.archiveOpts)
			file.Close()
			if err != nil {
				skipped = append(skipped, models.SkippedDocument{Filename: name, Reason: err.Error()})
				continue
			}
			documents = append(documents, docs...)
			skipped = append(skipped, skip...)
			continue
		}

		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read uploaded file %s: %w", fh.Filename, err)
		}

		doc, reason := ingestion.DocumentFromBytes(name, data, s.archiveOpts)
		if reason != "" {
			s.logger.Debug("skipping upload", zap.String("filename", name), zap.String("reason", reason))
			skipped = append(skipped, models.SkippedDocument{Filename: name, Reason: reason})
			continue
		}
		documents = append(documents, doc)
	}

	return documents, skipped, nil
}

// handleReport returns the last screening report
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.agent.LastReport()
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, report)
}

// handleReportXLSX returns the last screening report as a workbook
func (s *Server) handleReportXLSX(w http.ResponseWriter, r *http.Request) {
	report, err := s.agent.LastReport()
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := export.WriteExcel(report, &buf); err != nil {
		s.logger.Error("failed to build workbook", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", export.MediaType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="shortlist-%s.xlsx"`, report.RunID))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Warn("failed to send workbook", zap.Error(err))
	}
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode JSON response", zap.Error(err))
	}
}

// respondError sends an error response
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote_addr", r.RemoteAddr),
		)
	})
}
