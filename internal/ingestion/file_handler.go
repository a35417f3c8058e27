package ingestion

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fmuoria/cv-shortlist-agent/internal/models"
)

// FileHandler manages file operations for CV ingestion
type FileHandler struct {
	uploadsDir string
}

// NewFileHandler creates a new file handler
func NewFileHandler(uploadsDir string) *FileHandler {
	return &FileHandler{
		uploadsDir: uploadsDir,
	}
}

// Dir returns the uploads directory
func (fh *FileHandler) Dir() string {
	return fh.uploadsDir
}

// SaveUploadedFile saves an uploaded file to the uploads directory. Any
// directory part of filename is discarded.
func (fh *FileHandler) SaveUploadedFile(filename string, content io.Reader) (string, error) {
	// Ensure uploads directory exists
	if err := os.MkdirAll(fh.uploadsDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create uploads directory: %w", err)
	}

	base := filepath.Base(filepath.Clean("/" + filename))
	if base == "/" || base == "." {
		return "", fmt.Errorf("invalid filename %q", filename)
	}

	filePath := filepath.Join(fh.uploadsDir, base)
	file, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, content); err != nil {
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	return filePath, nil
}

// LoadDocuments extracts every supported CV in the uploads directory, in
// filename order. Files whose text cannot be extracted are returned as
// skipped rather than failing the whole batch.
func (fh *FileHandler) LoadDocuments() ([]models.RawCandidateDocument, []models.SkippedDocument, error) {
	files, err := os.ReadDir(fh.uploadsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []models.RawCandidateDocument{}, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read uploads directory: %w", err)
	}

	names := make([]string, 0, len(files))
	for _, file := range files {
		if file.IsDir() || strings.HasPrefix(file.Name(), ".") {
			continue
		}
		names = append(names, file.Name())
	}
	sort.Strings(names)

	documents := make([]models.RawCandidateDocument, 0, len(names))
	var skipped []models.SkippedDocument

	for _, filename := range names {
		if !IsSupported(filename) {
			skipped = append(skipped, models.SkippedDocument{Filename: filename, Reason: "unsupported file type"})
			continue
		}

		text, err := ExtractText(filepath.Join(fh.uploadsDir, filename))
		if err != nil {
			skipped = append(skipped, models.SkippedDocument{Filename: filename, Reason: err.Error()})
			continue
		}

		documents = append(documents, models.RawCandidateDocument{
			Filename: filename,
			Content:  SanitizeText(text),
		})
	}

	return documents, skipped, nil
}

// ClearUploads removes all files from the uploads directory
func (fh *FileHandler) ClearUploads() error {
	if err := os.RemoveAll(fh.uploadsDir); err != nil {
		return fmt.Errorf("failed to clear uploads directory: %w", err)
	}
	return os.MkdirAll(fh.uploadsDir, 0755)
}
