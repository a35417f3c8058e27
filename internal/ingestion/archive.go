package ingestion

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/fmuoria/cv-shortlist-agent/internal/models"
)

const (
	// DefaultMaxEntryBytes bounds the uncompressed size of a single archive entry
	DefaultMaxEntryBytes = 10 << 20
	// DefaultMaxPDFPages skips PDFs too long to be a CV
	DefaultMaxPDFPages = 15
)

// ArchiveOptions limits what ReadArchive accepts
type ArchiveOptions struct {
	MaxEntryBytes int64
	MaxPDFPages   int
}

func (o ArchiveOptions) withDefaults() ArchiveOptions {
	if o.MaxEntryBytes <= 0 {
		o.MaxEntryBytes = DefaultMaxEntryBytes
	}
	if o.MaxPDFPages <= 0 {
		o.MaxPDFPages = DefaultMaxPDFPages
	}
	return o
}

// ReadArchive unpacks a ZIP of CVs and extracts the text of each supported
// entry. Entries are returned in name order. Metadata folders, hidden files,
// unsupported types and oversized entries are reported as skipped.
func ReadArchive(r io.ReaderAt, size int64, opts ArchiveOptions) ([]models.RawCandidateDocument, []models.SkippedDocument, error) {
	opts = opts.withDefaults()

	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open ZIP archive: %w", err)
	}

	entries := make([]*zip.File, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		entries = append(entries, f)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})

	documents := make([]models.RawCandidateDocument, 0, len(entries))
	var skipped []models.SkippedDocument
	seen := make(map[string]bool)

	for _, f := range entries {
		if strings.HasPrefix(f.Name, "__MACOSX/") || strings.Contains(f.Name, "/__MACOSX/") {
			continue
		}

		name := path.Base(f.Name)
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !IsSupported(name) {
			skipped = append(skipped, models.SkippedDocument{Filename: name, Reason: "unsupported file type"})
			continue
		}
		if f.UncompressedSize64 > uint64(opts.MaxEntryBytes) {
			skipped = append(skipped, models.SkippedDocument{Filename: name, Reason: fmt.Sprintf("file larger than %d bytes", opts.MaxEntryBytes)})
			continue
		}

		// Nested folders may repeat a basename; keep the archive path so
		// filenames stay unique.
		filename := name
		if seen[filename] {
			filename = f.Name
		}
		seen[filename] = true

		text, reason := readEntry(f, name, opts)
		if reason != "" {
			skipped = append(skipped, models.SkippedDocument{Filename: filename, Reason: reason})
			continue
		}

		documents = append(documents, models.RawCandidateDocument{
			Filename: filename,
			Content:  SanitizeText(text),
		})
	}

	return documents, skipped, nil
}

// readEntry returns the entry text, or a non-empty skip reason.
func readEntry(f *zip.File, name string, opts ArchiveOptions) (string, string) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Sprintf("failed to open entry: %v", err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(rc, opts.MaxEntryBytes+1))
	if err != nil {
		return "", fmt.Sprintf("failed to read entry: %v", err)
	}
	if n > opts.MaxEntryBytes {
		return "", fmt.Sprintf("file larger than %d bytes", opts.MaxEntryBytes)
	}

	return extractChecked(name, buf.Bytes(), opts)
}

// DocumentFromBytes applies the archive limits to a single uploaded file.
// A non-empty reason means the file was skipped.
func DocumentFromBytes(name string, data []byte, opts ArchiveOptions) (models.RawCandidateDocument, string) {
	opts = opts.withDefaults()

	if !IsSupported(name) {
		return models.RawCandidateDocument{}, "unsupported file type"
	}
	if int64(len(data)) > opts.MaxEntryBytes {
		return models.RawCandidateDocument{}, fmt.Sprintf("file larger than %d bytes", opts.MaxEntryBytes)
	}

	text, reason := extractChecked(name, data, opts)
	if reason != "" {
		return models.RawCandidateDocument{}, reason
	}
	return models.RawCandidateDocument{Filename: name, Content: SanitizeText(text)}, ""
}

func extractChecked(name string, data []byte, opts ArchiveOptions) (string, string) {
	if strings.EqualFold(path.Ext(name), ".pdf") {
		pages, err := PDFPageCount(data)
		if err != nil {
			return "", "corrupt PDF"
		}
		if pages > opts.MaxPDFPages {
			return "", fmt.Sprintf("PDF has %d pages (limit %d)", pages, opts.MaxPDFPages)
		}
	}

	text, err := ExtractBytes(name, data)
	if err != nil {
		return "", err.Error()
	}
	return text, ""
}
