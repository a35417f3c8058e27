package ingestion

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/fmuoria/cv-shortlist-agent/internal/models"
)

// MaxRemoteArchiveBytes bounds an object downloaded from Cloud Storage
const MaxRemoteArchiveBytes = 512 << 20

// LoadSource reads the CVs of a folder, a local ZIP archive, or a gs:// object
// that is either a ZIP or a single CV.
func LoadSource(ctx context.Context, source string, opts ArchiveOptions) ([]models.RawCandidateDocument, []models.SkippedDocument, error) {
	if IsGCSURI(source) {
		data, err := FetchGCSObject(ctx, source, MaxRemoteArchiveBytes)
		if err != nil {
			return nil, nil, err
		}
		if isZIP(source) {
			return ReadArchive(bytes.NewReader(data), int64(len(data)), opts)
		}

		name := path.Base(source)
		doc, reason := DocumentFromBytes(name, data, opts)
		if reason != "" {
			return nil, []models.SkippedDocument{{Filename: name, Reason: reason}}, nil
		}
		return []models.RawCandidateDocument{doc}, nil, nil
	}

	info, err := os.Stat(source)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read source: %w", err)
	}

	if info.IsDir() {
		return NewFileHandler(source).LoadDocuments()
	}

	if !isZIP(source) {
		return nil, nil, fmt.Errorf("%s is neither a folder nor a .zip archive", source)
	}

	f, err := os.Open(source)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer f.Close()

	return ReadArchive(f, info.Size(), opts)
}

func isZIP(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".zip")
}
