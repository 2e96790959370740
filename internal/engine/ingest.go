// Package engine orchestrates the analysis pipeline: ingestion, routing,
// dispatch, validation, synthesis, and assembly.
package engine

import (
	"archive/zip"
	"bytes"
	"context"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clearspan/lcaflow/internal/model"
	"github.com/clearspan/lcaflow/internal/objstore"
	"github.com/clearspan/lcaflow/internal/routing"
	"github.com/clearspan/lcaflow/internal/store"
)

// Ingestor accepts uploaded files into a job: it detects the content
// category, probes structural signals, scores complexity, and persists the
// raw bytes plus the metadata record.
type Ingestor struct {
	store   store.Store
	objects objstore.Store
}

// NewIngestor creates an Ingestor.
func NewIngestor(st store.Store, objects objstore.Store) *Ingestor {
	return &Ingestor{store: st, objects: objects}
}

// Ingest registers one file under jobID and returns its metadata.
func (ing *Ingestor) Ingest(ctx context.Context, jobID, filename string, data []byte) (*model.FileMetadata, error) {
	if len(data) == 0 {
		return nil, eris.Errorf("engine: %s is empty", filename)
	}

	meta := &model.FileMetadata{
		FileID:       uuid.NewString(),
		JobID:        jobID,
		OriginalName: filename,
		Category:     DetectCategory(filename, data),
		SizeBytes:    len(data),
		Status:       model.FileStatusPending,
		UploadedAt:   time.Now().UTC(),
	}
	probeSignals(meta, data)
	meta.ComplexityScore = routing.ComplexityScore(meta)

	meta.ObjectKey = objstore.RawKey(jobID, meta.FileID, filename)
	if err := ing.objects.Put(ctx, meta.ObjectKey, data); err != nil {
		return nil, eris.Wrapf(err, "engine: store raw bytes for %s", filename)
	}
	if err := ing.store.AddFile(ctx, meta); err != nil {
		return nil, eris.Wrapf(err, "engine: register %s", filename)
	}

	zap.L().Info("file ingested",
		zap.String("job_id", jobID),
		zap.String("file_id", meta.FileID),
		zap.String("category", string(meta.Category)),
		zap.Float64("complexity", meta.ComplexityScore),
	)
	return meta, nil
}

var extCategories = map[string]model.FileCategory{
	".csv":   model.CategoryCSV,
	".tsv":   model.CategoryCSV,
	".xlsx":  model.CategoryTabular,
	".xls":   model.CategoryTabular,
	".pdf":   model.CategoryPDF,
	".png":   model.CategoryImage,
	".jpg":   model.CategoryImage,
	".jpeg":  model.CategoryImage,
	".gif":   model.CategoryImage,
	".webp":  model.CategoryImage,
	".xmind": model.CategoryMindmapXMind,
	".mm":    model.CategoryMindmapFreeMind,
	".docx":  model.CategoryDocx,
	".pptx":  model.CategoryPptx,
	".txt":   model.CategoryText,
	".md":    model.CategoryText,
}

// DetectCategory resolves the file category from the extension, falling back
// to content sniffing when the extension is missing or unknown.
func DetectCategory(filename string, data []byte) model.FileCategory {
	if cat, ok := extCategories[strings.ToLower(filepath.Ext(filename))]; ok {
		return cat
	}
	return sniffCategory(data)
}

func sniffCategory(data []byte) model.FileCategory {
	switch {
	case bytes.HasPrefix(data, []byte("%PDF")):
		return model.CategoryPDF
	case bytes.HasPrefix(data, []byte("\x89PNG")),
		bytes.HasPrefix(data, []byte("\xff\xd8\xff")),
		bytes.HasPrefix(data, []byte("GIF8")):
		return model.CategoryImage
	case bytes.HasPrefix(data, []byte("PK\x03\x04")):
		return sniffZip(data)
	case utf8.Valid(data):
		return model.CategoryText
	default:
		return model.CategoryUnknown
	}
}

// sniffZip distinguishes the OOXML and XMind container formats by their
// well-known entries.
func sniffZip(data []byte) model.FileCategory {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return model.CategoryUnknown
	}
	for _, f := range r.File {
		switch {
		case strings.HasPrefix(f.Name, "xl/"):
			return model.CategoryTabular
		case strings.HasPrefix(f.Name, "word/"):
			return model.CategoryDocx
		case strings.HasPrefix(f.Name, "ppt/"):
			return model.CategoryPptx
		case f.Name == "content.json" || f.Name == "content.xml":
			return model.CategoryMindmapXMind
		}
	}
	return model.CategoryUnknown
}

var pdfPagePattern = regexp.MustCompile(`/Type\s*/Page[^s]`)

// probeSignals fills the structural flags routing depends on. PDF probing is
// heuristic, reading object markers from the raw bytes: the extraction
// procedures do the real parsing later, these signals only steer routing.
func probeSignals(meta *model.FileMetadata, data []byte) {
	switch meta.Category {
	case model.CategoryPDF:
		meta.HasText = bytes.Contains(data, []byte("/Font"))
		meta.HasEmbeddedImages = bytes.Contains(data, []byte("/Image")) ||
			bytes.Contains(data, []byte("/DCTDecode"))
		meta.IsScanned = !meta.HasText && meta.HasEmbeddedImages
		meta.HasTables = bytes.Contains(data, []byte("/Table"))
		meta.PageCount = len(pdfPagePattern.FindAll(data, -1))
	case model.CategoryTabular:
		meta.SheetCount = countSheets(data)
	case model.CategoryText, model.CategoryCSV:
		meta.HasText = true
	}
}

func countSheets(data []byte) int {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0
	}
	count := 0
	for _, f := range r.File {
		if strings.HasPrefix(f.Name, "xl/worksheets/") && strings.HasSuffix(f.Name, ".xml") {
			count++
		}
	}
	return count
}
