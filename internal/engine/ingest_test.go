package engine

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearspan/lcaflow/internal/model"
	"github.com/clearspan/lcaflow/internal/objstore"
	"github.com/clearspan/lcaflow/internal/store"
)

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestDetectCategory_ByExtension(t *testing.T) {
	tests := []struct {
		filename string
		want     model.FileCategory
	}{
		{"inventory.CSV", model.CategoryCSV},
		{"inventory.xlsx", model.CategoryTabular},
		{"report.pdf", model.CategoryPDF},
		{"boundary.PNG", model.CategoryImage},
		{"process.xmind", model.CategoryMindmapXMind},
		{"process.mm", model.CategoryMindmapFreeMind},
		{"notes.docx", model.CategoryDocx},
		{"deck.pptx", model.CategoryPptx},
		{"readme.md", model.CategoryText},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectCategory(tt.filename, []byte("x")))
		})
	}
}

func TestDetectCategory_Sniffing(t *testing.T) {
	assert.Equal(t, model.CategoryPDF, DetectCategory("blob", []byte("%PDF-1.7 ...")))
	assert.Equal(t, model.CategoryImage, DetectCategory("blob", []byte("\x89PNG\r\n")))
	assert.Equal(t, model.CategoryText, DetectCategory("blob", []byte("plain notes")))
	assert.Equal(t, model.CategoryUnknown, DetectCategory("blob", []byte{0x00, 0xff, 0xfe, 0x01}))

	docx := buildZip(t, map[string]string{"word/document.xml": "<w/>"})
	assert.Equal(t, model.CategoryDocx, DetectCategory("blob", docx))

	xmind := buildZip(t, map[string]string{"content.json": "[]"})
	assert.Equal(t, model.CategoryMindmapXMind, DetectCategory("blob", xmind))
}

func TestProbeSignals_PDF(t *testing.T) {
	textPDF := &model.FileMetadata{Category: model.CategoryPDF}
	probeSignals(textPDF, []byte("%PDF /Font /Type /Page x /Type /Page y"))
	assert.True(t, textPDF.HasText)
	assert.False(t, textPDF.IsScanned)
	assert.Equal(t, 2, textPDF.PageCount)

	scanned := &model.FileMetadata{Category: model.CategoryPDF}
	probeSignals(scanned, []byte("%PDF /Image /DCTDecode /Type /Page x"))
	assert.False(t, scanned.HasText)
	assert.True(t, scanned.IsScanned)
	assert.True(t, scanned.HasEmbeddedImages)
}

func TestProbeSignals_SheetCount(t *testing.T) {
	xlsx := buildZip(t, map[string]string{
		"xl/workbook.xml":          "<wb/>",
		"xl/worksheets/sheet1.xml": "<ws/>",
		"xl/worksheets/sheet2.xml": "<ws/>",
	})
	meta := &model.FileMetadata{Category: model.CategoryTabular}
	probeSignals(meta, xlsx)
	assert.Equal(t, 2, meta.SheetCount)
}

func TestIngest_PersistsMetadataAndBytes(t *testing.T) {
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	objects, err := objstore.NewFSStore(t.TempDir())
	require.NoError(t, err)

	job, err := st.CreateJob(ctx, "steel plant study")
	require.NoError(t, err)

	ing := NewIngestor(st, objects)
	meta, err := ing.Ingest(ctx, job.ID, "report.pdf", []byte("%PDF /Font /Type /Page x"))
	require.NoError(t, err)

	assert.Equal(t, model.CategoryPDF, meta.Category)
	assert.Equal(t, model.FileStatusPending, meta.Status)
	assert.Positive(t, meta.ComplexityScore)

	raw, err := objects.Get(ctx, meta.ObjectKey)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "%PDF")

	stored, err := st.GetFile(ctx, meta.FileID)
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", stored.OriginalName)
}

func TestIngest_RejectsEmptyFile(t *testing.T) {
	st, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	objects, err := objstore.NewFSStore(t.TempDir())
	require.NoError(t, err)

	ing := NewIngestor(st, objects)
	_, err = ing.Ingest(context.Background(), "j1", "empty.pdf", nil)
	assert.Error(t, err)
}
