package procedure

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearspan/lcaflow/internal/model"
)

func pdfMeta(id string) *model.FileMetadata {
	return &model.FileMetadata{
		FileID: id, JobID: "j1", OriginalName: id + ".pdf",
		Category: model.CategoryPDF, HasText: true,
	}
}

func TestPDFText_TextLayerWins(t *testing.T) {
	local := &scriptedExtractor{text: "Functional unit: 1 m2 of wall."}
	remote := &scriptedExtractor{err: eris.New("should not be called")}
	llm := &scriptedLLM{}

	proc := NewPDFText(local, remote, llm, "model-x", time.Minute)
	out, err := proc.Extract(context.Background(), pdfMeta("p1"), []byte("%PDF"))
	require.NoError(t, err)

	assert.Equal(t, 0.95, out.Confidence)
	assert.Equal(t, "text_layer", out.Structured["extraction_tier"])
	assert.Contains(t, out.Content, "Functional unit")
}

func TestPDFText_FallsBackToOCR(t *testing.T) {
	local := &scriptedExtractor{err: eris.New("no text layer")}
	remote := &scriptedExtractor{text: "OCR recovered text about GWP."}
	llm := &scriptedLLM{}

	proc := NewPDFText(local, remote, llm, "model-x", time.Minute)
	out, err := proc.Extract(context.Background(), pdfMeta("p2"), []byte("%PDF"))
	require.NoError(t, err)

	assert.Equal(t, 0.80, out.Confidence)
	assert.Equal(t, "ocr", out.Structured["extraction_tier"])
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "text_layer")
}

func TestPDFScanned_OCRFirst(t *testing.T) {
	local := &scriptedExtractor{text: "garbled"}
	remote := &scriptedExtractor{text: "Clean OCR text."}
	llm := &scriptedLLM{}

	proc := NewPDFScanned(local, remote, llm, "model-x", time.Minute)
	out, err := proc.Extract(context.Background(), pdfMeta("p3"), []byte("%PDF"))
	require.NoError(t, err)

	assert.Equal(t, 0.95, out.Confidence)
	assert.Equal(t, "ocr", out.Structured["extraction_tier"])
	assert.Equal(t, "Clean OCR text.", out.Content)
}

func TestPDF_ModelSalvageLastResort(t *testing.T) {
	local := &scriptedExtractor{err: eris.New("corrupt")}
	remote := &scriptedExtractor{err: eris.New("service rejected file")}
	llm := &scriptedLLM{script: []scriptedReply{
		{text: "Recovered: total GWP 120 kg CO2-eq [...] per declared unit."},
	}}

	proc := NewPDFText(local, remote, llm, "model-x", time.Minute)
	out, err := proc.Extract(context.Background(), pdfMeta("p4"),
		[]byte("%PDF-1.4 stream total GWP 120 kg CO2-eq endstream"))
	require.NoError(t, err)

	assert.Equal(t, 0.70, out.Confidence)
	assert.Equal(t, "model_salvage", out.Structured["extraction_tier"])
	assert.Contains(t, out.Content, "120 kg CO2-eq")
	assert.Len(t, out.Warnings, 2)
}

func TestPDFHybrid_StructuresTables(t *testing.T) {
	local := &scriptedExtractor{text: "Impact results: GWP 5.0 kg CO2-eq"}
	remote := &scriptedExtractor{}
	llm := &scriptedLLM{script: []scriptedReply{
		{text: `{"tables": [{"title": "Impacts", "headers": ["Category", "Value"], "rows": [["GWP", "5.0"]]}]}`},
	}}

	proc := NewPDFHybrid(local, remote, llm, "model-x", time.Minute)
	out, err := proc.Extract(context.Background(), pdfMeta("p5"), []byte("%PDF"))
	require.NoError(t, err)

	tables, ok := out.Structured["tables"].([]pdfTable)
	require.True(t, ok)
	require.Len(t, tables, 1)
	assert.Equal(t, "Impacts", tables[0].Title)
}

func TestPDFHybrid_StructuringFailureIsWarning(t *testing.T) {
	local := &scriptedExtractor{text: "Some text."}
	remote := &scriptedExtractor{}
	llm := &scriptedLLM{script: []scriptedReply{
		{err: eris.New("model rejected request")},
	}}

	proc := NewPDFHybrid(local, remote, llm, "model-x", time.Minute)
	out, err := proc.Extract(context.Background(), pdfMeta("p6"), []byte("%PDF"))
	require.NoError(t, err)

	assert.Equal(t, "Some text.", out.Content)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "table structuring failed")
}

func TestPrintableRuns(t *testing.T) {
	data := []byte("abc\x00\x01defghij\x02xy\x03readable fragment here")
	got := printableRuns(data, 1000)
	assert.Contains(t, got, "defghij")
	assert.Contains(t, got, "readable fragment here")
	assert.NotContains(t, got, "xy") // short runs dropped
}
