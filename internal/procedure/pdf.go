package procedure

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"

	"github.com/clearspan/lcaflow/internal/model"
	"github.com/clearspan/lcaflow/internal/ocr"
	"github.com/clearspan/lcaflow/internal/registry"
	"github.com/clearspan/lcaflow/pkg/anthropic"
)

const pdfSalvageSystem = `You reconstruct readable document content from fragments recovered out of a
damaged or image-heavy PDF. The fragments come from an LCA (life cycle
assessment) report. Reassemble coherent text, keep all numbers and units
exactly as found, and mark unreadable gaps with [...]. Reply with the
reconstructed text only.`

const pdfStructureSystem = `You extract tabular data from LCA report text. Given document text, return
a JSON object {"tables": [{"title": str, "headers": [str], "rows": [[str]]}]}
covering every table you can identify (impact results, inventory data, stage
breakdowns). Return {"tables": []} if there are none. Reply with JSON only.`

// PDF extracts PDF content through a tier chain whose order depends on the
// routed variant: text-layer first for digital PDFs, OCR first for scans.
// The hybrid variant adds a model pass that lifts tables into structured
// form.
type PDF struct {
	id      string
	local   ocr.Extractor // text layer via pdftotext
	remote  ocr.Extractor // OCR service
	llm     anthropic.Client
	modelID string
	timeout time.Duration
}

// NewPDFText creates the procedure for PDFs with a usable text layer.
func NewPDFText(local, remote ocr.Extractor, llm anthropic.Client, modelID string, timeout time.Duration) *PDF {
	return &PDF{id: registry.ProcPDFText, local: local, remote: remote, llm: llm, modelID: modelID, timeout: timeout}
}

// NewPDFHybrid creates the procedure for PDFs mixing text with tables or
// embedded images.
func NewPDFHybrid(local, remote ocr.Extractor, llm anthropic.Client, modelID string, timeout time.Duration) *PDF {
	return &PDF{id: registry.ProcPDFHybrid, local: local, remote: remote, llm: llm, modelID: modelID, timeout: timeout}
}

// NewPDFScanned creates the procedure for scanned PDFs with no text layer.
func NewPDFScanned(local, remote ocr.Extractor, llm anthropic.Client, modelID string, timeout time.Duration) *PDF {
	return &PDF{id: registry.ProcPDFScanned, local: local, remote: remote, llm: llm, modelID: modelID, timeout: timeout}
}

func (p *PDF) ID() string { return p.id }

func (p *PDF) Extract(ctx context.Context, meta *model.FileMetadata, data []byte) (*model.NormalizedOutput, error) {
	start := time.Now()

	textTier := Tier{
		Name:    "text_layer",
		Timeout: p.timeout,
		Run: func(ctx context.Context) (*TierResult, error) {
			text, err := p.local.ExtractText(ctx, data)
			if err != nil {
				return nil, err
			}
			return &TierResult{Content: text}, nil
		},
	}
	ocrTier := Tier{
		Name:    "ocr",
		Timeout: p.timeout,
		Run: func(ctx context.Context) (*TierResult, error) {
			text, err := p.remote.ExtractText(ctx, data)
			if err != nil {
				return nil, err
			}
			return &TierResult{Content: text}, nil
		},
	}
	salvageTier := Tier{
		Name:       "model_salvage",
		Confidence: Tier3Confidence,
		Timeout:    p.timeout,
		Run: func(ctx context.Context) (*TierResult, error) {
			return p.salvage(ctx, data)
		},
	}

	var tiers []Tier
	if p.id == registry.ProcPDFScanned {
		ocrTier.Confidence = Tier1Confidence
		textTier.Confidence = Tier2Confidence
		tiers = []Tier{ocrTier, textTier, salvageTier}
	} else {
		textTier.Confidence = Tier1Confidence
		ocrTier.Confidence = Tier2Confidence
		tiers = []Tier{textTier, ocrTier, salvageTier}
	}

	res, err := RunLadder(ctx, meta.FileID, tiers)
	if err != nil {
		return nil, err
	}

	out := outputFromLadder(meta, p.id, res, start)

	// Hybrid PDFs get a structuring pass over the extracted text. A failure
	// here degrades to a warning; the text content stands on its own.
	if p.id == registry.ProcPDFHybrid {
		if tables, err := p.structureTables(ctx, res.Content); err != nil {
			out.Warnings = append(out.Warnings, "table structuring failed: "+err.Error())
		} else if len(tables) > 0 {
			out.Structured["tables"] = tables
		}
	}

	out.ProcessingSeconds = time.Since(start).Seconds()
	return out, nil
}

func (p *PDF) salvage(ctx context.Context, data []byte) (*TierResult, error) {
	fragments := printableRuns(data, 8000)
	if fragments == "" {
		return nil, eris.New("pdf: no recoverable text fragments")
	}

	resp, err := p.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     p.modelID,
		MaxTokens: 4096,
		System:    anthropic.BuildCachedSystemBlocks(pdfSalvageSystem),
		Messages:  []anthropic.Message{{Role: "user", Content: fragments}},
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(p.modelID, "pdf_salvage")

	return &TierResult{Content: strings.TrimSpace(resp.Text())}, nil
}

type pdfTable struct {
	Title   string     `json:"title"`
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

func (p *PDF) structureTables(ctx context.Context, content string) ([]pdfTable, error) {
	if len(content) > 16000 {
		content = content[:16000]
	}
	resp, err := p.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     p.modelID,
		MaxTokens: 4096,
		System:    anthropic.BuildCachedSystemBlocks(pdfStructureSystem),
		Messages:  []anthropic.Message{{Role: "user", Content: content}},
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(p.modelID, "pdf_structure")

	var parsed struct {
		Tables []pdfTable `json:"tables"`
	}
	if err := anthropic.UnmarshalResponse(resp.Text(), &parsed); err != nil {
		return nil, err
	}
	return parsed.Tables, nil
}

// printableRuns collects runs of printable characters from raw bytes, up to
// maxLen of output. Runs shorter than four characters are noise and skipped.
func printableRuns(data []byte, maxLen int) string {
	var sb strings.Builder
	var run []byte
	flush := func() {
		if len(run) >= 4 {
			sb.Write(run)
			sb.WriteByte('\n')
		}
		run = run[:0]
	}
	for _, b := range data {
		if sb.Len() >= maxLen {
			break
		}
		r := rune(b)
		if r < 128 && (unicode.IsPrint(r) || r == '\t') {
			run = append(run, b)
		} else {
			flush()
		}
	}
	flush()
	return strings.TrimSpace(sb.String())
}
