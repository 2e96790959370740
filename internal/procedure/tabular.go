package procedure

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/clearspan/lcaflow/internal/model"
	"github.com/clearspan/lcaflow/internal/registry"
	"github.com/clearspan/lcaflow/internal/sandbox"
	"github.com/clearspan/lcaflow/pkg/anthropic"
)

const tabularCodegenSystem = `You write short Python scripts that analyze spreadsheets for life cycle
assessment (LCA) studies. The script receives the file path as sys.argv[1].
It must print a markdown summary to stdout: sheet names, column headers,
row counts, any functional unit or impact category data found (GWP, AP, EP,
ODP, POCP and similar), units of measure, and notable numeric totals.
Use only pandas, openpyxl and the standard library. Print nothing else.
Reply with a single Python code block.`

// cannedTabularScript is the fixed fallback script: a plain structural dump
// with no model involvement.
const cannedTabularScript = `import sys
import pandas as pd

path = sys.argv[1]
sheets = pd.read_excel(path, sheet_name=None) if not path.endswith(".csv") else {"data": pd.read_csv(path)}
for name, df in sheets.items():
    print(f"## Sheet: {name}")
    print(f"Rows: {len(df)}, Columns: {len(df.columns)}")
    print("Headers: " + ", ".join(str(c) for c in df.columns))
    print(df.head(20).to_markdown(index=False))
    print()
`

// Tabular extracts spreadsheet and CSV content through a three-tier chain:
// model-generated analysis code in the sandbox, a canned sandbox script,
// then a local structural parse.
type Tabular struct {
	llm     anthropic.Client
	runner  sandbox.Runner
	modelID string
	timeout time.Duration
}

// NewTabular creates the tabular procedure.
func NewTabular(llm anthropic.Client, runner sandbox.Runner, modelID string, timeout time.Duration) *Tabular {
	return &Tabular{llm: llm, runner: runner, modelID: modelID, timeout: timeout}
}

func (t *Tabular) ID() string { return registry.ProcTabular }

func (t *Tabular) Extract(ctx context.Context, meta *model.FileMetadata, data []byte) (*model.NormalizedOutput, error) {
	start := time.Now()

	tiers := []Tier{
		{
			Name:       "llm_codegen",
			Confidence: Tier1Confidence,
			Timeout:    t.timeout,
			Run: func(ctx context.Context) (*TierResult, error) {
				return t.runGenerated(ctx, meta, data)
			},
		},
		{
			Name:       "canned_script",
			Confidence: Tier2Confidence,
			Timeout:    t.timeout,
			Run: func(ctx context.Context) (*TierResult, error) {
				return t.runSandbox(ctx, cannedTabularScript, meta, data)
			},
		},
		{
			Name:       "local_parse",
			Confidence: Tier3Confidence,
			Run: func(ctx context.Context) (*TierResult, error) {
				return localTabularParse(meta, data)
			},
		},
	}

	res, err := RunLadder(ctx, meta.FileID, tiers)
	if err != nil {
		return nil, err
	}

	return outputFromLadder(meta, t.ID(), res, start), nil
}

func (t *Tabular) runGenerated(ctx context.Context, meta *model.FileMetadata, data []byte) (*TierResult, error) {
	resp, err := t.llm.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     t.modelID,
		MaxTokens: 2048,
		System:    anthropic.BuildCachedSystemBlocks(tabularCodegenSystem),
		Messages: []anthropic.Message{{
			Role: "user",
			Content: fmt.Sprintf("Write the analysis script for %q (%d bytes, %d sheets).",
				meta.OriginalName, meta.SizeBytes, meta.SheetCount),
		}},
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(t.modelID, "tabular_codegen")

	script := extractCodeBlock(resp.Text())
	if script == "" {
		return nil, eris.New("tabular: model response contained no code block")
	}
	return t.runSandbox(ctx, script, meta, data)
}

func (t *Tabular) runSandbox(ctx context.Context, script string, meta *model.FileMetadata, data []byte) (*TierResult, error) {
	res, err := t.runner.Execute(ctx, script, meta.OriginalName, data)
	if err != nil {
		return nil, err
	}
	if !res.Succeeded() {
		return nil, eris.Errorf("tabular: script exited %d: %s", res.ExitCode, truncate(res.Stderr, 500))
	}
	return &TierResult{Content: res.Stdout}, nil
}

// localTabularParse reads the file directly: CSV via encoding/csv, anything
// else as xlsx.
func localTabularParse(meta *model.FileMetadata, data []byte) (*TierResult, error) {
	if meta.Category == model.CategoryCSV || strings.HasSuffix(strings.ToLower(meta.OriginalName), ".csv") {
		return parseCSV(data)
	}
	return parseXLSX(data)
}

func parseCSV(data []byte) (*TierResult, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	var sb strings.Builder
	rows := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "tabular: parse csv")
		}
		if rows == 0 {
			sb.WriteString("Headers: " + strings.Join(record, ", ") + "\n")
		} else if rows <= 50 {
			sb.WriteString("| " + strings.Join(record, " | ") + " |\n")
		}
		rows++
	}
	if rows == 0 {
		return nil, eris.New("tabular: empty csv")
	}
	sb.WriteString(fmt.Sprintf("\nTotal rows: %d\n", rows))
	return &TierResult{
		Content:    sb.String(),
		Structured: map[string]any{"rows": rows},
	}, nil
}

func parseXLSX(data []byte) (*TierResult, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, eris.Wrap(err, "tabular: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("tabular: workbook has no sheets")
	}

	var sb strings.Builder
	sheetNames := make([]string, 0, len(f.Sheets))
	for _, sheet := range f.Sheets {
		sheetNames = append(sheetNames, sheet.Name)
		sb.WriteString("## Sheet: " + sheet.Name + "\n")
		sb.WriteString(fmt.Sprintf("Rows: %d\n", len(sheet.Rows)))
		for i, row := range sheet.Rows {
			if i >= 50 {
				sb.WriteString("...\n")
				break
			}
			cells := make([]string, 0, len(row.Cells))
			for _, c := range row.Cells {
				cells = append(cells, c.String())
			}
			sb.WriteString("| " + strings.Join(cells, " | ") + " |\n")
		}
		sb.WriteString("\n")
	}
	return &TierResult{
		Content:    sb.String(),
		Structured: map[string]any{"sheets": sheetNames},
	}, nil
}

// outputFromLadder builds the common NormalizedOutput skeleton from a chain
// result. Normalization fills in word counts and persists content.
func outputFromLadder(meta *model.FileMetadata, procID string, res *LadderResult, start time.Time) *model.NormalizedOutput {
	structured := res.Structured
	if structured == nil {
		structured = map[string]any{}
	}
	structured["extraction_tier"] = res.TierName

	return &model.NormalizedOutput{
		FileID:            meta.FileID,
		JobID:             meta.JobID,
		Filename:          meta.OriginalName,
		Category:          meta.Category,
		Procedure:         procID,
		Content:           res.Content,
		Structured:        structured,
		LCARelevant:       true,
		Confidence:        res.Confidence,
		ProcessingSeconds: time.Since(start).Seconds(),
		Warnings:          res.Warnings,
	}
}

// extractCodeBlock pulls the body of the first fenced code block.
func extractCodeBlock(text string) string {
	idx := strings.Index(text, "```")
	if idx < 0 {
		return ""
	}
	rest := text[idx+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		// Drop the language tag line.
		if lang := strings.TrimSpace(rest[:nl]); lang == "" || !strings.ContainsAny(lang, " \t") {
			rest = rest[nl+1:]
		}
	}
	if end := strings.Index(rest, "```"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// Back up to a rune boundary so the cut never produces invalid UTF-8.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
