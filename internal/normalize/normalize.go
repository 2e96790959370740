// Package normalize canonicalizes raw extraction results into the shape
// consumed by validation and synthesis, and persists the parsed artifacts.
// Every transformation here is idempotent: normalizing an already-normalized
// output changes nothing.
package normalize

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clearspan/lcaflow/internal/model"
	"github.com/clearspan/lcaflow/internal/objstore"
	"github.com/clearspan/lcaflow/internal/resilience"
)

// Normalizer cleans extraction outputs and writes parsed artifacts to the
// object store.
type Normalizer struct {
	objects objstore.Store
}

// New creates a Normalizer.
func New(objects objstore.Store) *Normalizer {
	return &Normalizer{objects: objects}
}

// Normalize canonicalizes out in place and persists its content and
// structured payload under parsed/{job}/{file}/.
func (n *Normalizer) Normalize(ctx context.Context, out *model.NormalizedOutput) error {
	Canonicalize(out)

	// Persistence failures get one retry after a short delay, then surface.
	retryCfg := resilience.StoreRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("objstore", "persist parsed")

	err := resilience.Do(ctx, retryCfg, func(ctx context.Context) error {
		key := objstore.ParsedKey(out.JobID, out.FileID)
		if err := n.objects.Put(ctx, key, []byte(out.Content)); err != nil {
			return err
		}
		if len(out.Structured) > 0 {
			return objstore.PutJSON(ctx, n.objects, objstore.ParsedStructuredKey(out.JobID, out.FileID), out.Structured)
		}
		return nil
	})
	if err != nil {
		return eris.Wrapf(err, "normalize: persist %s", out.FileID)
	}

	zap.L().Debug("output normalized",
		zap.String("file_id", out.FileID),
		zap.Int("word_count", out.WordCount),
		zap.Float64("confidence", out.Confidence),
	)
	return nil
}

// Canonicalize applies the in-memory normalization steps: trim, table
// separator insertion, consecutive duplicate-line collapse, word count,
// confidence clamp.
func Canonicalize(out *model.NormalizedOutput) {
	content := strings.TrimSpace(out.Content)
	content = ensureTableSeparators(content)
	content = collapseDuplicateLines(content)
	out.Content = content
	out.WordCount = len(strings.Fields(content))

	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
}

// ensureTableSeparators inserts a markdown separator row after any table
// header row that lacks one, so downstream markdown rendering stays intact.
func ensureTableSeparators(content string) string {
	lines := strings.Split(content, "\n")
	var result []string
	for i, line := range lines {
		result = append(result, line)
		if !isTableRow(line) {
			continue
		}
		// A table row starts a table if the previous line is not a table row.
		if i > 0 && isTableRow(lines[i-1]) {
			continue
		}
		if i+1 < len(lines) && isSeparatorRow(lines[i+1]) {
			continue
		}
		// Header row without a separator: only insert when a data row
		// follows, a lone pipe line is not a table.
		if i+1 < len(lines) && isTableRow(lines[i+1]) {
			result = append(result, separatorFor(line))
		}
	}
	return strings.Join(result, "\n")
}

func isTableRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "|") && strings.HasSuffix(trimmed, "|") && len(trimmed) > 2
}

func isSeparatorRow(line string) bool {
	trimmed := strings.TrimSpace(line)
	if !isTableRow(trimmed) {
		return false
	}
	inner := strings.Trim(trimmed, "|")
	for _, cell := range strings.Split(inner, "|") {
		c := strings.TrimSpace(cell)
		if c == "" {
			return false
		}
		for _, r := range c {
			if r != '-' && r != ':' {
				return false
			}
		}
	}
	return true
}

func separatorFor(headerRow string) string {
	cols := strings.Count(strings.Trim(strings.TrimSpace(headerRow), "|"), "|") + 1
	cells := make([]string, cols)
	for i := range cells {
		cells[i] = "---"
	}
	return "| " + strings.Join(cells, " | ") + " |"
}

// collapseDuplicateLines drops consecutive identical non-empty lines,
// a common artifact of OCR on repeated headers and footers.
func collapseDuplicateLines(content string) string {
	lines := strings.Split(content, "\n")
	var result []string
	var prev string
	for i, line := range lines {
		if i > 0 && line == prev && strings.TrimSpace(line) != "" {
			continue
		}
		result = append(result, line)
		prev = line
	}
	return strings.Join(result, "\n")
}
