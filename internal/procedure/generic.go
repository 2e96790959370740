package procedure

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/clearspan/lcaflow/internal/model"
	"github.com/clearspan/lcaflow/internal/registry"
)

// Generic extracts plain text from docx, pptx and text files. It is the
// routing fallback for unknown categories.
type Generic struct{}

// NewGeneric creates the generic procedure.
func NewGeneric() *Generic { return &Generic{} }

func (g *Generic) ID() string { return registry.ProcGeneric }

func (g *Generic) Extract(ctx context.Context, meta *model.FileMetadata, data []byte) (*model.NormalizedOutput, error) {
	start := time.Now()

	var content string
	var err error
	lower := strings.ToLower(meta.OriginalName)
	switch {
	case meta.Category == model.CategoryDocx || strings.HasSuffix(lower, ".docx"):
		content, err = extractDocx(data)
	case meta.Category == model.CategoryPptx || strings.HasSuffix(lower, ".pptx"):
		content, err = extractPptx(data)
	default:
		if !utf8.Valid(data) {
			return nil, eris.Errorf("generic: %s is not readable text", meta.FileID)
		}
		content = string(data)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "generic: extract %s", meta.FileID)
	}
	if strings.TrimSpace(content) == "" {
		return nil, eris.Errorf("generic: %s produced no text", meta.FileID)
	}

	return &model.NormalizedOutput{
		FileID:            meta.FileID,
		JobID:             meta.JobID,
		Filename:          meta.OriginalName,
		Category:          meta.Category,
		Procedure:         g.ID(),
		Content:           content,
		LCARelevant:       true,
		Confidence:        Tier1Confidence,
		ProcessingSeconds: time.Since(start).Seconds(),
	}, nil
}

// extractDocx pulls paragraph text out of word/document.xml.
func extractDocx(data []byte) (string, error) {
	doc, err := readZipEntry(data, "word/document.xml")
	if err != nil {
		return "", err
	}
	return collectXMLText(doc, "t", "p"), nil
}

// extractPptx concatenates text runs from every slide, in slide order.
func extractPptx(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", eris.Wrap(err, "open pptx archive")
	}

	var slides []string
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "ppt/slides/slide") && strings.HasSuffix(f.Name, ".xml") {
			slides = append(slides, f.Name)
		}
	}
	if len(slides) == 0 {
		return "", eris.New("pptx archive has no slides")
	}
	sort.Strings(slides)

	var sb strings.Builder
	for _, name := range slides {
		raw, err := readZipEntry(data, name)
		if err != nil {
			return "", err
		}
		sb.WriteString(collectXMLText(raw, "t", "p"))
		sb.WriteString("\n\n")
	}
	return sb.String(), nil
}

func readZipEntry(data []byte, name string) ([]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, eris.Wrap(err, "open archive")
	}
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, eris.Wrapf(err, "open %s", name)
			}
			defer rc.Close()
			raw, err := io.ReadAll(rc)
			if err != nil {
				return nil, eris.Wrapf(err, "read %s", name)
			}
			return raw, nil
		}
	}
	return nil, eris.Errorf("archive entry %s not found", name)
}

// collectXMLText walks an OOXML document collecting character data inside
// textElem elements and inserting line breaks at paraElem boundaries.
func collectXMLText(raw []byte, textElem, paraElem string) string {
	dec := xml.NewDecoder(bytes.NewReader(raw))
	var sb strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == textElem {
				inText = true
			}
		case xml.EndElement:
			if t.Name.Local == textElem {
				inText = false
			}
			if t.Name.Local == paraElem {
				sb.WriteString("\n")
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return strings.TrimSpace(sb.String())
}
