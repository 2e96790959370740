package procedure

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"io"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/clearspan/lcaflow/internal/model"
	"github.com/clearspan/lcaflow/internal/registry"
)

// Mindmap converts XMind and FreeMind files into a markdown outline. The
// parse is fully deterministic, so a success always carries the top
// confidence band.
type Mindmap struct{}

// NewMindmap creates the mindmap procedure.
func NewMindmap() *Mindmap { return &Mindmap{} }

func (m *Mindmap) ID() string { return registry.ProcMindmap }

func (m *Mindmap) Extract(ctx context.Context, meta *model.FileMetadata, data []byte) (*model.NormalizedOutput, error) {
	start := time.Now()

	var outline string
	var err error
	switch meta.Category {
	case model.CategoryMindmapXMind:
		outline, err = parseXMind(data)
	case model.CategoryMindmapFreeMind:
		outline, err = parseFreeMind(data)
	default:
		// Routed here without a known mindmap category; try both.
		outline, err = parseXMind(data)
		if err != nil {
			outline, err = parseFreeMind(data)
		}
	}
	if err != nil {
		return nil, eris.Wrapf(err, "mindmap: parse %s", meta.FileID)
	}
	if strings.TrimSpace(outline) == "" {
		return nil, eris.Errorf("mindmap: %s produced an empty outline", meta.FileID)
	}

	return &model.NormalizedOutput{
		FileID:            meta.FileID,
		JobID:             meta.JobID,
		Filename:          meta.OriginalName,
		Category:          meta.Category,
		Procedure:         m.ID(),
		Content:           outline,
		Structured:        map[string]any{"format": "outline"},
		LCARelevant:       true,
		Confidence:        Tier1Confidence,
		ProcessingSeconds: time.Since(start).Seconds(),
	}, nil
}

// xmindNode is the topic shape inside content.json (XMind 2020+).
type xmindNode struct {
	Title    string `json:"title"`
	Children struct {
		Attached []xmindNode `json:"attached"`
	} `json:"children"`
}

type xmindSheet struct {
	Title     string    `json:"title"`
	RootTopic xmindNode `json:"rootTopic"`
}

func parseXMind(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", eris.Wrap(err, "open xmind archive")
	}

	for _, f := range zr.File {
		if f.Name != "content.json" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", eris.Wrap(err, "open content.json")
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", eris.Wrap(err, "read content.json")
		}

		var sheets []xmindSheet
		if err := json.Unmarshal(raw, &sheets); err != nil {
			return "", eris.Wrap(err, "decode content.json")
		}

		var sb strings.Builder
		for _, sheet := range sheets {
			if sheet.Title != "" {
				sb.WriteString("# " + sheet.Title + "\n")
			}
			writeXMindOutline(&sb, sheet.RootTopic, 0)
		}
		return sb.String(), nil
	}
	return "", eris.New("xmind archive has no content.json")
}

func writeXMindOutline(sb *strings.Builder, node xmindNode, depth int) {
	if node.Title != "" {
		sb.WriteString(strings.Repeat("  ", depth) + "- " + node.Title + "\n")
	}
	for _, child := range node.Children.Attached {
		writeXMindOutline(sb, child, depth+1)
	}
}

// freeMindNode is the <node> element of a FreeMind .mm file.
type freeMindNode struct {
	Text     string         `xml:"TEXT,attr"`
	Children []freeMindNode `xml:"node"`
}

type freeMindMap struct {
	Root freeMindNode `xml:"node"`
}

func parseFreeMind(data []byte) (string, error) {
	var m freeMindMap
	if err := xml.Unmarshal(data, &m); err != nil {
		return "", eris.Wrap(err, "decode freemind xml")
	}
	var sb strings.Builder
	writeFreeMindOutline(&sb, m.Root, 0)
	return sb.String(), nil
}

func writeFreeMindOutline(sb *strings.Builder, node freeMindNode, depth int) {
	if node.Text != "" {
		sb.WriteString(strings.Repeat("  ", depth) + "- " + node.Text + "\n")
	}
	for _, child := range node.Children {
		writeFreeMindOutline(sb, child, depth+1)
	}
}
