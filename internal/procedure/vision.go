package procedure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/clearspan/lcaflow/internal/model"
	"github.com/clearspan/lcaflow/internal/registry"
	"github.com/clearspan/lcaflow/internal/resilience"
	"github.com/clearspan/lcaflow/pkg/anthropic"
)

const visionClassifySystem = `You classify images from LCA (life cycle assessment) document sets.
Given an image, return JSON:
{"image_type": one of "process_flow_diagram", "impact_chart", "data_table",
"system_boundary_diagram", "photo", "other",
"confidence": integer 1-5 where 5 is certain,
"lca_relevant": boolean}
Reply with JSON only.`

const visionExtractSystem = `You extract content from images in LCA document sets. Describe the image
precisely for a downstream analysis step: transcribe all visible text,
numbers and units exactly, describe chart axes and series values, list
process-flow nodes and arrows, and reproduce tables as markdown. Do not
interpret or editorialize.`

// Vision extracts image content in two passes: a classification call with
// an integer 1-5 confidence, then a detail extraction call. A classification
// below the configured minimum keeps the extraction but flags it for review.
type Vision struct {
	llm           anthropic.Client
	modelID       string
	minConfidence int
	timeout       time.Duration
}

// NewVision creates the vision procedure.
func NewVision(llm anthropic.Client, modelID string, minConfidence int, timeout time.Duration) *Vision {
	if minConfidence <= 0 {
		minConfidence = 3
	}
	return &Vision{llm: llm, modelID: modelID, minConfidence: minConfidence, timeout: timeout}
}

func (v *Vision) ID() string { return registry.ProcVision }

type visionClassification struct {
	ImageType   string `json:"image_type"`
	Confidence  int    `json:"confidence"`
	LCARelevant bool   `json:"lca_relevant"`
}

func (v *Vision) Extract(ctx context.Context, meta *model.FileMetadata, data []byte) (*model.NormalizedOutput, error) {
	start := time.Now()
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	mediaType := imageMediaType(meta.OriginalName)

	cls, err := v.classify(ctx, mediaType, data)
	if err != nil {
		return nil, eris.Wrapf(err, "vision: classify %s", meta.FileID)
	}

	content, err := v.extractDetail(ctx, mediaType, data, cls.ImageType)
	if err != nil {
		return nil, eris.Wrapf(err, "vision: extract %s", meta.FileID)
	}

	out := &model.NormalizedOutput{
		FileID:    meta.FileID,
		JobID:     meta.JobID,
		Filename:  meta.OriginalName,
		Category:  meta.Category,
		Procedure: v.ID(),
		Content:   content,
		Structured: map[string]any{
			"image_type":                cls.ImageType,
			"classification_confidence": cls.Confidence,
		},
		LCARelevant:       cls.LCARelevant,
		Confidence:        float64(cls.Confidence) / 5.0,
		ProcessingSeconds: time.Since(start).Seconds(),
	}

	if cls.Confidence < v.minConfidence {
		out.LowConfidenceUnits = []int{0}
		out.Warnings = append(out.Warnings,
			fmt.Sprintf("classification confidence %d below minimum %d, flagged for review",
				cls.Confidence, v.minConfidence))
		zap.L().Warn("low-confidence image classification",
			zap.String("file_id", meta.FileID),
			zap.Int("confidence", cls.Confidence),
		)
	}

	return out, nil
}

func (v *Vision) classify(ctx context.Context, mediaType string, data []byte) (*visionClassification, error) {
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("vision", "classify")
	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return v.llm.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     v.modelID,
			MaxTokens: 256,
			System:    anthropic.BuildCachedSystemBlocks(visionClassifySystem),
			Messages: []anthropic.Message{{
				Role:    "user",
				Content: "Classify this image.",
				Images:  []anthropic.ImageBlock{{MediaType: mediaType, Data: data}},
			}},
		})
	})
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(v.modelID, "vision_classify")

	var cls visionClassification
	if err := anthropic.UnmarshalResponse(resp.Text(), &cls); err != nil {
		return nil, err
	}
	if cls.Confidence < 1 || cls.Confidence > 5 {
		return nil, eris.Errorf("vision: confidence %d outside 1-5", cls.Confidence)
	}
	return &cls, nil
}

func (v *Vision) extractDetail(ctx context.Context, mediaType string, data []byte, imageType string) (string, error) {
	retryCfg := resilience.DefaultRetryConfig()
	retryCfg.OnRetry = resilience.RetryLogger("vision", "extract")
	resp, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return v.llm.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     v.modelID,
			MaxTokens: 4096,
			System:    anthropic.BuildCachedSystemBlocks(visionExtractSystem),
			Messages: []anthropic.Message{{
				Role:    "user",
				Content: "This image was classified as: " + imageType + ". Extract its content.",
				Images:  []anthropic.ImageBlock{{MediaType: mediaType, Data: data}},
			}},
		})
	})
	if err != nil {
		return "", err
	}
	resp.Usage.LogCost(v.modelID, "vision_extract")

	content := strings.TrimSpace(resp.Text())
	if content == "" {
		return "", eris.New("vision: empty extraction response")
	}
	return content, nil
}

func imageMediaType(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
