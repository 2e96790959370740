package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/clearspan/lcaflow/internal/resilience"
)

// RemoteOCR extracts text from PDFs via an HTTP OCR service that accepts a
// base64 document and returns per-page markdown.
type RemoteOCR struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewRemoteOCR creates a RemoteOCR extractor.
func NewRemoteOCR(endpoint, apiKey string) *RemoteOCR {
	return &RemoteOCR{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 2 * time.Minute},
	}
}

type remoteOCRRequest struct {
	Document remoteOCRDocument `json:"document"`
}

type remoteOCRDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type remoteOCRResponse struct {
	Pages []remoteOCRPage `json:"pages"`
}

type remoteOCRPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

// ExtractText sends the PDF to the OCR service and concatenates page text.
func (m *RemoteOCR) ExtractText(ctx context.Context, pdf []byte) (string, error) {
	encoded := base64.StdEncoding.EncodeToString(pdf)
	reqBody := remoteOCRRequest{
		Document: remoteOCRDocument{
			Type:        "document_url",
			DocumentURL: "data:application/pdf;base64," + encoded,
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", eris.Wrap(err, "ocr: marshal remote request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", eris.Wrap(err, "ocr: create remote request")
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return "", eris.Wrap(err, "ocr: remote API call")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", eris.Wrap(err, "ocr: read remote response")
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := eris.Errorf("ocr: remote API returned %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return "", resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return "", apiErr
	}

	var ocrResp remoteOCRResponse
	if err := json.Unmarshal(respBody, &ocrResp); err != nil {
		return "", eris.Wrap(err, "ocr: unmarshal remote response")
	}

	var sb strings.Builder
	for i, page := range ocrResp.Pages {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(page.Markdown)
	}

	return sb.String(), nil
}
