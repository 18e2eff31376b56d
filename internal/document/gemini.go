package document

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

const (
	defaultPDFModel = "gemini-2.0-flash"
	pdfReadTimeout  = 90 * time.Second
)

// PDFReader reads text lines and tables from a whole PDF file, including
// scanned pages with no text layer.
type PDFReader interface {
	ReadPDF(ctx context.Context, content []byte) (Detection, error)
}

// GeminiPDFReader sends PDFs to Gemini, which accepts them as inline input.
type GeminiPDFReader struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiPDFReader creates a reader. An empty model selects the default.
func NewGeminiPDFReader(ctx context.Context, apiKey, model string) (*GeminiPDFReader, error) {
	return newGeminiPDFReader(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}, model)
}

// NewGeminiPDFReaderWithBaseURL creates a reader pointing at a custom base URL (for testing).
func NewGeminiPDFReaderWithBaseURL(ctx context.Context, apiKey, model, baseURL string) (*GeminiPDFReader, error) {
	return newGeminiPDFReader(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	}, model)
}

func newGeminiPDFReader(ctx context.Context, cfg *genai.ClientConfig, model string) (*GeminiPDFReader, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = defaultPDFModel
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiPDFReader{client: client, model: model, timeout: pdfReadTimeout}, nil
}

func (g *GeminiPDFReader) ReadPDF(ctx context.Context, content []byte) (Detection, error) {
	if len(content) == 0 {
		return Detection{}, fmt.Errorf("empty pdf")
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(content, MIMEPDF),
			genai.NewPartFromText("Extract the text and tables from this document."),
		}, genai.RoleUser),
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(visionPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    detectionSchema(),
	})
	if err != nil {
		return Detection{}, fmt.Errorf("reading pdf with gemini: %w", err)
	}
	return parseDetection(resp.Text())
}

func detectionSchema() *genai.Schema {
	cell := &genai.Schema{Type: genai.TypeString}
	row := &genai.Schema{Type: genai.TypeArray, Items: cell}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"lines":  {Type: genai.TypeArray, Description: "Text lines outside tables, in reading order", Items: &genai.Schema{Type: genai.TypeString}},
			"tables": {Type: genai.TypeArray, Description: "Tables as arrays of rows of cells", Items: &genai.Schema{Type: genai.TypeArray, Items: row}},
		},
		Required: []string{"lines", "tables"},
	}
}
