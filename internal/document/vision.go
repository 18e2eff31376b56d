package document

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/alloyist/internal/engine"
	"github.com/kalambet/alloyist/internal/knowledge"
)

// Detection is the text found in an image: its lines in reading order and
// any tables.
type Detection struct {
	Lines  []string
	Tables []knowledge.Table
}

// TextDetector finds text lines and tables in an image.
type TextDetector interface {
	DetectText(ctx context.Context, image []byte) (Detection, error)
}

// Chatter is the part of engine.Engine the detectors need.
type Chatter interface {
	Chat(ctx context.Context, model string, messages []engine.Message, opts engine.ChatOptions) (string, error)
}

const visionPrompt = `You read text from images and scans of technical documents such as mill certificates, standards tables and datasheets. Your output must be ONLY a single valid JSON object that conforms to the provided schema.

Rules:
- "lines" lists every line of text outside tables, top to bottom, exactly as printed.
- "tables" lists each table as an array of rows, each row an array of cell strings, header row first.
- Do not translate, summarize or correct the text.`

// visionTimeout bounds one detection call. Vision models read a full page
// slowly, so it is longer than the entity timeout.
const visionTimeout = 90 * time.Second

// VisionDetector detects text with a vision-capable local model.
type VisionDetector struct {
	chat    Chatter
	model   string
	timeout time.Duration
}

// NewVisionDetector creates a VisionDetector using the given model.
func NewVisionDetector(chat Chatter, model string) *VisionDetector {
	return &VisionDetector{chat: chat, model: model, timeout: visionTimeout}
}

type visionResult struct {
	Lines  []string     `json:"lines"`
	Tables [][][]string `json:"tables"`
}

// DetectText sends the image to the model and parses the structured reply.
func (d *VisionDetector) DetectText(ctx context.Context, image []byte) (Detection, error) {
	if len(image) == 0 {
		return Detection{}, fmt.Errorf("empty image")
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	messages := []engine.Message{
		engine.System(visionPrompt),
		engine.User("Extract the text and tables from this image.", image),
	}
	zero := 0.0
	raw, err := d.chat.Chat(ctx, d.model, messages, engine.ChatOptions{Schema: visionSchema(), Temperature: &zero})
	if err != nil {
		return Detection{}, fmt.Errorf("vision chat: %w", err)
	}

	return parseDetection(raw)
}

// parseDetection decodes a {"lines","tables"} reply, dropping blank lines
// and empty tables.
func parseDetection(raw string) (Detection, error) {
	var res visionResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return Detection{}, fmt.Errorf("parsing vision response: %w", err)
	}

	det := Detection{}
	for _, l := range res.Lines {
		if strings.TrimSpace(l) != "" {
			det.Lines = append(det.Lines, l)
		}
	}
	for _, t := range res.Tables {
		if len(t) > 0 {
			det.Tables = append(det.Tables, knowledge.Table(t))
		}
	}
	return det, nil
}

func visionSchema() *engine.Schema {
	cell := &engine.SchemaProperty{Type: "string"}
	row := &engine.SchemaProperty{Type: "array", Items: cell}
	return &engine.Schema{
		Type: "object",
		Properties: map[string]engine.SchemaProperty{
			"lines":  {Type: "array", Description: "Text lines outside tables, in reading order", Items: &engine.SchemaProperty{Type: "string"}},
			"tables": {Type: "array", Description: "Tables as arrays of rows of cells", Items: &engine.SchemaProperty{Type: "array", Items: row}},
		},
		Required: []string{"lines", "tables"},
	}
}
