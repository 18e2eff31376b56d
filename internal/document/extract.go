// Package document turns uploaded files into analyzed text: extraction of
// text and tables per file type, text detection in images, entity and key
// phrase detection, and persistence of the upload with its analysis.
package document

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"

	"github.com/kalambet/alloyist/internal/knowledge"
)

// MaxTableRows caps the data rows rendered per CSV file or spreadsheet sheet.
const MaxTableRows = 50

// MinPDFTextRunes is the text layer size below which a PDF is treated as
// scanned and handed to the PDF reader, when one is configured.
const MinPDFTextRunes = 100

// MIME types with a dedicated extraction path.
const (
	MIMEPDF       = "application/pdf"
	MIMEPNG       = "image/png"
	MIMEJPEG      = "image/jpeg"
	MIMEJPG       = "image/jpg"
	MIMEXLS       = "application/vnd.ms-excel"
	MIMEXLSX      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MIMECSV       = "text/csv"
	MIMEPlainText = "text/plain"
	MIMETxt       = "application/txt"
)

var rowRule = strings.Repeat("-", 80)

// ErrNoTextDetector is returned for images when no TextDetector is configured.
var ErrNoTextDetector = errors.New("no text detector configured")

// Extraction is the raw content pulled out of one file.
type Extraction struct {
	Text           string
	Tables         []knowledge.Table
	DetectedLines  []string
	StructuredData bool
}

// Extractor dispatches on MIME type to the matching extraction path.
type Extractor struct {
	detector TextDetector
	pdf      PDFReader
	maxRows  int
}

// NewExtractor creates an Extractor. detector may be nil, in which case
// images fail extraction with ErrNoTextDetector.
func NewExtractor(detector TextDetector) *Extractor {
	return &Extractor{detector: detector, maxRows: MaxTableRows}
}

// WithPDFReader sets the reader used for PDFs whose text layer is missing or
// thinner than MinPDFTextRunes.
func (x *Extractor) WithPDFReader(r PDFReader) *Extractor {
	x.pdf = r
	return x
}

// Extract pulls text and tables out of content. Unsupported types are not an
// error: the returned text names the type instead.
func (x *Extractor) Extract(ctx context.Context, content []byte, mimeType string) (Extraction, error) {
	switch mimeType {
	case MIMEPDF:
		return x.extractPDF(ctx, content)
	case MIMEPNG, MIMEJPEG, MIMEJPG:
		return x.extractImage(ctx, content)
	case MIMEXLS, MIMEXLSX:
		return x.extractWorkbook(content)
	case MIMECSV:
		return x.extractCSV(content), nil
	case MIMEPlainText, MIMETxt:
		return Extraction{Text: strings.ToValidUTF8(string(content), "\uFFFD")}, nil
	default:
		return Extraction{Text: fmt.Sprintf("未支持的文件類型: %s", mimeType)}, nil
	}
}

// extractPDF uses the text layer when it has enough text. Otherwise the PDF
// reader, if any, supplies lines and tables; when it fails the text layer
// result stands.
func (x *Extractor) extractPDF(ctx context.Context, content []byte) (Extraction, error) {
	text, err := pdfText(content)
	thin := err != nil || utf8.RuneCountInString(strings.TrimSpace(text)) < MinPDFTextRunes
	if x.pdf == nil || !thin {
		if err != nil {
			return Extraction{}, err
		}
		return Extraction{Text: text}, nil
	}

	det, rerr := x.pdf.ReadPDF(ctx, content)
	if rerr != nil {
		slog.Warn("pdf reader failed", "error", rerr)
		if err != nil {
			return Extraction{}, err
		}
		return Extraction{Text: text}, nil
	}
	return detectionExtraction(det), nil
}

// pdfText reads the text layer page by page. The pdf reader panics on some
// malformed inputs, so panics are turned into errors.
func pdfText(content []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reading pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		pageText, err := p.GetPlainText(nil)
		if err != nil {
			slog.Warn("pdf page text extraction failed", "page", i, "error", err)
			continue
		}
		for _, line := range strings.Split(pageText, "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

func (x *Extractor) extractImage(ctx context.Context, content []byte) (Extraction, error) {
	if x.detector == nil {
		return Extraction{}, ErrNoTextDetector
	}
	det, err := x.detector.DetectText(ctx, content)
	if err != nil {
		return Extraction{}, fmt.Errorf("detecting text: %w", err)
	}
	return detectionExtraction(det), nil
}

// detectionExtraction renders detected lines followed by the tables.
func detectionExtraction(det Detection) Extraction {
	var sb strings.Builder
	for _, line := range det.Lines {
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	sb.WriteString(knowledge.RenderTables(det.Tables))

	return Extraction{
		Text:          sb.String(),
		Tables:        det.Tables,
		DetectedLines: det.Lines,
	}
}

// extractCSV treats the first record as the header. A parse failure is
// reported inside the text rather than failing the whole analysis.
func (x *Extractor) extractCSV(content []byte) Extraction {
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	records, err := r.ReadAll()
	if err != nil {
		slog.Warn("csv parse failed", "error", err)
		return Extraction{Text: fmt.Sprintf("CSV解析失敗: %s\n", err)}
	}

	var sb strings.Builder
	sb.WriteString("CSV數據:\n")
	if len(records) > 0 {
		x.writeRows(&sb, records[0], records[1:])
	}
	return Extraction{Text: sb.String(), StructuredData: len(records) > 0}
}

// extractWorkbook renders every sheet of an OOXML workbook. Legacy binary
// .xls files cannot be opened and surface as an error.
func (x *Extractor) extractWorkbook(content []byte) (Extraction, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return Extraction{}, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	sheets := 0
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			slog.Warn("reading sheet failed", "sheet", name, "error", err)
			continue
		}
		sheets++
		fmt.Fprintf(&sb, "\n工作表: %s\n", name)
		var header []string
		if len(rows) > 0 {
			header, rows = rows[0], rows[1:]
		}
		x.writeRows(&sb, header, rows)
		sb.WriteString("\n")
	}
	return Extraction{Text: sb.String(), StructuredData: sheets > 0}, nil
}

// writeRows renders a header, a rule and at most maxRows data rows, followed
// by a count of the rows left out.
func (x *Extractor) writeRows(w io.StringWriter, header []string, rows [][]string) {
	w.WriteString(strings.Join(header, " | "))
	w.WriteString("\n")
	w.WriteString(rowRule)
	w.WriteString("\n")

	shown := min(x.maxRows, len(rows))
	for _, row := range rows[:shown] {
		w.WriteString(strings.Join(padRow(row, len(header)), " | "))
		w.WriteString("\n")
	}
	if len(rows) > shown {
		w.WriteString(fmt.Sprintf("... 還有 %d 行數據 ...\n", len(rows)-shown))
	}
}

// padRow fills short rows with empty cells so every row has the header's width.
func padRow(row []string, width int) []string {
	if len(row) >= width {
		return row
	}
	padded := make([]string, width)
	copy(padded, row)
	return padded
}
