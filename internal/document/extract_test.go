package document

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kalambet/alloyist/internal/knowledge"
)

type fakeDetector struct {
	det Detection
	err error
	got []byte
}

func (f *fakeDetector) DetectText(_ context.Context, image []byte) (Detection, error) {
	f.got = image
	return f.det, f.err
}

func TestExtract_CSVCapsRowsAndCountsRest(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("grade,cr,ni\n")
	for i := 0; i < 52; i++ {
		fmt.Fprintf(&sb, "g%d,18,8\n", i)
	}

	ex, err := NewExtractor(nil).Extract(context.Background(), []byte(sb.String()), MIMECSV)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !ex.StructuredData {
		t.Error("StructuredData = false, want true")
	}

	wantPrefix := "CSV數據:\ngrade | cr | ni\n" + strings.Repeat("-", 80) + "\ng0 | 18 | 8\n"
	if !strings.HasPrefix(ex.Text, wantPrefix) {
		t.Errorf("text prefix = %q", ex.Text[:min(len(ex.Text), len(wantPrefix))])
	}
	if !strings.Contains(ex.Text, "g49 | 18 | 8\n") {
		t.Error("50th data row missing")
	}
	if strings.Contains(ex.Text, "g50 |") {
		t.Error("51st data row should be cut")
	}
	if !strings.HasSuffix(ex.Text, "... 還有 2 行數據 ...\n") {
		t.Errorf("text should end with overflow line, got %q", ex.Text[len(ex.Text)-40:])
	}
}

func TestExtract_CSVPadsShortRows(t *testing.T) {
	ex, err := NewExtractor(nil).Extract(context.Background(), []byte("a,b,c\n1\n"), MIMECSV)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !strings.Contains(ex.Text, "\n1 |  | \n") {
		t.Errorf("short row not padded: %q", ex.Text)
	}
}

func TestExtract_PlainTextReplacesInvalidUTF8(t *testing.T) {
	ex, err := NewExtractor(nil).Extract(context.Background(), []byte("316L \xff ok"), MIMEPlainText)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ex.Text != "316L � ok" {
		t.Errorf("Text = %q", ex.Text)
	}

	ex, err = NewExtractor(nil).Extract(context.Background(), []byte("hello"), MIMETxt)
	if err != nil || ex.Text != "hello" {
		t.Errorf("application/txt: text=%q err=%v", ex.Text, err)
	}
}

func TestExtract_UnsupportedTypeNamesIt(t *testing.T) {
	ex, err := NewExtractor(nil).Extract(context.Background(), []byte("x"), "application/zip")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if ex.Text != "未支持的文件類型: application/zip" {
		t.Errorf("Text = %q", ex.Text)
	}
}

func TestExtract_Workbook(t *testing.T) {
	f := excelize.NewFile()
	if err := f.SetSheetRow("Sheet1", "A1", &[]string{"Grade", "Cr"}); err != nil {
		t.Fatalf("SetSheetRow: %v", err)
	}
	if err := f.SetSheetRow("Sheet1", "A2", &[]string{"304", "18"}); err != nil {
		t.Fatalf("SetSheetRow: %v", err)
	}
	if _, err := f.NewSheet("Limits"); err != nil {
		t.Fatalf("NewSheet: %v", err)
	}
	if err := f.SetSheetRow("Limits", "A1", &[]string{"Element", "Max"}); err != nil {
		t.Fatalf("SetSheetRow: %v", err)
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}

	ex, err := NewExtractor(nil).Extract(context.Background(), buf.Bytes(), MIMEXLSX)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	rule := strings.Repeat("-", 80)
	want := "\n工作表: Sheet1\nGrade | Cr\n" + rule + "\n304 | 18\n\n" +
		"\n工作表: Limits\nElement | Max\n" + rule + "\n\n"
	if ex.Text != want {
		t.Errorf("Text =\n%q\nwant\n%q", ex.Text, want)
	}
	if !ex.StructuredData {
		t.Error("StructuredData = false, want true")
	}
}

func TestExtract_LegacyWorkbookFails(t *testing.T) {
	_, err := NewExtractor(nil).Extract(context.Background(), []byte("not a zip archive"), MIMEXLS)
	if err == nil {
		t.Fatal("expected error for unreadable workbook")
	}
}

func TestExtract_InvalidPDFFails(t *testing.T) {
	_, err := NewExtractor(nil).Extract(context.Background(), []byte("%PDF-1.4 garbage"), MIMEPDF)
	if err == nil {
		t.Fatal("expected error for malformed pdf")
	}
}

type fakePDFReader struct {
	det   Detection
	err   error
	calls int
}

func (f *fakePDFReader) ReadPDF(_ context.Context, _ []byte) (Detection, error) {
	f.calls++
	return f.det, f.err
}

func TestExtract_PDFWithoutTextLayerUsesReader(t *testing.T) {
	r := &fakePDFReader{det: Detection{
		Lines:  []string{"ASTM A240 Table 1"},
		Tables: []knowledge.Table{{{"Grade", "Cr"}, {"316L", "16.0-18.0"}}},
	}}
	ex, err := NewExtractor(nil).WithPDFReader(r).Extract(context.Background(), []byte("%PDF-1.4 scanned"), MIMEPDF)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if r.calls != 1 {
		t.Fatalf("reader called %d times, want 1", r.calls)
	}
	if len(ex.Tables) != 1 || len(ex.DetectedLines) != 1 {
		t.Errorf("lines=%d tables=%d", len(ex.DetectedLines), len(ex.Tables))
	}
	if !strings.HasPrefix(ex.Text, "ASTM A240 Table 1\n") || !strings.Contains(ex.Text, "316L | 16.0-18.0") {
		t.Errorf("Text = %q", ex.Text)
	}
}

func TestExtract_PDFReaderErrorKeepsPDFError(t *testing.T) {
	r := &fakePDFReader{err: errors.New("quota exceeded")}
	_, err := NewExtractor(nil).WithPDFReader(r).Extract(context.Background(), []byte("%PDF-1.4 garbage"), MIMEPDF)
	if err == nil || strings.Contains(err.Error(), "quota") {
		t.Errorf("err = %v, want the pdf read error", err)
	}
	if r.calls != 1 {
		t.Errorf("reader called %d times, want 1", r.calls)
	}
}

func TestExtract_ImageWithoutDetector(t *testing.T) {
	_, err := NewExtractor(nil).Extract(context.Background(), []byte{0x89, 'P', 'N', 'G'}, MIMEPNG)
	if !errors.Is(err, ErrNoTextDetector) {
		t.Errorf("err = %v, want ErrNoTextDetector", err)
	}
}

func TestExtract_ImageLinesAndTables(t *testing.T) {
	det := &fakeDetector{det: Detection{
		Lines:  []string{"MILL TEST CERTIFICATE", "Heat No. 12345"},
		Tables: []knowledge.Table{{{"C", "Cr"}, {"0.03", "18.2"}}},
	}}
	img := []byte{0xFF, 0xD8, 0xFF}

	ex, err := NewExtractor(det).Extract(context.Background(), img, MIMEJPEG)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if string(det.got) != string(img) {
		t.Error("detector did not receive the image bytes")
	}
	want := "MILL TEST CERTIFICATE\nHeat No. 12345\n\n表格數據:\n\n表格 1:\nC | Cr\n0.03 | 18.2\n"
	if ex.Text != want {
		t.Errorf("Text = %q, want %q", ex.Text, want)
	}
	if len(ex.DetectedLines) != 2 || len(ex.Tables) != 1 {
		t.Errorf("lines=%d tables=%d", len(ex.DetectedLines), len(ex.Tables))
	}
}

func TestExtract_ImageDetectorError(t *testing.T) {
	det := &fakeDetector{err: errors.New("model offline")}
	_, err := NewExtractor(det).Extract(context.Background(), []byte{1}, MIMEJPG)
	if err == nil || !strings.Contains(err.Error(), "model offline") {
		t.Errorf("err = %v, want wrapped detector error", err)
	}
}
