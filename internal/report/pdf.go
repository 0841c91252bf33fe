package report

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jung-kurt/gofpdf"

	"example.com/bolt/internal/common"
	"example.com/bolt/internal/dbc"
	"example.com/bolt/internal/history"
)

// MaxPDFRows caps the frame table; the newest rows are kept.
const MaxPDFRows = 200

// SavePDF renders s into a PDF file.
func SavePDF(s Session, out string) error {
	pdf, err := build(s)
	if err != nil {
		return err
	}
	return pdf.OutputFileAndClose(out)
}

// WritePDF renders s into w.
func WritePDF(w io.Writer, s Session) error {
	pdf, err := build(s)
	if err != nil {
		return err
	}
	return pdf.Output(w)
}

func build(s Session) (*gofpdf.Fpdf, error) {
	title := emptyFallback(s.Title, "Bolt CAN Session")
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(title, false)
	pdf.SetAuthor("bolt", false)
	pdf.SetCreator("bolt", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, title)
	if err := addDigest(pdf, s.Digest); err != nil {
		return nil, err
	}
	addSummarySection(pdf, s)
	addDictionarySection(pdf, s.Dictionaries)
	addTopSection(pdf, s.Top)
	addFramesSection(pdf, s.Rows)

	if pdf.Err() {
		return nil, pdf.Error()
	}
	return pdf, nil
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

// addDigest places a QR code of the capture digest in the top right corner.
func addDigest(pdf *gofpdf.Fpdf, digest string) error {
	if strings.TrimSpace(digest) == "" {
		return nil
	}
	png, err := DigestToQR(digest, 256)
	if err != nil {
		return fmt.Errorf("digest qr: %w", err)
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("digest", opts, bytes.NewReader(png))
	pageW, _ := pdf.GetPageSize()
	_, _, right, _ := pdf.GetMargins()
	pdf.ImageOptions("digest", pageW-right-28, 12, 28, 28, false, opts, 0, "")
	return nil
}

func addSummarySection(pdf *gofpdf.Fpdf, s Session) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Summary")
	pdf.Ln(8)

	generated := s.Generated
	if generated.IsZero() {
		generated = time.Now()
	}
	m := s.Metrics
	pdf.SetFont("Helvetica", "", 11)
	items := []struct {
		label string
		value string
	}{
		{label: "Source", value: emptyFallback(s.Source, "-")},
		{label: "Generated", value: generated.Format(time.RFC3339)},
		{label: "Bytes read", value: common.FormatBytes(m.Bytes)},
		{label: "Lines", value: humanize.Comma(m.Lines)},
		{label: "CAN frames", value: humanize.Comma(m.Frames)},
		{label: "Decoded frames", value: humanize.Comma(m.Decoded)},
		{label: "Log lines", value: humanize.Comma(m.LogLines)},
		{label: "Idle / forced flushes", value: fmt.Sprintf("%d / %d", m.IdleFlushes, m.ForceFlushes)},
	}
	if s.Digest != "" {
		items = append(items, struct {
			label string
			value string
		}{label: "SHA-256", value: s.Digest})
	}
	for _, item := range items {
		pdf.CellFormat(50, 6, item.label, "", 0, "L", false, 0, "")
		pdf.MultiCell(0, 6, item.value, "", "L", false)
	}
	pdf.Ln(4)
}

func addDictionarySection(pdf *gofpdf.Fpdf, dicts []dbc.Summary) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Dictionaries")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 10)
	if len(dicts) == 0 {
		pdf.MultiCell(0, 6, "No DBC files loaded", "", "L", false)
		pdf.Ln(2)
		return
	}
	for _, d := range dicts {
		pdf.MultiCell(0, 5, fmt.Sprintf("%s - %d messages", d.Name, d.Messages), "", "L", false)
	}
	pdf.Ln(4)
}

func addTopSection(pdf *gofpdf.Fpdf, top []history.IdentifierCount) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Top Identifiers")
	pdf.Ln(9)
	if len(top) == 0 {
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 6, "No frames recorded.", "", "L", false)
		pdf.Ln(2)
		return
	}
	widths := []float64{40, 25}
	tableHeader(pdf, []string{"Identifier", "Frames"}, widths)
	pdf.SetFont("Courier", "", 9)
	for _, t := range top {
		renderTableRow(pdf, widths, []string{t.ID, strconv.Itoa(t.Count)}, 5)
	}
	pdf.Ln(4)
}

func addFramesSection(pdf *gofpdf.Fpdf, rows []history.Row) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Latest Frames")
	pdf.Ln(9)
	if len(rows) == 0 {
		pdf.SetFont("Helvetica", "", 10)
		pdf.MultiCell(0, 6, "No frames recorded.", "", "L", false)
		return
	}
	if len(rows) > MaxPDFRows {
		rows = rows[:MaxPDFRows]
	}
	headers := []string{"#", "Time (ms)", "ID", "DLC", "Data", "Flags", "Message", "Signals"}
	widths := []float64{12, 22, 22, 10, 30, 16, 26, 42}
	tableHeader(pdf, headers, widths)
	pdf.SetFont("Helvetica", "", 8)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for _, r := range rows {
		values := []string{
			strconv.FormatUint(r.Seq, 10),
			r.Timestamp,
			r.IDHex,
			strconv.Itoa(r.DLC),
			pdfText(r.Data),
			pdfText(r.Flags),
			tr(pdfText(r.Message)),
			tr(pdfText(r.Signals)),
		}
		renderTableRow(pdf, widths, values, 4)
	}
}

func tableHeader(pdf *gofpdf.Fpdf, headers []string, widths []float64) {
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 9)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	_, pageH := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	if yStart+rowHeight > pageH-bottom {
		pdf.AddPage()
		xStart, yStart = pdf.GetX(), pdf.GetY()
	}
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		pdf.MultiCell(widths[i], lineHeight, strings.Join(lines, "\n"), "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

// pdfText maps the table placeholder to a core-font character.
func pdfText(s string) string {
	if s == history.Placeholder {
		return "-"
	}
	return s
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
