package report

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"example.com/pd0gate/internal/pd0"
)

// SavePDF renders the decode summary into a PDF document. When the summary
// carries a digest, a QR code of it is placed next to the title.
func SavePDF(sum Summary, out string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("PD0 Decode Report", false)
	pdf.SetAuthor("pd0ctl", false)
	pdf.SetCreator("pd0ctl", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	if err := addDigestQR(pdf, sum.Digest); err != nil {
		return err
	}
	addPDFTitle(pdf, "PD0 Decode Report")
	addSummarySection(pdf, sum)
	addHealthSection(pdf, sum.Components)
	addStatsSection(pdf, "Array Statistics", sum.Arrays)
	addStatsSection(pdf, "Sensor Statistics", sum.Sensors)

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addDigestQR(pdf *gofpdf.Fpdf, digest string) error {
	if strings.TrimSpace(digest) == "" {
		return nil
	}
	png, err := DigestToQR(digest, 256)
	if err != nil {
		return fmt.Errorf("digest qr: %w", err)
	}
	opts := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: false}
	pdf.RegisterImageOptionsReader("digest-qr", opts, bytes.NewReader(png))
	pageW, _ := pdf.GetPageSize()
	_, _, right, _ := pdf.GetMargins()
	const side = 28.0
	pdf.ImageOptions("digest-qr", pageW-right-side, 12, side, side, false, opts, 0, "")
	return nil
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addSummarySection(pdf *gofpdf.Fpdf, sum Summary) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Summary")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	items := []struct {
		label string
		value string
	}{
		{label: "File", value: emptyFallback(sum.File, "-")},
		{label: "SHA-256", value: shortDigest(sum.Digest)},
		{label: "Generated", value: sum.GeneratedAt.Format(time.RFC3339)},
		{label: "Ensembles", value: strconv.Itoa(sum.Ensembles)},
		{label: "Ensemble Numbers", value: ensembleRange(sum)},
		{label: "Geometry", value: fmt.Sprintf("%d beams x %d cells", sum.Beams, sum.Cells)},
		{label: "Health", value: sum.Health.String()},
		{label: "Overall", value: passLabel(sum.Health.OK())},
	}
	if inst := sum.Instrument; inst != nil {
		serial := strconv.FormatUint(uint64(inst.Serial), 10)
		if inst.SerialMissing {
			serial = "not reported by firmware"
		}
		items = append(items,
			struct{ label, value string }{"Firmware", fmt.Sprintf("%d.%d", inst.CPUVersion, inst.CPURevision)},
			struct{ label, value string }{"Instrument Serial", serial},
			struct{ label, value string }{"Cell Length", fmt.Sprintf("%d cm", inst.CellLength)},
		)
	}
	for _, item := range items {
		pdf.CellFormat(50, 6, item.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, item.value, "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func addHealthSection(pdf *gofpdf.Fpdf, rows []ComponentHealth) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Component Health")
	pdf.Ln(9)

	headers := []string{"Component", "Condition", "Ensembles", "Detail"}
	widths := []float64{38, 42, 24, 76}
	tableHeader(pdf, headers, widths)

	pdf.SetFont("Helvetica", "", 9)
	for _, row := range rows {
		values := []string{
			row.Name,
			row.Health.Condition.String(),
			strconv.Itoa(row.Health.Ensembles),
			healthDetail(row.Health),
		}
		renderTableRow(pdf, widths, values, 5)
	}
	pdf.Ln(4)
}

func addStatsSection(pdf *gofpdf.Fpdf, title string, rows []SeriesStats) {
	if len(rows) == 0 {
		return
	}
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, title)
	pdf.Ln(9)

	headers := []string{"Variable", "Count", "Mean", "Std Dev", "Min", "Median", "Max"}
	widths := []float64{36, 22, 24, 24, 24, 24, 26}
	tableHeader(pdf, headers, widths)

	pdf.SetFont("Helvetica", "", 9)
	for _, s := range rows {
		values := []string{
			s.Name,
			strconv.Itoa(s.Count),
			formatFloat(s.Mean),
			formatFloat(s.StdDev),
			formatFloat(s.Min),
			formatFloat(s.Median),
			formatFloat(s.Max),
		}
		renderTableRow(pdf, widths, values, 5)
	}
	pdf.Ln(4)
}

func tableHeader(pdf *gofpdf.Fpdf, headers []string, widths []float64) {
	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
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
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		pdf.MultiCell(widths[i], lineHeight, strings.Join(lines, "\n"), "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func healthDetail(h pd0.Health) string {
	switch h.Condition {
	case pd0.DataTypeUnavailable:
		return fmt.Sprintf("ensemble %d has %d data types, slot %d needed", h.At, h.Available, h.Requested)
	case pd0.Corrupted, pd0.UnknownIO:
		return fmt.Sprintf("ensemble %d: %s", h.At, emptyFallback(h.Reason, "-"))
	default:
		return "-"
	}
}

func ensembleRange(sum Summary) string {
	if sum.Ensembles == 0 {
		return "-"
	}
	return fmt.Sprintf("%d - %d", sum.FirstEnsemble, sum.LastEnsemble)
}

func shortDigest(d string) string {
	if len(d) > 16 {
		return d[:16] + "..."
	}
	return emptyFallback(d, "-")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func passLabel(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
