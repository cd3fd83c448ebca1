package pdf

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/nurpe/brokerage/internal/model"
)

const fallbackFont = "Helvetica"

// Generator renders a one-page contract summary. With a TTF font configured
// the text is written as UTF-8; otherwise the core Helvetica font is used and
// characters outside cp1252 are lost.
type Generator struct {
	fontName string
	fontData []byte
}

func NewGenerator(fontPath string) (*Generator, error) {
	if strings.TrimSpace(fontPath) == "" {
		return &Generator{fontName: fallbackFont}, nil
	}
	data, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("read pdf font: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("font data is empty")
	}
	return &Generator{fontName: "ContractFont", fontData: data}, nil
}

func (g *Generator) Generate(contract model.ContractView) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	text := func(s string) string { return s }
	if g.fontData != nil {
		pdf.AddUTF8FontFromBytes(g.fontName, "", g.fontData)
		pdf.AddUTF8FontFromBytes(g.fontName, "B", g.fontData)
	} else {
		text = pdf.UnicodeTranslatorFromDescriptor("")
	}

	pdf.SetFont(g.fontName, "B", 14)
	pdf.CellFormat(0, 10, text(fmt.Sprintf("Contract %s", contract.ContractNumber)), "", 1, "C", false, 0, "")
	pdf.SetFont(g.fontName, "", 11)
	pdf.CellFormat(0, 6, text(fmt.Sprintf("%s, dated %s, status %s",
		safeValue(contract.ContractType), formatDate(contract.ContractDate), safeValue(string(contract.Status)))), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	section(pdf, g.fontName, text, "Customer", []string{
		safeValue(contract.CustomerName),
		fmt.Sprintf("Phone: %s", safeValue(contract.CustomerPhone)),
	})
	section(pdf, g.fontName, text, "Estate", []string{
		fmt.Sprintf("Project: %s, block %s, floor %d", safeValue(contract.EstateProject), safeValue(contract.EstateBlock), contract.EstateFloor),
		fmt.Sprintf("Type: %s, area %s m2, rooms %d", safeValue(contract.EstateType), formatAmount(contract.EstateArea, 1), contract.EstateRooms),
		fmt.Sprintf("Listed price: %s", formatAmount(contract.EstatePrice, 0)),
	})

	pdf.SetFont(g.fontName, "B", 12)
	pdf.CellFormat(0, 8, text("Terms"), "", 1, "L", false, 0, "")
	widths := []float64{60, 120}
	drawTableRow(pdf, g.fontName, text, []string{"Amount", formatAmount(contract.Amount, 0)}, widths)
	drawTableRow(pdf, g.fontName, text, []string{"Commission", formatAmount(contract.Commission, 0)}, widths)
	drawTableRow(pdf, g.fontName, text, []string{"Payment method", safeValue(contract.PaymentMethod)}, widths)
	drawTableRow(pdf, g.fontName, text, []string{"Duration (months)", formatMonths(contract.DurationMonths)}, widths)
	drawTableRow(pdf, g.fontName, text, []string{"Agent", safeValue(contract.AgentName)}, widths)
	pdf.Ln(4)

	participants := make([]string, 0, len(contract.AssociatedUsers))
	for _, u := range contract.AssociatedUsers {
		participants = append(participants, fmt.Sprintf("%s (%s) %s", safeValue(u.Name), u.Role, optional(u.Description)))
	}
	section(pdf, g.fontName, text, "Participants", participants)

	if strings.TrimSpace(contract.Notes) != "" {
		section(pdf, g.fontName, text, "Notes", []string{contract.Notes})
	}
	if len(contract.Attachments) > 0 {
		names := make([]string, 0, len(contract.Attachments))
		for _, a := range contract.Attachments {
			names = append(names, fmt.Sprintf("%s (%d bytes)", a.OriginalName, a.Size))
		}
		section(pdf, g.fontName, text, "Attachments", names)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func section(pdf *gofpdf.Fpdf, fontName string, text func(string) string, title string, lines []string) {
	pdf.SetFont(fontName, "B", 12)
	pdf.CellFormat(0, 8, text(title), "", 1, "L", false, 0, "")
	pdf.SetFont(fontName, "", 10)
	if len(lines) == 0 {
		lines = []string{"-"}
	}
	for _, line := range lines {
		pdf.MultiCell(0, 5, text(line), "", "L", false)
	}
	pdf.Ln(2)
}

func drawTableRow(pdf *gofpdf.Fpdf, fontName string, text func(string) string, cols []string, widths []float64) {
	for i, col := range cols {
		style := ""
		if i == 0 {
			style = "B"
		}
		pdf.SetFont(fontName, style, 10)
		pdf.CellFormat(widths[i], 8, text(col), "1", 0, "L", false, 0, "")
	}
	pdf.Ln(-1)
}

func safeValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func optional(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func formatMonths(value *int) string {
	if value == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *value)
}

func formatAmount(value float64, precision int) string {
	format := fmt.Sprintf("%%.%df", precision)
	return fmt.Sprintf(format, value)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}
