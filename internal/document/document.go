// Package document renders quotes as PDF files.
package document

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/comigor/quotebot/internal/config"
	"github.com/comigor/quotebot/internal/pricing"
)

// Generator renders a quote into a file the user can keep.
type Generator interface {
	Render(ctx context.Context, q pricing.Quote) ([]byte, error)
}

const (
	labelX = 25.0
	valueX = 75.0
	rowH   = 9.0
)

// PDFRenderer lays out a one-page A4 quote.
type PDFRenderer struct {
	company string
	footer  string
}

func NewPDFRenderer(cfg config.DocumentConfig) *PDFRenderer {
	return &PDFRenderer{company: cfg.CompanyName, footer: cfg.Footer}
}

func (r *PDFRenderer) Render(ctx context.Context, q pricing.Quote) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Cotización "+q.Number, true)
	pdf.SetAuthor(r.company, true)
	pdf.SetCreationDate(q.IssuedAt)
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()
	pageW, _ := pdf.GetPageSize()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetTextColor(25, 25, 25)
	pdf.CellFormat(120, 10, tr("COTIZACIÓN DE RENTA DE MAQUINARIA"), "", 0, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 10, tr("Fecha: "+q.IssuedAt.Format("02/01/2006")), "", 1, "R", false, 0, "")
	pdf.CellFormat(0, 6, tr(r.company+" | Folio "+q.Number), "", 1, "L", false, 0, "")

	pdf.SetDrawColor(204, 204, 204)
	y := pdf.GetY() + 3
	pdf.Line(20, y, pageW-20, y)
	pdf.Ln(12)

	row := func(label, value string, bold bool) {
		style := ""
		if bold {
			style = "B"
		}
		pdf.SetX(labelX)
		pdf.SetFont("Helvetica", style, 12)
		pdf.CellFormat(valueX-labelX, rowH, tr(label), "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 12)
		pdf.MultiCell(0, rowH, tr(orNA(value)), "", "L", false)
	}

	row("Equipo:", q.Machine.ModelName, true)
	row("Descripción:", q.Machine.Description, false)
	row("Duración:", q.DurationText, false)
	if !q.RentalStart.IsZero() && !q.RentalEnd.IsZero() {
		row("Periodo:", q.RentalStart.Format("02/01/2006")+" al "+q.RentalEnd.Format("02/01/2006"), false)
	}
	pdf.Ln(6)

	row("Subtotal:", pricing.FormatMoney(q.Subtotal)+" MXN", false)
	row("IVA (16%):", pricing.FormatMoney(q.Tax)+" MXN", false)

	y = pdf.GetY() + 1
	pdf.SetDrawColor(128, 128, 128)
	pdf.Line(valueX, y, valueX+60, y)
	pdf.Ln(4)

	pdf.SetX(labelX)
	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(valueX-labelX, rowH, tr("Total a pagar:"), "", 0, "L", false, 0, "")
	pdf.SetTextColor(0, 128, 26)
	pdf.CellFormat(0, rowH, pricing.FormatMoney(q.Total)+" MXN", "", 1, "L", false, 0, "")

	if r.footer != "" {
		pdf.Ln(14)
		pdf.SetFont("Helvetica", "", 9)
		pdf.SetTextColor(128, 128, 128)
		pdf.MultiCell(0, 5, tr(r.footer), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render quote %s: %w", q.Number, err)
	}
	return buf.Bytes(), nil
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
