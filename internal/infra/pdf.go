package infra

// pdf.go renders the sale ticket with go-pdf/fpdf on receipt-sized paper:
// header, sale number and time, item lines, discount, total, payments and,
// once issued, the invoice authorization code.

import (
	"fmt"
	"os"
	"path/filepath"

	"nexopos/internal/model"

	"github.com/go-pdf/fpdf"
)

// TicketFileName is the file name a sale's ticket is written under.
func TicketFileName(sale *model.Sale) string {
	return fmt.Sprintf("ticket_%d_%s.pdf", sale.Number, sale.ID.String()[:8])
}

// GenerateSaleTicketPDF writes the ticket of sale into storagePath (created if
// needed) and returns the file path. inv may be nil.
func GenerateSaleTicketPDF(sale *model.Sale, inv *model.Invoice, storagePath string) (string, error) {
	if err := os.MkdirAll(storagePath, 0755); err != nil {
		return "", fmt.Errorf("pdf: create storage dir: %w", err)
	}
	filePath := filepath.Join(storagePath, TicketFileName(sale))

	// 74mm × 105mm, close to thermal receipt paper.
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           fpdf.SizeType{Wd: 74, Ht: 105},
	})
	pdf.SetMargins(4, 4, 4)
	pdf.SetAutoPageBreak(true, 4)
	pdf.AddPage()

	pageW, _ := pdf.GetPageSize()
	contentW := pageW - 8
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	// ── Header ───────────────────────────────────────────────────────────────
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(contentW, 7, "Nexopos", "", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 8)
	pdf.CellFormat(contentW, 5, "Sale receipt", "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "B", 8)
	pdf.CellFormat(contentW, 5, fmt.Sprintf("Sale #%d", sale.Number), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 7)
	when := sale.CreatedAt
	if sale.CompletedAt != nil {
		when = *sale.CompletedAt
	}
	pdf.CellFormat(contentW, 4, when.Format("2006-01-02  15:04"), "", 1, "L", false, 0, "")
	pdf.Ln(2)
	pdf.Line(4, pdf.GetY(), pageW-4, pdf.GetY())
	pdf.Ln(2)

	// ── Items ─────────────────────────────────────────────────────────────────
	col1 := contentW * 0.52
	col2 := contentW * 0.16
	col3 := contentW * 0.32

	pdf.SetFont("Helvetica", "B", 7)
	pdf.CellFormat(col1, 5, "Item", "B", 0, "L", false, 0, "")
	pdf.CellFormat(col2, 5, "Qty", "B", 0, "C", false, 0, "")
	pdf.CellFormat(col3, 5, "Subtotal", "B", 1, "R", false, 0, "")

	pdf.SetFont("Helvetica", "", 7)
	for _, item := range sale.Items {
		name := item.Description
		if name == "" {
			name = item.ProductID.String()[:8]
		}
		if r := []rune(name); len(r) > 22 {
			name = string(r[:21]) + "…"
		}
		pdf.CellFormat(col1, 5, tr(name), "", 0, "L", false, 0, "")
		pdf.CellFormat(col2, 5, "x"+item.Quantity.String(), "", 0, "C", false, 0, "")
		pdf.CellFormat(col3, 5, "$"+item.Subtotal.StringFixed(2), "", 1, "R", false, 0, "")
	}

	pdf.Ln(2)
	pdf.Line(4, pdf.GetY(), pageW-4, pdf.GetY())
	pdf.Ln(2)

	// ── Totals ────────────────────────────────────────────────────────────────
	pdf.SetFont("Helvetica", "", 7)
	if !sale.DiscountTotal.IsZero() {
		pdf.CellFormat(col1+col2, 5, "Discount:", "", 0, "L", false, 0, "")
		pdf.CellFormat(col3, 5, "-$"+sale.DiscountTotal.StringFixed(2), "", 1, "R", false, 0, "")
	}
	pdf.SetFont("Helvetica", "B", 9)
	pdf.CellFormat(col1+col2, 6, "TOTAL:", "", 0, "L", false, 0, "")
	pdf.CellFormat(col3, 6, "$"+sale.Total.StringFixed(2), "", 1, "R", false, 0, "")

	pdf.Ln(2)
	pdf.SetFont("Helvetica", "", 7)
	for _, p := range sale.Payments {
		pdf.CellFormat(col1+col2, 4, "Paid ("+string(p.Method)+"):", "", 0, "L", false, 0, "")
		pdf.CellFormat(col3, 4, "$"+p.Amount.StringFixed(2), "", 1, "R", false, 0, "")
	}
	if sale.CreditOutstanding.IsPositive() {
		pdf.CellFormat(col1+col2, 4, "Outstanding:", "", 0, "L", false, 0, "")
		pdf.CellFormat(col3, 4, "$"+sale.CreditOutstanding.StringFixed(2), "", 1, "R", false, 0, "")
	}

	if inv != nil && inv.AuthorizationCode != nil {
		pdf.Ln(2)
		pdf.SetFont("Helvetica", "", 6)
		pdf.CellFormat(contentW, 4, "Authorization: "+*inv.AuthorizationCode, "", 1, "L", false, 0, "")
		if inv.AuthorizedUntil != nil {
			pdf.CellFormat(contentW, 4, "Valid until: "+inv.AuthorizedUntil.Format("2006-01-02"), "", 1, "L", false, 0, "")
		}
	}

	pdf.Ln(3)
	pdf.SetFont("Helvetica", "I", 7)
	pdf.CellFormat(contentW, 4, "Thank you!", "", 1, "C", false, 0, "")

	if err := pdf.OutputFileAndClose(filePath); err != nil {
		return "", fmt.Errorf("pdf: write file: %w", err)
	}
	return filePath, nil
}
