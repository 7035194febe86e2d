package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/quotedesk/internal/company"
	"github.com/odyssey-erp/quotedesk/internal/invoices"
	"github.com/odyssey-erp/quotedesk/internal/money"
	"github.com/odyssey-erp/quotedesk/web"
)

const (
	invoiceTemplate = "templates/pdf/invoice.html"
	invoiceCSS      = "static/css/invoice.css"
)

// HTMLRenderer turns HTML plus assets into PDF bytes.
type HTMLRenderer interface {
	RenderHTML(ctx context.Context, html string, assets map[string][]byte, opts PageOptions) ([]byte, error)
}

// InvoiceRenderer composes invoice documents.
type InvoiceRenderer struct {
	pdf  HTMLRenderer
	tmpl *template.Template
	css  []byte
	now  func() time.Time
}

// InvoiceView is the template input.
type InvoiceView struct {
	Document    *invoices.Document
	Company     company.Details
	Watermark   string
	Paid        bool
	GeneratedAt time.Time
}

// NewInvoiceRenderer parses the embedded template.
func NewInvoiceRenderer(pdf HTMLRenderer) (*InvoiceRenderer, error) {
	funcs := template.FuncMap{
		"money": money.Format,
		"date": func(t *time.Time) string {
			if t == nil || t.IsZero() {
				return "-"
			}
			return t.Format("2 January 2006")
		},
		"day": func(t time.Time) string {
			return t.Format("2 January 2006")
		},
		"percent": func(d decimal.Decimal) string {
			return d.String() + "%"
		},
		"upper": strings.ToUpper,
	}
	tmpl, err := template.New("invoice.html").Funcs(funcs).ParseFS(web.Templates, invoiceTemplate)
	if err != nil {
		return nil, fmt.Errorf("report: parse invoice template: %w", err)
	}
	css, err := fs.ReadFile(web.Static, invoiceCSS)
	if err != nil {
		return nil, fmt.Errorf("report: read invoice css: %w", err)
	}
	return &InvoiceRenderer{pdf: pdf, tmpl: tmpl, css: css, now: time.Now}, nil
}

// HTML renders the document markup.
func (r *InvoiceRenderer) HTML(doc *invoices.Document, seller company.Details) (string, error) {
	view := InvoiceView{
		Document:    doc,
		Company:     seller,
		Watermark:   "UNPAID",
		GeneratedAt: r.now(),
	}
	if doc.Invoice.Paid() {
		view.Watermark = "PAID"
		view.Paid = true
	}
	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("report: execute invoice template: %w", err)
	}
	return buf.String(), nil
}

// PDF renders the document to A4.
func (r *InvoiceRenderer) PDF(ctx context.Context, doc *invoices.Document, seller company.Details) ([]byte, error) {
	html, err := r.HTML(doc, seller)
	if err != nil {
		return nil, err
	}
	return r.pdf.RenderHTML(ctx, html, map[string][]byte{"invoice.css": r.css}, A4)
}

// Filename is the attachment name of an invoice PDF.
func Filename(number string) string {
	return "invoice-" + number + ".pdf"
}
