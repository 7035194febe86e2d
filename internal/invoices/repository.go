package invoices

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-erp/quotedesk/internal/platform/db"
)

// RepositoryPort defines data access for invoices, their ledger and events.
type RepositoryPort interface {
	Create(ctx context.Context, inv Invoice) (*Invoice, error)
	ExistsForQuote(ctx context.Context, quoteID int64) (bool, error)
	GetByNumber(ctx context.Context, number string) (*Invoice, error)
	GetByQuote(ctx context.Context, quoteID int64) (*Invoice, error)
	LockByNumber(ctx context.Context, number string) (*Invoice, error)
	GetForCustomer(ctx context.Context, number string, userID int64) (*Invoice, error)
	ListForCustomer(ctx context.Context, userID int64) ([]Invoice, error)
	MarkPaid(ctx context.Context, invoiceID int64, at time.Time) (bool, error)
	SetItemsInStock(ctx context.Context, invoiceID int64, at time.Time) error
	SetBuildDate(ctx context.Context, invoiceID int64, date time.Time) error
	SetShippingDate(ctx context.Context, invoiceID int64, date time.Time) error

	InsertPayment(ctx context.Context, p Payment) (*Payment, error)
	TransitionPayment(ctx context.Context, invoiceID, paymentID int64, to PaymentStatus) (bool, error)
	GetPayment(ctx context.Context, invoiceID, paymentID int64) (*Payment, error)
	FindPaymentByReference(ctx context.Context, invoiceID int64, provider, reference string) (*Payment, error)
	ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error)

	InsertEvent(ctx context.Context, ev Event) (*Event, error)
	ListEvents(ctx context.Context, invoiceID int64) ([]Event, error)
	ListLineItems(ctx context.Context, quoteID int64) ([]LineItem, error)
}

// Repository provides pgx-backed persistence.
type Repository struct {
	db *db.TxManager
}

// NewRepository constructs Repository.
func NewRepository(tx *db.TxManager) *Repository {
	return &Repository{db: tx}
}

const invoiceColumns = `id, quote_id, user_id, assigned_to, number, client_name, client_email, client_phone,
	subtotal, delivery_price, vat_amount, total, status, paid_at, items_in_stock_at, build_date, shipping_date, created_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var (
		inv                     Invoice
		userID, assignedTo      pgtype.Int8
		subtotal, delivery, vat pgtype.Numeric
		total                   pgtype.Numeric
		paidAt, inStock         pgtype.Timestamptz
		buildDate, shippingDate pgtype.Date
	)
	if err := row.Scan(&inv.ID, &inv.QuoteID, &userID, &assignedTo, &inv.Number,
		&inv.ClientName, &inv.ClientEmail, &inv.ClientPhone,
		&subtotal, &delivery, &vat, &total, &inv.Status, &paidAt, &inStock,
		&buildDate, &shippingDate, &inv.CreatedAt); err != nil {
		return nil, err
	}
	if userID.Valid {
		inv.UserID = &userID.Int64
	}
	if assignedTo.Valid {
		inv.AssignedTo = &assignedTo.Int64
	}
	inv.Subtotal = db.Decimal(subtotal)
	inv.Delivery = db.Decimal(delivery)
	inv.VAT = db.Decimal(vat)
	inv.Total = db.Decimal(total)
	inv.PaidAt = timePtr(paidAt)
	inv.ItemsInStockAt = timePtr(inStock)
	inv.BuildDate = datePtr(buildDate)
	inv.ShippingDate = datePtr(shippingDate)
	return &inv, nil
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}

func datePtr(d pgtype.Date) *time.Time {
	if !d.Valid {
		return nil
	}
	t := d.Time
	return &t
}

func (r *Repository) getOne(ctx context.Context, query string, args ...any) (*Invoice, error) {
	inv, err := scanInvoice(r.db.Querier(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("invoices: load: %w", err)
	}
	return inv, nil
}

// Create inserts the invoice. The unique index on quote_id rejects a second one.
func (r *Repository) Create(ctx context.Context, inv Invoice) (*Invoice, error) {
	err := r.db.Querier(ctx).QueryRow(ctx, `
		INSERT INTO invoices (quote_id, user_id, number, client_name, client_email, client_phone,
			subtotal, delivery_price, vat_amount, total, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id`,
		inv.QuoteID, inv.UserID, inv.Number, inv.ClientName, inv.ClientEmail, inv.ClientPhone,
		db.Numeric(inv.Subtotal), db.Numeric(inv.Delivery), db.Numeric(inv.VAT), db.Numeric(inv.Total),
		inv.Status, inv.CreatedAt).Scan(&inv.ID)
	if err != nil {
		switch {
		case db.IsUniqueViolation(err, "invoices_quote_id_key"):
			return nil, ErrInvoiceExists
		case db.IsUniqueViolation(err, "invoices_number_key"):
			return nil, errNumberTaken
		}
		return nil, fmt.Errorf("invoices: create: %w", err)
	}
	return &inv, nil
}

// ExistsForQuote reports whether the quote already produced an invoice.
func (r *Repository) ExistsForQuote(ctx context.Context, quoteID int64) (bool, error) {
	var exists bool
	err := r.db.Querier(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM invoices WHERE quote_id = $1)`, quoteID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("invoices: exists: %w", err)
	}
	return exists, nil
}

// GetByNumber loads an invoice by number.
func (r *Repository) GetByNumber(ctx context.Context, number string) (*Invoice, error) {
	return r.getOne(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE number = $1`, number)
}

// GetByQuote loads the invoice created from a quote.
func (r *Repository) GetByQuote(ctx context.Context, quoteID int64) (*Invoice, error) {
	return r.getOne(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE quote_id = $1`, quoteID)
}

// LockByNumber loads and row-locks an invoice for the enclosing transaction.
func (r *Repository) LockByNumber(ctx context.Context, number string) (*Invoice, error) {
	return r.getOne(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE number = $1 FOR UPDATE`, number)
}

const customerScope = `(user_id = $1 OR (user_id IS NULL AND client_email <> ''
	AND lower(client_email) = (SELECT lower(email) FROM users WHERE id = $1)))`

// GetForCustomer loads an invoice only if the user owns it.
func (r *Repository) GetForCustomer(ctx context.Context, number string, userID int64) (*Invoice, error) {
	return r.getOne(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE number = $2 AND `+customerScope, userID, number)
}

// ListForCustomer lists the user's invoices newest first.
func (r *Repository) ListForCustomer(ctx context.Context, userID int64) ([]Invoice, error) {
	rows, err := r.db.Querier(ctx).Query(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE `+customerScope+` ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("invoices: list: %w", err)
	}
	defer rows.Close()
	var out []Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("invoices: scan: %w", err)
		}
		out = append(out, *inv)
	}
	return out, rows.Err()
}

// MarkPaid flips unpaid → paid. It reports false when the invoice was already paid.
func (r *Repository) MarkPaid(ctx context.Context, invoiceID int64, at time.Time) (bool, error) {
	tag, err := r.db.Querier(ctx).Exec(ctx,
		`UPDATE invoices SET status = 'paid', paid_at = $2 WHERE id = $1 AND status = 'unpaid'`, invoiceID, at)
	if err != nil {
		return false, fmt.Errorf("invoices: mark paid: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetItemsInStock stamps the stock confirmation.
func (r *Repository) SetItemsInStock(ctx context.Context, invoiceID int64, at time.Time) error {
	_, err := r.db.Querier(ctx).Exec(ctx, `UPDATE invoices SET items_in_stock_at = $2 WHERE id = $1`, invoiceID, at)
	if err != nil {
		return fmt.Errorf("invoices: set stock: %w", err)
	}
	return nil
}

// SetBuildDate stores the scheduled build date.
func (r *Repository) SetBuildDate(ctx context.Context, invoiceID int64, date time.Time) error {
	_, err := r.db.Querier(ctx).Exec(ctx, `UPDATE invoices SET build_date = $2 WHERE id = $1`, invoiceID, pgtype.Date{Time: date, Valid: true})
	if err != nil {
		return fmt.Errorf("invoices: set build date: %w", err)
	}
	return nil
}

// SetShippingDate stores the scheduled shipping date.
func (r *Repository) SetShippingDate(ctx context.Context, invoiceID int64, date time.Time) error {
	_, err := r.db.Querier(ctx).Exec(ctx, `UPDATE invoices SET shipping_date = $2 WHERE id = $1`, invoiceID, pgtype.Date{Time: date, Valid: true})
	if err != nil {
		return fmt.Errorf("invoices: set shipping date: %w", err)
	}
	return nil
}

const paymentColumns = `id, invoice_id, method, amount, status, provider, provider_reference, created_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var (
		p      Payment
		amount pgtype.Numeric
	)
	if err := row.Scan(&p.ID, &p.InvoiceID, &p.Method, &amount, &p.Status, &p.Provider, &p.ProviderReference, &p.CreatedAt); err != nil {
		return nil, err
	}
	p.Amount = db.Decimal(amount)
	return &p, nil
}

// InsertPayment appends a ledger row.
func (r *Repository) InsertPayment(ctx context.Context, p Payment) (*Payment, error) {
	err := r.db.Querier(ctx).QueryRow(ctx, `
		INSERT INTO invoice_payments (invoice_id, method, amount, status, provider, provider_reference, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING id`,
		p.InvoiceID, p.Method, db.Numeric(p.Amount), p.Status, p.Provider, p.ProviderReference, p.CreatedAt).Scan(&p.ID)
	if err != nil {
		return nil, fmt.Errorf("invoices: insert payment: %w", err)
	}
	return &p, nil
}

// TransitionPayment moves a pending row to a terminal status.
func (r *Repository) TransitionPayment(ctx context.Context, invoiceID, paymentID int64, to PaymentStatus) (bool, error) {
	tag, err := r.db.Querier(ctx).Exec(ctx,
		`UPDATE invoice_payments SET status = $3 WHERE id = $2 AND invoice_id = $1 AND status = 'pending'`,
		invoiceID, paymentID, to)
	if err != nil {
		return false, fmt.Errorf("invoices: transition payment: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetPayment loads one ledger row of an invoice.
func (r *Repository) GetPayment(ctx context.Context, invoiceID, paymentID int64) (*Payment, error) {
	p, err := scanPayment(r.db.Querier(ctx).QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM invoice_payments WHERE id = $2 AND invoice_id = $1`, invoiceID, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("invoices: get payment: %w", err)
	}
	return p, nil
}

// FindPaymentByReference returns the earliest row carrying the provider reference, or nil.
func (r *Repository) FindPaymentByReference(ctx context.Context, invoiceID int64, provider, reference string) (*Payment, error) {
	p, err := scanPayment(r.db.Querier(ctx).QueryRow(ctx, `
		SELECT `+paymentColumns+` FROM invoice_payments
		WHERE invoice_id = $1 AND provider = $2 AND provider_reference = $3
		ORDER BY created_at, id LIMIT 1`, invoiceID, provider, reference))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("invoices: find payment: %w", err)
	}
	return p, nil
}

// ListPayments returns ledger rows in creation order.
func (r *Repository) ListPayments(ctx context.Context, invoiceID int64) ([]Payment, error) {
	rows, err := r.db.Querier(ctx).Query(ctx,
		`SELECT `+paymentColumns+` FROM invoice_payments WHERE invoice_id = $1 ORDER BY created_at, id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("invoices: list payments: %w", err)
	}
	defer rows.Close()
	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("invoices: scan payment: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// InsertEvent appends an event row.
func (r *Repository) InsertEvent(ctx context.Context, ev Event) (*Event, error) {
	err := r.db.Querier(ctx).QueryRow(ctx,
		`INSERT INTO invoice_events (invoice_id, type, message, created_at) VALUES ($1,$2,$3,$4) RETURNING id`,
		ev.InvoiceID, ev.Type, ev.Message, ev.CreatedAt).Scan(&ev.ID)
	if err != nil {
		return nil, fmt.Errorf("invoices: insert event: %w", err)
	}
	return &ev, nil
}

// ListEvents returns events in creation order.
func (r *Repository) ListEvents(ctx context.Context, invoiceID int64) ([]Event, error) {
	rows, err := r.db.Querier(ctx).Query(ctx,
		`SELECT id, invoice_id, type, message, created_at FROM invoice_events WHERE invoice_id = $1 ORDER BY created_at, id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("invoices: list events: %w", err)
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.InvoiceID, &ev.Type, &ev.Message, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("invoices: scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ListLineItems reads the quote lines shown on invoice documents.
func (r *Repository) ListLineItems(ctx context.Context, quoteID int64) ([]LineItem, error) {
	rows, err := r.db.Querier(ctx).Query(ctx, `
		SELECT description, quantity, unit_price, vat_rate
		FROM quote_items WHERE quote_id = $1 ORDER BY position, id`, quoteID)
	if err != nil {
		return nil, fmt.Errorf("invoices: list items: %w", err)
	}
	defer rows.Close()
	var out []LineItem
	for rows.Next() {
		var (
			it         LineItem
			unit, rate pgtype.Numeric
		)
		if err := rows.Scan(&it.Description, &it.Quantity, &unit, &rate); err != nil {
			return nil, fmt.Errorf("invoices: scan item: %w", err)
		}
		it.UnitPrice = db.Decimal(unit)
		it.VATRate = db.Decimal(rate)
		out = append(out, it)
	}
	return out, rows.Err()
}
