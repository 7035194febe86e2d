// Package invoicestest provides an in-memory invoice repository for tests.
package invoicestest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/odyssey-erp/quotedesk/internal/invoices"
)

// Repository implements invoices.RepositoryPort in memory. Row locks are
// modelled by the transactor serialising whole transactions.
type Repository struct {
	mu        sync.Mutex
	invoices  map[int64]*invoices.Invoice
	payments  []invoices.Payment
	events    []invoices.Event
	items     map[int64][]invoices.LineItem
	userEmail map[int64]string
	nextID    int64

	// FailInsertPayment makes the next InsertPayment fail.
	FailInsertPayment error
}

// New constructs an empty Repository.
func New() *Repository {
	return &Repository{
		invoices:  make(map[int64]*invoices.Invoice),
		items:     make(map[int64][]invoices.LineItem),
		userEmail: make(map[int64]string),
	}
}

// AddUser registers a user's email for ownership checks.
func (r *Repository) AddUser(id int64, email string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userEmail[id] = email
}

// AddItems registers quote lines for documents.
func (r *Repository) AddItems(quoteID int64, items ...invoices.LineItem) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[quoteID] = append(r.items[quoteID], items...)
}

// Seed stores an invoice directly and returns it with an id.
func (r *Repository) Seed(inv invoices.Invoice) *invoices.Invoice {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	inv.ID = r.nextID
	if inv.Status == "" {
		inv.Status = invoices.StatusUnpaid
	}
	r.invoices[inv.ID] = &inv
	cp := inv
	return &cp
}

// Payments returns a copy of the ledger rows of an invoice.
func (r *Repository) Payments(invoiceID int64) []invoices.Payment {
	out, _ := r.ListPayments(context.Background(), invoiceID)
	return out
}

// Events returns a copy of the events of an invoice.
func (r *Repository) Events(invoiceID int64) []invoices.Event {
	out, _ := r.ListEvents(context.Background(), invoiceID)
	return out
}

func (r *Repository) id() int64 {
	r.nextID++
	return r.nextID
}

func (r *Repository) byNumber(number string) *invoices.Invoice {
	for _, inv := range r.invoices {
		if inv.Number == number {
			return inv
		}
	}
	return nil
}

func (r *Repository) Create(_ context.Context, inv invoices.Invoice) (*invoices.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.invoices {
		if existing.QuoteID == inv.QuoteID {
			return nil, invoices.ErrInvoiceExists
		}
	}
	inv.ID = r.id()
	r.invoices[inv.ID] = &inv
	cp := inv
	return &cp, nil
}

func (r *Repository) ExistsForQuote(_ context.Context, quoteID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invoices {
		if inv.QuoteID == quoteID {
			return true, nil
		}
	}
	return false, nil
}

func (r *Repository) GetByNumber(_ context.Context, number string) (*invoices.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv := r.byNumber(number)
	if inv == nil {
		return nil, invoices.ErrInvoiceNotFound
	}
	cp := *inv
	return &cp, nil
}

func (r *Repository) GetByQuote(_ context.Context, quoteID int64) (*invoices.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.invoices {
		if inv.QuoteID == quoteID {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, invoices.ErrInvoiceNotFound
}

func (r *Repository) LockByNumber(ctx context.Context, number string) (*invoices.Invoice, error) {
	return r.GetByNumber(ctx, number)
}

func (r *Repository) GetForCustomer(ctx context.Context, number string, userID int64) (*invoices.Invoice, error) {
	inv, err := r.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	email := r.userEmail[userID]
	r.mu.Unlock()
	if !inv.OwnedBy(userID, email) {
		return nil, invoices.ErrInvoiceNotFound
	}
	return inv, nil
}

func (r *Repository) ListForCustomer(_ context.Context, userID int64) ([]invoices.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := r.userEmail[userID]
	var out []invoices.Invoice
	for _, inv := range r.invoices {
		if inv.OwnedBy(userID, email) {
			out = append(out, *inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (r *Repository) MarkPaid(_ context.Context, invoiceID int64, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv, ok := r.invoices[invoiceID]
	if !ok || inv.Status != invoices.StatusUnpaid {
		return false, nil
	}
	inv.Status = invoices.StatusPaid
	inv.PaidAt = &at
	return true, nil
}

func (r *Repository) SetItemsInStock(_ context.Context, invoiceID int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inv, ok := r.invoices[invoiceID]; ok {
		inv.ItemsInStockAt = &at
	}
	return nil
}

func (r *Repository) SetBuildDate(_ context.Context, invoiceID int64, date time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inv, ok := r.invoices[invoiceID]; ok {
		inv.BuildDate = &date
	}
	return nil
}

func (r *Repository) SetShippingDate(_ context.Context, invoiceID int64, date time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inv, ok := r.invoices[invoiceID]; ok {
		inv.ShippingDate = &date
	}
	return nil
}

func (r *Repository) InsertPayment(_ context.Context, p invoices.Payment) (*invoices.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.FailInsertPayment; err != nil {
		r.FailInsertPayment = nil
		return nil, err
	}
	p.ID = r.id()
	r.payments = append(r.payments, p)
	return &p, nil
}

func (r *Repository) TransitionPayment(_ context.Context, invoiceID, paymentID int64, to invoices.PaymentStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.payments {
		p := &r.payments[i]
		if p.ID == paymentID && p.InvoiceID == invoiceID && p.Status == invoices.PaymentPending {
			p.Status = to
			return true, nil
		}
	}
	return false, nil
}

func (r *Repository) GetPayment(_ context.Context, invoiceID, paymentID int64) (*invoices.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.ID == paymentID && p.InvoiceID == invoiceID {
			return &p, nil
		}
	}
	return nil, invoices.ErrPaymentNotFound
}

func (r *Repository) FindPaymentByReference(_ context.Context, invoiceID int64, provider, reference string) (*invoices.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.InvoiceID == invoiceID && p.Provider == provider && p.ProviderReference == reference {
			return &p, nil
		}
	}
	return nil, nil
}

func (r *Repository) ListPayments(_ context.Context, invoiceID int64) ([]invoices.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []invoices.Payment
	for _, p := range r.payments {
		if p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *Repository) InsertEvent(_ context.Context, ev invoices.Event) (*invoices.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = r.id()
	r.events = append(r.events, ev)
	return &ev, nil
}

func (r *Repository) ListEvents(_ context.Context, invoiceID int64) ([]invoices.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []invoices.Event
	for _, ev := range r.events {
		if ev.InvoiceID == invoiceID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (r *Repository) ListLineItems(_ context.Context, quoteID int64) ([]invoices.LineItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]invoices.LineItem(nil), r.items[quoteID]...), nil
}

// Notifier records notifications and can be told to fail.
type Notifier struct {
	mu   sync.Mutex
	Sent []invoices.Notification
	Err  error
}

func (n *Notifier) Notify(_ context.Context, msg invoices.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Sent = append(n.Sent, msg)
	return n.Err
}

// Subjects lists the subjects sent so far.
func (n *Notifier) Subjects() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.Sent))
	for _, s := range n.Sent {
		out = append(out, s.Subject)
	}
	return out
}

// CountEvents counts events of a type.
func CountEvents(events []invoices.Event, typ invoices.EventType) int {
	n := 0
	for _, ev := range events {
		if strings.EqualFold(string(ev.Type), string(typ)) {
			n++
		}
	}
	return n
}
