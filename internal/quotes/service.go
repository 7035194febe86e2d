package quotes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/quotedesk/internal/invoices"
	"github.com/odyssey-erp/quotedesk/internal/platform/db"
	"github.com/odyssey-erp/quotedesk/internal/platform/httpx"
)

// InvoiceIssuer creates the invoice snapshot for an accepted quote.
type InvoiceIssuer interface {
	CreateFromQuote(ctx context.Context, in invoices.FromQuoteInput) (*invoices.Invoice, error)
	GetByQuote(ctx context.Context, quoteID int64) (*invoices.Invoice, error)
}

// Metrics observes reservation attempts.
type Metrics interface {
	ReservationAttempt(outcome string)
}

// Service runs the public quote flow: viewing, reserving and accepting.
type Service struct {
	repo     RepositoryPort
	tx       db.Transactor
	invoices InvoiceIssuer
	validate *validator.Validate
	metrics  Metrics
	logger   *slog.Logger
	now      func() time.Time
	window   time.Duration
}

// Option customises a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithReservationWindow overrides the 15 minute hold.
func WithReservationWindow(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithMetrics enables reservation metrics.
func WithMetrics(m Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, tx db.Transactor, issuer InvoiceIssuer, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	s := &Service{
		repo:     repo,
		tx:       tx,
		invoices: issuer,
		validate: v,
		logger:   logger,
		now:      time.Now,
		window:   DefaultReservationWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// View is a quote as seen by one claimant at one instant.
type View struct {
	Quote       *Quote
	Totals      Totals
	Reservation ReservationState
	Available   bool
	Expired     bool
}

func (s *Service) view(q *Quote, claimant string) *View {
	now := s.now()
	return &View{
		Quote:       q,
		Totals:      q.Totals(),
		Reservation: q.Reservation(claimant, now, s.window),
		Available:   q.Available(now),
		Expired:     q.Expired(now),
	}
}

// View loads a quote by token for display.
func (s *Service) View(ctx context.Context, token uuid.UUID, claimant string) (*View, error) {
	q, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.view(q, claimant), nil
}

// BeginAcceptance acquires the reservation for claimant, or keeps the one it
// already holds. Another claimant's active hold yields ErrReservationHeld.
func (s *Service) BeginAcceptance(ctx context.Context, token uuid.UUID, claimant string) (*View, error) {
	if claimant == "" {
		return nil, ErrClaimantRequired
	}
	q, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !q.Available(now) {
		return nil, ErrUnavailable
	}
	if q.ReservedBy(claimant, now, s.window) {
		s.observe("kept")
		return s.view(q, claimant), nil
	}
	if q.ReservedByOther(claimant, now, s.window) {
		s.observe("conflict")
		return nil, ErrReservationHeld
	}
	won, err := s.repo.TryReserve(ctx, q.ID, claimant, now, s.window)
	if err != nil {
		return nil, err
	}
	if !won {
		// Lost the race between our read and the conditional update.
		s.observe("conflict")
		return nil, ErrReservationHeld
	}
	s.observe("acquired")
	q.Reserve(claimant, now)
	s.logger.Info("quote reserved", slog.String("quote", q.Reference))
	return s.view(q, claimant), nil
}

// Result is the outcome of a successful acceptance.
type Result struct {
	Quote      *Quote
	Acceptance *Acceptance
	Invoice    *invoices.Invoice
}

// SubmitAcceptance records the acceptance for the reservation holder, marks
// the quote accepted, releases the hold and issues the invoice, atomically.
func (s *Service) SubmitAcceptance(ctx context.Context, token uuid.UUID, claimant string, form AcceptanceForm, userID *int64) (*Result, error) {
	q, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if !q.Available(now) {
		return nil, ErrUnavailable
	}
	if !q.ReservedBy(claimant, now, s.window) {
		return nil, ErrReservationLost
	}
	form.normalize()
	if err := s.validateForm(form); err != nil {
		return nil, err
	}

	var res Result
	err = s.tx.Transact(ctx, func(ctx context.Context) error {
		locked, err := s.repo.LockByToken(ctx, token)
		if err != nil {
			return err
		}
		now := s.now()
		if !locked.Available(now) {
			return ErrUnavailable
		}
		if !locked.ReservedBy(claimant, now, s.window) {
			return ErrReservationLost
		}
		acc, err := s.repo.InsertAcceptance(ctx, Acceptance{
			QuoteID:      locked.ID,
			FullName:     form.FullName,
			Email:        form.Email,
			Phone:        form.Phone,
			Company:      form.Company,
			AddressLine1: form.AddressLine1,
			AddressLine2: form.AddressLine2,
			City:         form.City,
			Postcode:     form.Postcode,
			Notes:        form.Notes,
			AcceptedAt:   now,
		})
		if err != nil {
			return err
		}
		if err := s.repo.MarkAccepted(ctx, locked.ID, now); err != nil {
			return err
		}
		locked.Status = StatusAccepted
		locked.ClearReservation()

		inv, err := s.issueInvoice(ctx, locked, acc, userID)
		if err != nil {
			return err
		}
		if locked.IsPublic {
			if err := s.repo.SetPublic(ctx, locked.ID, false); err != nil {
				return err
			}
			locked.IsPublic = false
		}
		res = Result{Quote: locked, Acceptance: acc, Invoice: inv}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("quote accepted",
		slog.String("quote", res.Quote.Reference),
		slog.String("invoice", res.Invoice.Number))
	return &res, nil
}

func (s *Service) issueInvoice(ctx context.Context, q *Quote, acc *Acceptance, userID *int64) (*invoices.Invoice, error) {
	t := q.Totals()
	inv, err := s.invoices.CreateFromQuote(ctx, invoices.FromQuoteInput{
		QuoteID:     q.ID,
		UserID:      userID,
		Subtotal:    t.Subtotal,
		Delivery:    t.Delivery,
		VAT:         t.VAT,
		Total:       t.Total,
		ClientName:  acc.FullName,
		ClientEmail: acc.Email,
		ClientPhone: acc.Phone,
	})
	if errors.Is(err, invoices.ErrInvoiceExists) {
		return s.invoices.GetByQuote(ctx, q.ID)
	}
	return inv, err
}

// Thanks returns the quote and its invoice, if one exists.
func (s *Service) Thanks(ctx context.Context, token uuid.UUID) (*Quote, *invoices.Invoice, error) {
	q, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	inv, err := s.invoices.GetByQuote(ctx, q.ID)
	if err != nil {
		if errors.Is(err, invoices.ErrInvoiceNotFound) {
			return q, nil, nil
		}
		return nil, nil, err
	}
	return q, inv, nil
}

// Summary is a quote row on the browse page.
type Summary struct {
	Token       uuid.UUID        `json:"token"`
	Reference   string           `json:"reference"`
	Title       string           `json:"title"`
	Total       decimal.Decimal  `json:"total"`
	ValidUntil  *time.Time       `json:"valid_until,omitempty"`
	Reservation ReservationState `json:"reservation"`
}

// BrowseView is the public landing page model.
type BrowseView struct {
	Quotes         []Summary `json:"quotes"`
	ReservedCount  int       `json:"public_reserved_count"`
	AvailableCount int       `json:"public_available_count"`
	ReservedByMe   []Summary `json:"reserved_by_me"`
	VisitedPublic  []Summary `json:"visited_public"`
	VisitedPrivate []Summary `json:"visited_private"`
}

// Browse lists public quotes, hiding those held by other claimants, plus the
// claimant's own holds and the quotes it has visited by token.
func (s *Service) Browse(ctx context.Context, claimant string, visited []string) (*BrowseView, error) {
	now := s.now()
	public, err := s.repo.ListPublic(ctx)
	if err != nil {
		return nil, err
	}
	out := &BrowseView{}
	for i := range public {
		q := &public[i]
		if q.ReservationActive(now, s.window) {
			out.ReservedCount++
		} else {
			out.AvailableCount++
		}
		if q.ReservedByOther(claimant, now, s.window) {
			continue
		}
		out.Quotes = append(out.Quotes, s.summary(q, claimant, now))
	}

	if claimant != "" {
		mine, err := s.repo.ListReservedBy(ctx, claimant, now.Add(-s.window))
		if err != nil {
			return nil, err
		}
		for i := range mine {
			if mine[i].ReservedBy(claimant, now, s.window) {
				out.ReservedByMe = append(out.ReservedByMe, s.summary(&mine[i], claimant, now))
			}
		}
	}

	tokens := make([]uuid.UUID, 0, len(visited))
	for _, raw := range visited {
		if tok, err := uuid.Parse(raw); err == nil {
			tokens = append(tokens, tok)
		}
	}
	seen, err := s.repo.ListByTokens(ctx, tokens)
	if err != nil {
		return nil, err
	}
	for i := range seen {
		sum := s.summary(&seen[i], claimant, now)
		if seen[i].IsPublic {
			out.VisitedPublic = append(out.VisitedPublic, sum)
		} else {
			out.VisitedPrivate = append(out.VisitedPrivate, sum)
		}
	}
	return out, nil
}

func (s *Service) summary(q *Quote, claimant string, now time.Time) Summary {
	return Summary{
		Token:       q.Token,
		Reference:   q.Reference,
		Title:       q.Title,
		Total:       q.Totals().Total,
		ValidUntil:  q.ValidUntil,
		Reservation: q.Reservation(claimant, now, s.window),
	}
}

func (s *Service) validateForm(form AcceptanceForm) error {
	if err := s.validate.Struct(form); err != nil {
		return fmt.Errorf("quote acceptance: %w", s.fieldErrors(err))
	}
	return nil
}

// fieldErrors turns validator failures into FieldErrors keyed by JSON path.
func (s *Service) fieldErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := httpx.FieldErrors{}
	for _, fe := range verrs {
		key := fe.Namespace()
		if i := strings.IndexByte(key, '.'); i >= 0 {
			key = key[i+1:]
		}
		fields[key] = fieldMessage(fe)
	}
	return fields
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "max":
		return fmt.Sprintf("Ensure this value has at most %s characters.", fe.Param())
	case "min":
		return fmt.Sprintf("Ensure this value is at least %s.", fe.Param())
	case "oneof":
		return "Select one of: " + fe.Param() + "."
	case "datetime":
		return "Enter a date as YYYY-MM-DD."
	default:
		return "Invalid value."
	}
}

func (s *Service) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.ReservationAttempt(outcome)
	}
}
