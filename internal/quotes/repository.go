package quotes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/odyssey-erp/quotedesk/internal/platform/db"
)

// RepositoryPort defines data access for quotes and acceptances.
type RepositoryPort interface {
	GetByToken(ctx context.Context, token uuid.UUID) (*Quote, error)
	LockByToken(ctx context.Context, token uuid.UUID) (*Quote, error)
	TryReserve(ctx context.Context, quoteID int64, claimant string, now time.Time, window time.Duration) (bool, error)
	InsertAcceptance(ctx context.Context, acc Acceptance) (*Acceptance, error)
	GetAcceptance(ctx context.Context, quoteID int64) (*Acceptance, error)
	MarkAccepted(ctx context.Context, quoteID int64, now time.Time) error
	SetPublic(ctx context.Context, quoteID int64, public bool) error
	ListPublic(ctx context.Context) ([]Quote, error)
	ListReservedBy(ctx context.Context, claimant string, since time.Time) ([]Quote, error)
	ListByTokens(ctx context.Context, tokens []uuid.UUID) ([]Quote, error)
	Create(ctx context.Context, q Quote) (*Quote, error)
	ReleaseReservation(ctx context.Context, quoteID int64) (bool, error)
}

// Repository provides pgx-backed persistence.
type Repository struct {
	db *db.TxManager
}

// NewRepository constructs Repository.
func NewRepository(tx *db.TxManager) *Repository {
	return &Repository{db: tx}
}

const quoteColumns = `q.id, q.token, q.reference, q.title, q.notes, q.status, q.is_public,
	q.not_vat_registered, q.valid_until, q.delivery_price, q.reservation_started_at,
	COALESCE(q.reservation_session_key, ''), q.created_at, q.updated_at,
	c.id, COALESCE(c.name, ''), COALESCE(c.email, ''), COALESCE(c.phone, ''), COALESCE(c.company, '')`

const quoteFrom = ` FROM quotes q LEFT JOIN prospective_clients c ON c.id = q.client_id`

func scanQuote(row pgx.Row) (*Quote, error) {
	var (
		q          Quote
		validUntil pgtype.Date
		delivery   pgtype.Numeric
		reserved   pgtype.Timestamptz
		clientID   pgtype.Int8
		client     Client
	)
	if err := row.Scan(&q.ID, &q.Token, &q.Reference, &q.Title, &q.Notes, &q.Status, &q.IsPublic,
		&q.NotVATRegistered, &validUntil, &delivery, &reserved, &q.ReservationSessionKey,
		&q.CreatedAt, &q.UpdatedAt,
		&clientID, &client.Name, &client.Email, &client.Phone, &client.Company); err != nil {
		return nil, err
	}
	if validUntil.Valid {
		t := validUntil.Time
		q.ValidUntil = &t
	}
	if reserved.Valid {
		t := reserved.Time
		q.ReservationStartedAt = &t
	}
	if clientID.Valid {
		client.ID = clientID.Int64
		q.Client = &client
	}
	q.DeliveryPrice = db.Decimal(delivery)
	return &q, nil
}

func (r *Repository) getOne(ctx context.Context, query string, args ...any) (*Quote, error) {
	q, err := scanQuote(r.db.Querier(ctx).QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuoteNotFound
		}
		return nil, fmt.Errorf("quotes: load: %w", err)
	}
	items, err := r.loadItems(ctx, []int64{q.ID})
	if err != nil {
		return nil, err
	}
	q.Items = items[q.ID]
	return q, nil
}

// GetByToken loads a quote with client and items.
func (r *Repository) GetByToken(ctx context.Context, token uuid.UUID) (*Quote, error) {
	return r.getOne(ctx, `SELECT `+quoteColumns+quoteFrom+` WHERE q.token = $1`, token)
}

// LockByToken loads a quote and locks its row for the enclosing transaction.
func (r *Repository) LockByToken(ctx context.Context, token uuid.UUID) (*Quote, error) {
	return r.getOne(ctx, `SELECT `+quoteColumns+quoteFrom+` WHERE q.token = $1 FOR UPDATE OF q`, token)
}

// TryReserve claims the quote only if it is free or its hold has lapsed.
func (r *Repository) TryReserve(ctx context.Context, quoteID int64, claimant string, now time.Time, window time.Duration) (bool, error) {
	tag, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE quotes
		SET reservation_started_at = $2, reservation_session_key = $3, updated_at = $2
		WHERE id = $1
		  AND (reservation_started_at IS NULL OR reservation_started_at + make_interval(secs => $4) <= $2)`,
		quoteID, now, claimant, window.Seconds())
	if err != nil {
		return false, fmt.Errorf("quotes: reserve: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertAcceptance stores the one acceptance a quote may have.
func (r *Repository) InsertAcceptance(ctx context.Context, acc Acceptance) (*Acceptance, error) {
	err := r.db.Querier(ctx).QueryRow(ctx, `
		INSERT INTO quote_acceptances
			(quote_id, full_name, email, phone, company, address_line1, address_line2, city, postcode, notes, accepted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING id`,
		acc.QuoteID, acc.FullName, acc.Email, acc.Phone, acc.Company, acc.AddressLine1,
		acc.AddressLine2, acc.City, acc.Postcode, acc.Notes, acc.AcceptedAt).Scan(&acc.ID)
	if err != nil {
		if db.IsUniqueViolation(err, "quote_acceptances_quote_id_key") {
			return nil, ErrAlreadyAccepted
		}
		return nil, fmt.Errorf("quotes: insert acceptance: %w", err)
	}
	return &acc, nil
}

// GetAcceptance returns the acceptance for a quote or ErrQuoteNotFound.
func (r *Repository) GetAcceptance(ctx context.Context, quoteID int64) (*Acceptance, error) {
	var acc Acceptance
	err := r.db.Querier(ctx).QueryRow(ctx, `
		SELECT id, quote_id, full_name, email, phone, company, address_line1, address_line2, city, postcode, notes, accepted_at
		FROM quote_acceptances WHERE quote_id = $1`, quoteID).
		Scan(&acc.ID, &acc.QuoteID, &acc.FullName, &acc.Email, &acc.Phone, &acc.Company,
			&acc.AddressLine1, &acc.AddressLine2, &acc.City, &acc.Postcode, &acc.Notes, &acc.AcceptedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrQuoteNotFound
		}
		return nil, fmt.Errorf("quotes: get acceptance: %w", err)
	}
	return &acc, nil
}

// MarkAccepted sets status accepted and releases the reservation.
func (r *Repository) MarkAccepted(ctx context.Context, quoteID int64, now time.Time) error {
	_, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE quotes
		SET status = 'accepted', reservation_started_at = NULL, reservation_session_key = NULL, updated_at = $2
		WHERE id = $1`, quoteID, now)
	if err != nil {
		return fmt.Errorf("quotes: mark accepted: %w", err)
	}
	return nil
}

// ReleaseReservation clears any hold, reporting whether one was present.
func (r *Repository) ReleaseReservation(ctx context.Context, quoteID int64) (bool, error) {
	tag, err := r.db.Querier(ctx).Exec(ctx, `
		UPDATE quotes
		SET reservation_started_at = NULL, reservation_session_key = NULL, updated_at = NOW()
		WHERE id = $1 AND reservation_started_at IS NOT NULL`, quoteID)
	if err != nil {
		return false, fmt.Errorf("quotes: release reservation: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Create inserts a quote with its client and items. A clash on the
// reference returns ErrReferenceTaken.
func (r *Repository) Create(ctx context.Context, q Quote) (*Quote, error) {
	qr := r.db.Querier(ctx)
	var clientID pgtype.Int8
	if q.Client != nil {
		if err := qr.QueryRow(ctx, `
			INSERT INTO prospective_clients (name, email, phone, company)
			VALUES ($1, $2, $3, $4)
			RETURNING id`, q.Client.Name, q.Client.Email, q.Client.Phone, q.Client.Company).Scan(&q.Client.ID); err != nil {
			return nil, fmt.Errorf("quotes: insert client: %w", err)
		}
		clientID = pgtype.Int8{Int64: q.Client.ID, Valid: true}
	}
	var validUntil pgtype.Date
	if q.ValidUntil != nil {
		validUntil = pgtype.Date{Time: *q.ValidUntil, Valid: true}
	}
	err := qr.QueryRow(ctx, `
		INSERT INTO quotes (token, reference, title, notes, status, is_public, not_vat_registered,
			valid_until, delivery_price, client_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING id`,
		q.Token, q.Reference, q.Title, q.Notes, q.Status, q.IsPublic, q.NotVATRegistered,
		validUntil, db.Numeric(q.DeliveryPrice), clientID, q.CreatedAt).Scan(&q.ID)
	if err != nil {
		if db.IsUniqueViolation(err, "quotes_reference_key") {
			return nil, ErrReferenceTaken
		}
		return nil, fmt.Errorf("quotes: insert quote: %w", err)
	}
	q.UpdatedAt = q.CreatedAt
	for i := range q.Items {
		item := &q.Items[i]
		item.QuoteID = q.ID
		if err := qr.QueryRow(ctx, `
			INSERT INTO quote_items (quote_id, description, quantity, unit_price, vat_rate, position)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id`,
			q.ID, item.Description, item.Quantity, db.Numeric(item.UnitPrice), db.Numeric(item.VATRate), item.Position).Scan(&item.ID); err != nil {
			return nil, fmt.Errorf("quotes: insert item: %w", err)
		}
	}
	return &q, nil
}

// SetPublic toggles browse-list visibility.
func (r *Repository) SetPublic(ctx context.Context, quoteID int64, public bool) error {
	_, err := r.db.Querier(ctx).Exec(ctx, `UPDATE quotes SET is_public = $2, updated_at = NOW() WHERE id = $1`, quoteID, public)
	if err != nil {
		return fmt.Errorf("quotes: set public: %w", err)
	}
	return nil
}

// ListPublic returns public quotes newest first.
func (r *Repository) ListPublic(ctx context.Context) ([]Quote, error) {
	return r.list(ctx, `SELECT `+quoteColumns+quoteFrom+` WHERE q.is_public ORDER BY q.created_at DESC`)
}

// ListReservedBy returns quotes whose hold by claimant started after since.
func (r *Repository) ListReservedBy(ctx context.Context, claimant string, since time.Time) ([]Quote, error) {
	return r.list(ctx, `SELECT `+quoteColumns+quoteFrom+`
		WHERE q.reservation_session_key = $1 AND q.reservation_started_at > $2
		ORDER BY q.reservation_started_at DESC`, claimant, since)
}

// ListByTokens returns the quotes matching tokens the caller already holds.
func (r *Repository) ListByTokens(ctx context.Context, tokens []uuid.UUID) ([]Quote, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	return r.list(ctx, `SELECT `+quoteColumns+quoteFrom+` WHERE q.token = ANY($1) ORDER BY q.created_at DESC`, tokens)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Quote, error) {
	rows, err := r.db.Querier(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("quotes: list: %w", err)
	}
	defer rows.Close()

	var (
		out []Quote
		ids []int64
	)
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, fmt.Errorf("quotes: scan: %w", err)
		}
		out = append(out, *q)
		ids = append(ids, q.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func (r *Repository) loadItems(ctx context.Context, quoteIDs []int64) (map[int64][]Item, error) {
	out := make(map[int64][]Item, len(quoteIDs))
	if len(quoteIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.Querier(ctx).Query(ctx, `
		SELECT id, quote_id, description, quantity, unit_price, vat_rate, position
		FROM quote_items WHERE quote_id = ANY($1) ORDER BY quote_id, position, id`, quoteIDs)
	if err != nil {
		return nil, fmt.Errorf("quotes: load items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			it         Item
			unit, rate pgtype.Numeric
		)
		if err := rows.Scan(&it.ID, &it.QuoteID, &it.Description, &it.Quantity, &unit, &rate, &it.Position); err != nil {
			return nil, fmt.Errorf("quotes: scan item: %w", err)
		}
		it.UnitPrice = db.Decimal(unit)
		it.VATRate = db.Decimal(rate)
		out[it.QuoteID] = append(out[it.QuoteID], it)
	}
	return out, rows.Err()
}
