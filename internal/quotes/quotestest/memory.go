// Package quotestest provides an in-memory quote repository for tests.
package quotestest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/quotedesk/internal/quotes"
)

// Repository implements quotes.RepositoryPort in memory. TryReserve is a
// compare-and-swap under the repository mutex.
type Repository struct {
	mu          sync.Mutex
	quotes      map[int64]*quotes.Quote
	acceptances map[int64]*quotes.Acceptance
	nextID      int64
}

// New constructs an empty Repository.
func New() *Repository {
	return &Repository{
		quotes:      make(map[int64]*quotes.Quote),
		acceptances: make(map[int64]*quotes.Acceptance),
	}
}

// Seed stores a quote, assigning an id and token when missing.
func (r *Repository) Seed(q quotes.Quote) *quotes.Quote {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	q.ID = r.nextID
	if q.Token == uuid.Nil {
		q.Token = uuid.New()
	}
	if q.Status == "" {
		q.Status = quotes.StatusDraft
	}
	r.quotes[q.ID] = &q
	return clone(&q)
}

// Quote returns a snapshot of the stored quote.
func (r *Repository) Quote(id int64) *quotes.Quote {
	r.mu.Lock()
	defer r.mu.Unlock()
	if q, ok := r.quotes[id]; ok {
		return clone(q)
	}
	return nil
}

// Acceptances counts stored acceptances.
func (r *Repository) Acceptances() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.acceptances)
}

func clone(q *quotes.Quote) *quotes.Quote {
	cp := *q
	cp.Items = append([]quotes.Item(nil), q.Items...)
	if q.ReservationStartedAt != nil {
		t := *q.ReservationStartedAt
		cp.ReservationStartedAt = &t
	}
	return &cp
}

func (r *Repository) byToken(token uuid.UUID) *quotes.Quote {
	for _, q := range r.quotes {
		if q.Token == token {
			return q
		}
	}
	return nil
}

func (r *Repository) GetByToken(_ context.Context, token uuid.UUID) (*quotes.Quote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := r.byToken(token)
	if q == nil {
		return nil, quotes.ErrQuoteNotFound
	}
	return clone(q), nil
}

func (r *Repository) LockByToken(ctx context.Context, token uuid.UUID) (*quotes.Quote, error) {
	return r.GetByToken(ctx, token)
}

func (r *Repository) TryReserve(_ context.Context, quoteID int64, claimant string, now time.Time, window time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotes[quoteID]
	if !ok {
		return false, quotes.ErrQuoteNotFound
	}
	if q.ReservationActive(now, window) {
		return false, nil
	}
	q.Reserve(claimant, now)
	return true, nil
}

func (r *Repository) InsertAcceptance(_ context.Context, acc quotes.Acceptance) (*quotes.Acceptance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.acceptances[acc.QuoteID]; ok {
		return nil, quotes.ErrAlreadyAccepted
	}
	r.nextID++
	acc.ID = r.nextID
	r.acceptances[acc.QuoteID] = &acc
	cp := acc
	return &cp, nil
}

func (r *Repository) GetAcceptance(_ context.Context, quoteID int64) (*quotes.Acceptance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	acc, ok := r.acceptances[quoteID]
	if !ok {
		return nil, quotes.ErrQuoteNotFound
	}
	cp := *acc
	return &cp, nil
}

func (r *Repository) MarkAccepted(_ context.Context, quoteID int64, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotes[quoteID]
	if !ok {
		return quotes.ErrQuoteNotFound
	}
	q.Status = quotes.StatusAccepted
	q.ClearReservation()
	q.UpdatedAt = now
	return nil
}

func (r *Repository) SetPublic(_ context.Context, quoteID int64, public bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotes[quoteID]
	if !ok {
		return quotes.ErrQuoteNotFound
	}
	q.IsPublic = public
	return nil
}

func (r *Repository) ListPublic(_ context.Context) ([]quotes.Quote, error) {
	return r.filter(func(q *quotes.Quote) bool { return q.IsPublic }, false), nil
}

func (r *Repository) ListReservedBy(_ context.Context, claimant string, since time.Time) ([]quotes.Quote, error) {
	return r.filter(func(q *quotes.Quote) bool {
		return q.ReservationSessionKey == claimant && q.ReservationStartedAt != nil && q.ReservationStartedAt.After(since)
	}, true), nil
}

func (r *Repository) ListByTokens(_ context.Context, tokens []uuid.UUID) ([]quotes.Quote, error) {
	want := make(map[uuid.UUID]struct{}, len(tokens))
	for _, t := range tokens {
		want[t] = struct{}{}
	}
	return r.filter(func(q *quotes.Quote) bool {
		_, ok := want[q.Token]
		return ok
	}, false), nil
}

func (r *Repository) filter(keep func(*quotes.Quote) bool, byReservation bool) []quotes.Quote {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []quotes.Quote
	for _, q := range r.quotes {
		if keep(q) {
			out = append(out, *clone(q))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if byReservation {
			return out[i].ReservationStartedAt.After(*out[j].ReservationStartedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (r *Repository) Create(_ context.Context, q quotes.Quote) (*quotes.Quote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.quotes {
		if existing.Reference == q.Reference {
			return nil, quotes.ErrReferenceTaken
		}
	}
	r.nextID++
	q.ID = r.nextID
	for i := range q.Items {
		q.Items[i].QuoteID = q.ID
	}
	r.quotes[q.ID] = clone(&q)
	return clone(&q), nil
}

func (r *Repository) ReleaseReservation(_ context.Context, quoteID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.quotes[quoteID]
	if !ok {
		return false, quotes.ErrQuoteNotFound
	}
	held := q.ReservationStartedAt != nil
	q.ClearReservation()
	return held, nil
}
