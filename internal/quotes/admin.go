package quotes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/quotedesk/internal/platform/httpx"
	"github.com/odyssey-erp/quotedesk/internal/shared"
)

// DefaultDeliveryPrice applies when a draft leaves delivery unset.
var DefaultDeliveryPrice = decimal.RequireFromString("20.00")

const referenceAttempts = 3

// Draft is an operator-authored quote, typically read from an import file.
type Draft struct {
	Reference        string           `json:"reference"`
	Title            string           `json:"title" validate:"required,max=200"`
	Notes            string           `json:"notes"`
	Status           Status           `json:"status" validate:"omitempty,oneof=draft sent accepted declined expired"`
	IsPublic         bool             `json:"is_public"`
	NotVATRegistered *bool            `json:"not_vat_registered"`
	ValidUntil       string           `json:"valid_until" validate:"omitempty,datetime=2006-01-02"`
	DeliveryPrice    *decimal.Decimal `json:"delivery_price"`
	Client           *DraftClient     `json:"client"`
	Items            []DraftItem      `json:"items" validate:"required,min=1,dive"`
}

// DraftClient is the prospective client on a draft.
type DraftClient struct {
	Name    string `json:"name" validate:"required,max=200"`
	Email   string `json:"email" validate:"omitempty,email"`
	Phone   string `json:"phone"`
	Company string `json:"company"`
}

// DraftItem is one priced line on a draft.
type DraftItem struct {
	Description string          `json:"description" validate:"required,max=255"`
	Quantity    int             `json:"quantity" validate:"min=1"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VATRate     decimal.Decimal `json:"vat_rate"`
}

// Create stores a draft as a new quote with a fresh token. A blank reference
// is generated as Q-YYYYMMDD-XXXXXX.
func (s *Service) Create(ctx context.Context, d Draft) (*Quote, error) {
	if err := s.validateDraft(d); err != nil {
		return nil, err
	}
	now := s.now()
	q := Quote{
		Token:            uuid.New(),
		Reference:        strings.TrimSpace(d.Reference),
		Title:            strings.TrimSpace(d.Title),
		Notes:            strings.TrimSpace(d.Notes),
		Status:           d.Status,
		IsPublic:         d.IsPublic,
		NotVATRegistered: true,
		DeliveryPrice:    DefaultDeliveryPrice,
		CreatedAt:        now,
	}
	if q.Status == "" {
		q.Status = StatusDraft
	}
	if d.NotVATRegistered != nil {
		q.NotVATRegistered = *d.NotVATRegistered
	}
	if d.DeliveryPrice != nil {
		q.DeliveryPrice = *d.DeliveryPrice
	}
	if d.ValidUntil != "" {
		t, _ := time.Parse("2006-01-02", d.ValidUntil)
		q.ValidUntil = &t
	}
	if d.Client != nil {
		q.Client = &Client{
			Name:    strings.TrimSpace(d.Client.Name),
			Email:   strings.ToLower(strings.TrimSpace(d.Client.Email)),
			Phone:   strings.TrimSpace(d.Client.Phone),
			Company: strings.TrimSpace(d.Client.Company),
		}
	}
	for i, it := range d.Items {
		q.Items = append(q.Items, Item{
			Description: strings.TrimSpace(it.Description),
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			VATRate:     it.VATRate,
			Position:    i + 1,
		})
	}

	generated := q.Reference == ""
	for attempt := 0; ; attempt++ {
		if generated {
			q.Reference = shared.NewCode("Q", now)
		}
		var created *Quote
		err := s.tx.Transact(ctx, func(ctx context.Context) error {
			var err error
			created, err = s.repo.Create(ctx, q)
			return err
		})
		if errors.Is(err, ErrReferenceTaken) && generated && attempt+1 < referenceAttempts {
			continue
		}
		if err != nil {
			return nil, err
		}
		s.logger.Info("quote created", slog.String("quote", created.Reference))
		return created, nil
	}
}

func (s *Service) validateDraft(d Draft) error {
	fields := httpx.FieldErrors{}
	if err := s.validate.Struct(d); err != nil {
		if inner, ok := s.fieldErrors(err).(httpx.FieldErrors); ok {
			fields = inner
		} else {
			return err
		}
	}
	if d.DeliveryPrice != nil && d.DeliveryPrice.IsNegative() {
		fields["delivery_price"] = "Must not be negative."
	}
	for i, it := range d.Items {
		if it.UnitPrice.IsNegative() {
			fields[fmt.Sprintf("items[%d].unit_price", i)] = "Must not be negative."
		}
		if it.VATRate.IsNegative() || it.VATRate.GreaterThan(decimal.NewFromInt(100)) {
			fields[fmt.Sprintf("items[%d].vat_rate", i)] = "Must be between 0 and 100."
		}
	}
	if len(fields) > 0 {
		return fmt.Errorf("quote draft: %w", fields)
	}
	return nil
}

// ReleaseReservation drops any hold on the quote so another visitor can
// proceed. It reports whether a hold was present.
func (s *Service) ReleaseReservation(ctx context.Context, token uuid.UUID) (bool, error) {
	q, err := s.repo.GetByToken(ctx, token)
	if err != nil {
		return false, err
	}
	released, err := s.repo.ReleaseReservation(ctx, q.ID)
	if err != nil {
		return false, err
	}
	if released {
		s.logger.Info("quote reservation released", slog.String("quote", q.Reference))
	}
	return released, nil
}
