// Package company resolves the seller details printed on invoices and shown
// on the payment page. An optional stored record overrides static defaults
// field by field.
package company

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/quotedesk/internal/platform/cache"
	"github.com/odyssey-erp/quotedesk/internal/platform/db"
)

// Bank holds bank transfer instructions.
type Bank struct {
	BankName      string `json:"bank_name"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	SortCode      string `json:"sort_code"`
	IBAN          string `json:"iban"`
	BIC           string `json:"bic"`
}

// Configured reports whether any transfer detail is present.
func (b Bank) Configured() bool {
	return b.AccountNumber != "" || b.IBAN != ""
}

// Details is the seller identity.
type Details struct {
	Name          string `json:"name"`
	AddressLine1  string `json:"address_line1"`
	AddressLine2  string `json:"address_line2"`
	City          string `json:"city"`
	Postcode      string `json:"postcode"`
	Country       string `json:"country"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	VATNumber     string `json:"vat_number"`
	CompanyNumber string `json:"company_number"`
	LogoPath      string `json:"logo_path"`
	Bank          Bank   `json:"bank"`
}

// AddressLines returns the non-empty address lines in print order.
func (d Details) AddressLines() []string {
	var lines []string
	cityLine := strings.TrimSpace(strings.Join([]string{d.City, d.Postcode}, " "))
	for _, l := range []string{d.AddressLine1, d.AddressLine2, cityLine, d.Country} {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// Field is one overridable attribute.
type Field struct {
	Name string
	ptr  func(*Details) *string
}

// Fields enumerates every attribute an override may set.
var Fields = []Field{
	{"name", func(d *Details) *string { return &d.Name }},
	{"address_line1", func(d *Details) *string { return &d.AddressLine1 }},
	{"address_line2", func(d *Details) *string { return &d.AddressLine2 }},
	{"city", func(d *Details) *string { return &d.City }},
	{"postcode", func(d *Details) *string { return &d.Postcode }},
	{"country", func(d *Details) *string { return &d.Country }},
	{"email", func(d *Details) *string { return &d.Email }},
	{"phone", func(d *Details) *string { return &d.Phone }},
	{"vat_number", func(d *Details) *string { return &d.VATNumber }},
	{"company_number", func(d *Details) *string { return &d.CompanyNumber }},
	{"logo_path", func(d *Details) *string { return &d.LogoPath }},
	{"bank_name", func(d *Details) *string { return &d.Bank.BankName }},
	{"account_name", func(d *Details) *string { return &d.Bank.AccountName }},
	{"account_number", func(d *Details) *string { return &d.Bank.AccountNumber }},
	{"sort_code", func(d *Details) *string { return &d.Bank.SortCode }},
	{"iban", func(d *Details) *string { return &d.Bank.IBAN }},
	{"bic", func(d *Details) *string { return &d.Bank.BIC }},
}

// ErrUnknownField is returned by Set for names outside Fields.
var ErrUnknownField = errors.New("company: unknown field")

// Get returns the named field value.
func (d *Details) Get(name string) (string, error) {
	for _, f := range Fields {
		if f.Name == name {
			return *f.ptr(d), nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownField, name)
}

// Set assigns the named field.
func (d *Details) Set(name, value string) error {
	for _, f := range Fields {
		if f.Name == name {
			*f.ptr(d) = strings.TrimSpace(value)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownField, name)
}

// Merge layers override over base: every non-blank override field wins.
func Merge(base Details, override *Details) Details {
	out := base
	if override == nil {
		return out
	}
	for _, f := range Fields {
		if v := strings.TrimSpace(*f.ptr(override)); v != "" {
			*f.ptr(&out) = v
		}
	}
	return out
}

// Store persists the optional override record.
type Store interface {
	Load(ctx context.Context) (*Details, error)
	Save(ctx context.Context, d Details) error
}

// Resolver produces the effective details.
type Resolver struct {
	store    Store
	defaults Details
	cache    *cache.JSONCache
	logger   *slog.Logger
	group    singleflight.Group
}

// NewResolver constructs a Resolver. cache may be nil.
func NewResolver(store Store, defaults Details, c *cache.JSONCache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, defaults: defaults, cache: c, logger: logger}
}

// Details returns override-over-defaults. A failing store or cache degrades
// to the static defaults.
func (r *Resolver) Details(ctx context.Context) Details {
	v, _, _ := r.group.Do("details", func() (any, error) {
		return r.cached(ctx), nil
	})
	return v.(Details)
}

func (r *Resolver) cached(ctx context.Context) Details {
	key, err := r.cache.BuildKey(ctx, "details")
	if err != nil {
		r.logger.Warn("company details cache unavailable", slog.Any("error", err))
		return r.resolve(ctx)
	}
	var out Details
	err = r.cache.FetchJSON(ctx, key, &out, func(ctx context.Context) (any, error) {
		return r.resolve(ctx), nil
	})
	if err != nil {
		r.logger.Warn("company details cache unavailable", slog.Any("error", err))
		return r.resolve(ctx)
	}
	return out
}

func (r *Resolver) resolve(ctx context.Context) Details {
	if r.store == nil {
		return r.defaults
	}
	override, err := r.store.Load(ctx)
	if err != nil {
		r.logger.Warn("company details override unavailable", slog.Any("error", err))
		return r.defaults
	}
	return Merge(r.defaults, override)
}

// Update writes field overrides and invalidates the cache.
func (r *Resolver) Update(ctx context.Context, values map[string]string) (Details, error) {
	if r.store == nil {
		return Details{}, errors.New("company: no override store configured")
	}
	current, err := r.store.Load(ctx)
	if err != nil {
		return Details{}, err
	}
	next := Details{}
	if current != nil {
		next = *current
	}
	for name, value := range values {
		if err := next.Set(name, value); err != nil {
			return Details{}, err
		}
	}
	if err := r.store.Save(ctx, next); err != nil {
		return Details{}, err
	}
	if err := r.cache.Bump(ctx); err != nil {
		r.logger.Warn("company details cache bump failed", slog.Any("error", err))
	}
	return Merge(r.defaults, &next), nil
}

// Repository is the pgx-backed single-row Store.
type Repository struct {
	db *db.TxManager
}

// NewRepository constructs Repository.
func NewRepository(tx *db.TxManager) *Repository {
	return &Repository{db: tx}
}

const detailColumns = `name, address_line1, address_line2, city, postcode, country, email, phone,
	vat_number, company_number, logo_path, bank_name, account_name, account_number, sort_code, iban, bic`

func (r *Repository) Load(ctx context.Context) (*Details, error) {
	var d Details
	err := r.db.Querier(ctx).QueryRow(ctx, `SELECT `+detailColumns+` FROM company_details ORDER BY id LIMIT 1`).
		Scan(&d.Name, &d.AddressLine1, &d.AddressLine2, &d.City, &d.Postcode, &d.Country, &d.Email, &d.Phone,
			&d.VATNumber, &d.CompanyNumber, &d.LogoPath,
			&d.Bank.BankName, &d.Bank.AccountName, &d.Bank.AccountNumber, &d.Bank.SortCode, &d.Bank.IBAN, &d.Bank.BIC)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("company: load: %w", err)
	}
	return &d, nil
}

// Save upserts the single row, keyed by the singleton flag.
func (r *Repository) Save(ctx context.Context, d Details) error {
	_, err := r.db.Querier(ctx).Exec(ctx, `
		INSERT INTO company_details (singleton, `+detailColumns+`, updated_at)
		VALUES (TRUE, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (singleton) DO UPDATE SET
			name = EXCLUDED.name, address_line1 = EXCLUDED.address_line1, address_line2 = EXCLUDED.address_line2,
			city = EXCLUDED.city, postcode = EXCLUDED.postcode, country = EXCLUDED.country,
			email = EXCLUDED.email, phone = EXCLUDED.phone, vat_number = EXCLUDED.vat_number,
			company_number = EXCLUDED.company_number, logo_path = EXCLUDED.logo_path,
			bank_name = EXCLUDED.bank_name, account_name = EXCLUDED.account_name,
			account_number = EXCLUDED.account_number, sort_code = EXCLUDED.sort_code,
			iban = EXCLUDED.iban, bic = EXCLUDED.bic, updated_at = EXCLUDED.updated_at`,
		d.Name, d.AddressLine1, d.AddressLine2, d.City, d.Postcode, d.Country, d.Email, d.Phone,
		d.VATNumber, d.CompanyNumber, d.LogoPath,
		d.Bank.BankName, d.Bank.AccountName, d.Bank.AccountNumber, d.Bank.SortCode, d.Bank.IBAN, d.Bank.BIC,
		time.Now().UTC())
	if err != nil {
		return fmt.Errorf("company: save: %w", err)
	}
	return nil
}
