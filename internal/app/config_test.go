package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CSRF_SECRET", "c")
	t.Setenv("COMPANY_NAME", "Acme Builds")
	t.Setenv("COMPANY_BANK_SORT_CODE", "12-34-56")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 15*time.Minute, cfg.ReservationWindow)
	require.Equal(t, "migrations", cfg.MigrationsDir)
	require.False(t, cfg.CheckoutEnabled())

	fees, err := cfg.FeeSchedule()
	require.NoError(t, err)
	require.True(t, fees.GrossUp)
	require.Equal(t, "0.2", fees.Fixed.String())

	details := cfg.CompanyDetails()
	require.Equal(t, "Acme Builds", details.Name)
	require.Equal(t, "12-34-56", details.Bank.SortCode)
	require.Equal(t, "United Kingdom", details.Country)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CSRF_SECRET", "c")

	t.Setenv("STRIPE_FEE_PERCENT", "abc")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("STRIPE_FEE_PERCENT", "2.9")
	t.Setenv("RESERVATION_WINDOW", "0s")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("CSRF_SECRET", "")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestCheckoutEnabled(t *testing.T) {
	cfg := &Config{StripeSecretKey: "sk_test", StripePublicKey: "pk_test"}
	require.True(t, cfg.CheckoutEnabled())
	cfg.StripePublicKey = ""
	require.False(t, cfg.CheckoutEnabled())
}
