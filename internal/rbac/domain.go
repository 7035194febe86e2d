package rbac

import "time"

// Permission names checked by the HTTP layer.
const (
	PermInvoicesManage  = "invoices.manage"
	PermQuotesManage    = "quotes.manage"
	PermPermissionsView = "permissions.view"
)

// DefaultPermissions seeds the catalogue on migrate.
var DefaultPermissions = []Permission{
	{Name: PermInvoicesManage, Description: "Record payments, mark invoices paid and schedule fulfilment"},
	{Name: PermQuotesManage, Description: "Release quote reservations"},
	{Name: PermPermissionsView, Description: "List the permission catalogue"},
}

// Role represents a high-level permission grouping.
type Role struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Permission represents an atomic capability.
type Permission struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}
