package shared

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// NewCode builds a human reference such as INV-20260115-3FA2B1.
func NewCode(prefix string, now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("%s-%s-%s", prefix, now.Format("20060102"), suffix)
}
