package billing

import (
	"time"

	"github.com/google/uuid"
)

// AccountUsage is the latest snapshot of an account's user and channel counts,
// reported by the parts of the system that own users and channels.
type AccountUsage struct {
	AccountID uuid.UUID
	Users     int
	Channels  int
	UpdatedAt time.Time
}
