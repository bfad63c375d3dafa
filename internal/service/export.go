package service

import (
	"context"
	"time"

	"github.com/and161185/venue-trace/internal/keystore"
	"github.com/and161185/venue-trace/internal/model"
)

// ExportDays is how many days of trace secrets a consented export carries.
const ExportDays = 14

// ExportTraceSecrets returns the trace secrets of the last ExportDays days,
// oldest first, for hand-over to a health department.
func ExportTraceSecrets(ctx context.Context, keys *keystore.Store, now time.Time) ([]model.TraceSecret, error) {
	return keys.RecentTraceSecrets(ctx, now, ExportDays)
}
