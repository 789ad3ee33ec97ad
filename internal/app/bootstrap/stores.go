package bootstrap

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinic-automation/internal/automation"
	"github.com/wolfman30/clinic-automation/internal/events"
	"github.com/wolfman30/clinic-automation/internal/scheduling"
)

// Stores groups the persistence backends shared by the binaries.
type Stores struct {
	Automation automation.Store
	Scheduling scheduling.Store
	// Processed is nil in memory mode; the consumer then relies on dedupe keys alone.
	Processed events.ProcessedTracker
}

// BuildStores picks Postgres when a pool is available and in-memory stores otherwise.
func BuildStores(pool *pgxpool.Pool) Stores {
	if pool == nil {
		return Stores{
			Automation: automation.NewMemoryStore(),
			Scheduling: scheduling.NewMemoryStore(),
		}
	}
	return Stores{
		Automation: automation.NewPostgresStore(pool),
		Scheduling: scheduling.NewPostgresStore(pool),
		Processed:  events.NewProcessedStore(pool),
	}
}
