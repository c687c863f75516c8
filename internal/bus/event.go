package bus

import "time"

// Event kinds published by the daemon. Subscribers filter by prefix, so
// "etl." selects every pipeline event and "status." the stage transitions.
const (
	KindStageChanged = "status.stage_changed"

	KindCycleStarted   = "etl.cycle_started"
	KindCycleCompleted = "etl.cycle_completed"
	KindCycleFailed    = "etl.cycle_failed"
	KindSaleRows       = "etl.sale_rows_appended"
	KindPracticeMerged = "etl.practice_merged"
)

// Event is a domain event published on the bus. Payload carries a
// kind-specific value; consumers type-assert what they know.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}
