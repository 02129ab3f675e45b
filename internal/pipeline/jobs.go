package pipeline

import (
	"time"

	"github.com/lalithlochan/herdwatch/internal/scheduler"
)

// Job names.
const (
	JobExpiryCheck      = "expiry-check"
	JobDigestProcessing = "digest-processing"
	JobRetentionCleanup = "retention-cleanup"
)

// Schedules holds the cron expressions of the three jobs.
type Schedules struct {
	Check   string
	Digest  string
	Cleanup string
}

// Jobs returns the pipeline's jobs in registration order. Digest processing
// waits for an in-flight expiry check so it sees the check's notifications.
func (p *Pipeline) Jobs(s Schedules) []scheduler.Job {
	return []scheduler.Job{
		{Name: JobExpiryCheck, Schedule: s.Check, Run: p.CheckExpiry, Timeout: 30 * time.Minute},
		{Name: JobDigestProcessing, Schedule: s.Digest, Run: p.ProcessDigests, After: JobExpiryCheck, Timeout: 30 * time.Minute},
		{Name: JobRetentionCleanup, Schedule: s.Cleanup, Run: p.Cleanup, Timeout: 15 * time.Minute},
	}
}
