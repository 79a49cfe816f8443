package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/utils"
)

// MatchingJobName is the only job this engine accepts
const MatchingJobName = "matching"

// DefaultLookbackDays defines "active" when a trigger omits it
const DefaultLookbackDays = 30

// JobState is a matching run's position in its state machine
type JobState string

const (
	JobStateIdle           JobState = "idle"
	JobStateFetchingAlerts JobState = "fetching_alerts"
	JobStateScoring        JobState = "scoring"
	JobStatePersisting     JobState = "persisting"
	JobStateNotifyEligible JobState = "notify_eligible"
	JobStateDone           JobState = "done"
	JobStateFailed         JobState = "failed"
)

var jobTransitions = map[JobState]JobState{
	JobStateIdle:           JobStateFetchingAlerts,
	JobStateFetchingAlerts: JobStateScoring,
	JobStateScoring:        JobStatePersisting,
	JobStatePersisting:     JobStateNotifyEligible,
	JobStateNotifyEligible: JobStateDone,
}

// CanTransition reports whether a run may move from s to next.
// Failed is reachable from every non-terminal state.
func (s JobState) CanTransition(next JobState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == JobStateFailed {
		return true
	}
	return jobTransitions[s] == next
}

// IsTerminal reports whether the run has finished
func (s JobState) IsTerminal() bool {
	return s == JobStateDone || s == JobStateFailed
}

// JobTrigger is the payload consumed from the queue or built by the CLI
type JobTrigger struct {
	Job           string     `json:"job"`
	LookbackDays  int        `json:"lookback_days,omitempty"`
	JobID         string     `json:"job_id,omitempty"`
	TriggerSource string     `json:"trigger_source,omitempty"`
	RequestedAt   *time.Time `json:"requested_at,omitempty"`
}

// Normalize fills defaults for omitted fields
func (t JobTrigger) Normalize() JobTrigger {
	if t.Job == "" {
		t.Job = MatchingJobName
	}
	if t.LookbackDays == 0 {
		t.LookbackDays = DefaultLookbackDays
	}
	if t.TriggerSource == "" {
		t.TriggerSource = "direct"
	}
	return t
}

// Validate rejects triggers for other jobs or with a negative lookback
func (t JobTrigger) Validate() error {
	if t.Job != MatchingJobName {
		return utils.NewInputDataErrorf("", "job", "unsupported job %q", t.Job)
	}
	if t.LookbackDays < 0 {
		return utils.NewInputDataErrorf("", "lookback_days", "must be positive, got %d", t.LookbackDays)
	}
	return nil
}

// Key returns the job key used in proposal natural keys. An explicit job id
// wins; otherwise the key is stable for the same lookback on the same UTC day.
func (t JobTrigger) Key(now time.Time) string {
	if t.JobID != "" {
		return t.JobID
	}
	seed := fmt.Sprintf("%s|%d|%s", t.Job, t.LookbackDays, now.UTC().Format("2006-01-02"))
	sum := sha256.Sum256([]byte(seed))
	return "job-" + hex.EncodeToString(sum[:8])
}

// JobStatistics are the counters of one matching run
type JobStatistics struct {
	OpportunitiesFetched int `json:"opportunities_fetched"`
	FundersFetched       int `json:"funders_fetched"`
	InputsSkipped        int `json:"inputs_skipped"`
	FundersProcessed     int `json:"funders_processed"`
	FundersCancelled     int `json:"funders_cancelled"`
	CandidatesScored     int `json:"candidates_scored"`
	ProposalsPersisted   int `json:"proposals_persisted"`
	DuplicatesIgnored    int `json:"duplicates_ignored"`
	High                 int `json:"high"`
	Medium               int `json:"medium"`
	Low                  int `json:"low"`
	Failed               int `json:"failed"`
	Errors               int `json:"errors"`
	NotificationsEmitted int `json:"notifications_emitted"`
	ApprovalsRequested   int `json:"approvals_requested"`
	NotificationErrors   int `json:"notification_errors"`
}

// JobStatus is the outcome label of a summary
type JobStatus string

const (
	JobStatusCompleted JobStatus = "completed"
	JobStatusCancelled JobStatus = "cancelled"
	JobStatusFailed    JobStatus = "failed"
)

// JobSummary is produced by every run, complete or partial
type JobSummary struct {
	Job             string        `json:"job"`
	JobID           string        `json:"job_id"`
	RunID           string        `json:"run_id"`
	Status          JobStatus     `json:"status"`
	State           JobState      `json:"state"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     time.Time     `json:"completed_at"`
	DurationSeconds float64       `json:"duration_seconds"`
	LookbackDays    int           `json:"lookback_days"`
	TriggerSource   string        `json:"trigger_source"`
	Statistics      JobStatistics `json:"statistics"`
	Error           string        `json:"error,omitempty"`
}

// JobRecord is the durable row of one run
type JobRecord struct {
	RunID         string      `json:"run_id" db:"run_id"`
	JobID         string      `json:"job_id" db:"job_id"`
	LookbackDays  int         `json:"lookback_days" db:"lookback_days"`
	TriggerSource string      `json:"trigger_source" db:"trigger_source"`
	State         JobState    `json:"state" db:"state"`
	StartedAt     time.Time   `json:"started_at" db:"started_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
	Summary       *JobSummary `json:"summary,omitempty" db:"summary"`
	Error         string      `json:"error,omitempty" db:"error"`
}
