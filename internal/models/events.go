package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// EventType names the messages exchanged with the queue
type EventType string

const (
	EventMatchRequest        EventType = "match_request"
	EventMatchResult         EventType = "match_result"
	EventMatchFound          EventType = "match_found"
	EventMatchApprovalNeeded EventType = "match_approval_needed"
	EventMatchStatusChange   EventType = "match_status_change"
)

// Envelope wraps every published payload
type Envelope struct {
	MessageID string          `json:"message_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// MatchFoundEvent is emitted once per newly persisted high-confidence proposal
type MatchFoundEvent struct {
	ProposalID   string          `json:"proposal_id"`
	FunderID     string          `json:"funder_id"`
	MemberIDs    []string        `json:"member_ids"`
	OverallScore decimal.Decimal `json:"overall_score"`
	MatchType    MatchType       `json:"match_type"`
	JobID        string          `json:"job_id"`
	Summary      string          `json:"summary,omitempty"`
}

// ApprovalNeededEvent is emitted for medium-confidence proposals awaiting review
type ApprovalNeededEvent struct {
	ProposalID         string          `json:"proposal_id"`
	MatchType          MatchType       `json:"match_type"`
	CompatibilityScore decimal.Decimal `json:"compatibility_score"`
	OpportunitiesCount int             `json:"opportunities_count"`
	FundersCount       int             `json:"funders_count"`
	TotalInvestment    decimal.Decimal `json:"total_investment"`
	CreatedAt          time.Time       `json:"created_at"`
}

// NewMatchFoundEvent builds the notification payload of a proposal
func NewMatchFoundEvent(p *MatchProposal) MatchFoundEvent {
	return MatchFoundEvent{
		ProposalID:   p.ID,
		FunderID:     p.FunderID,
		MemberIDs:    append([]string(nil), p.OpportunityIDs...),
		OverallScore: p.OverallScore,
		MatchType:    p.MatchType,
		JobID:        p.JobID,
	}
}

// NewApprovalNeededEvent builds the approval request payload of a proposal
func NewApprovalNeededEvent(p *MatchProposal) ApprovalNeededEvent {
	return ApprovalNeededEvent{
		ProposalID:         p.ID,
		MatchType:          p.MatchType,
		CompatibilityScore: p.OverallScore,
		OpportunitiesCount: len(p.OpportunityIDs),
		FundersCount:       1,
		TotalInvestment:    p.TotalAmount,
		CreatedAt:          p.CreatedAt,
	}
}
