package models

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MatchType describes the shape of a proposal
type MatchType string

const (
	MatchTypeSimple     MatchType = "simple"
	MatchTypeBundled    MatchType = "bundled"
	MatchTypeSyndicated MatchType = "syndicated"
)

// ConfidenceLevel is the tier assigned by the confidence classifier
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
)

// ProposalStatus is informational and the only field reviewers may change
type ProposalStatus string

const (
	ProposalStatusProposed ProposalStatus = "proposed"
	ProposalStatusReviewed ProposalStatus = "reviewed"
	ProposalStatusAccepted ProposalStatus = "accepted"
	ProposalStatusRejected ProposalStatus = "rejected"
)

// IsValid reports whether s is a known proposal status
func (s ProposalStatus) IsValid() bool {
	switch s {
	case ProposalStatusProposed, ProposalStatusReviewed, ProposalStatusAccepted, ProposalStatusRejected:
		return true
	}
	return false
}

// IsValid reports whether l is a known confidence level
func (l ConfidenceLevel) IsValid() bool {
	switch l {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// IsValid reports whether t is a known match type
func (t MatchType) IsValid() bool {
	switch t {
	case MatchTypeSimple, MatchTypeBundled, MatchTypeSyndicated:
		return true
	}
	return false
}

// MatchTypeForSize returns simple for one member and bundled otherwise
func MatchTypeForSize(members int) MatchType {
	if members > 1 {
		return MatchTypeBundled
	}
	return MatchTypeSimple
}

// FactorScores holds the five compatibility factors, each in [0,1]
type FactorScores struct {
	Sector    float64 `json:"sector"`
	Financial float64 `json:"financial"`
	Timeline  float64 `json:"timeline"`
	ROI       float64 `json:"roi"`
	Technical float64 `json:"technical"`
}

// Validate checks every factor lies in [0,1]
func (f FactorScores) Validate() error {
	factors := []struct {
		name  string
		value float64
	}{
		{"sector", f.Sector},
		{"financial", f.Financial},
		{"timeline", f.Timeline},
		{"roi", f.ROI},
		{"technical", f.Technical},
	}
	for _, factor := range factors {
		if math.IsNaN(factor.value) || factor.value < 0 || factor.value > 1 {
			return fmt.Errorf("%s factor %v outside [0,1]", factor.name, factor.value)
		}
	}
	return nil
}

// BundleMetrics aggregates a multi-member candidate
type BundleMetrics struct {
	Name                    string          `json:"name"`
	Description             string          `json:"description"`
	Rationale               string          `json:"rationale"`
	OpportunityCount        int             `json:"opportunity_count"`
	TotalInvestment         decimal.Decimal `json:"total_investment"`
	BlendedROI              decimal.Decimal `json:"blended_roi"`
	ROIRangeMin             decimal.Decimal `json:"roi_range_min"`
	ROIRangeMax             decimal.Decimal `json:"roi_range_max"`
	TotalCarbonReduction    decimal.Decimal `json:"total_carbon_reduction"`
	AverageCarbonPerProject decimal.Decimal `json:"average_carbon_per_project"`
	TotalCapacityMW         decimal.Decimal `json:"total_capacity_mw"`
	Countries               []string        `json:"countries"`
	Cities                  []string        `json:"cities"`
	Regions                 []string        `json:"regions"`
	GeographicSpread        int             `json:"geographic_spread"`
	Sectors                 []string        `json:"sectors"`
	Technologies            []string        `json:"technologies"`
	EarliestStart           string          `json:"earliest_start,omitempty"`
	LatestCompletion        string          `json:"latest_completion,omitempty"`
}

// MatchProposal is the persisted outcome of scoring one candidate against one funder
type MatchProposal struct {
	ID               string          `json:"id" db:"id"`
	NaturalKey       string          `json:"natural_key" db:"natural_key"`
	JobID            string          `json:"job_id" db:"job_id"`
	MatchType        MatchType       `json:"match_type" db:"match_type"`
	OpportunityIDs   []string        `json:"opportunity_ids" db:"opportunity_ids"`
	FunderID         string          `json:"funder_id" db:"funder_id"`
	Scores           FactorScores    `json:"scores"`
	OverallScore     decimal.Decimal `json:"overall_score" db:"overall_score"`
	ConfidenceLevel  ConfidenceLevel `json:"confidence_level" db:"confidence_level"`
	Failed           bool            `json:"failed" db:"failed"`
	FailureReason    string          `json:"failure_reason,omitempty" db:"failure_reason"`
	RequiresApproval bool            `json:"requires_approval" db:"requires_approval"`
	TotalAmount      decimal.Decimal `json:"total_amount" db:"total_amount"`
	BundleMetrics    *BundleMetrics  `json:"bundle_metrics,omitempty" db:"bundle_metrics"`
	CriteriaMet      []string        `json:"criteria_met,omitempty"`
	Warnings         []string        `json:"warnings,omitempty"`
	Status           ProposalStatus  `json:"status" db:"status"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// Validate enforces the write-time invariants of a proposal
func (p *MatchProposal) Validate(maxBundleSize int) error {
	if p.FunderID == "" {
		return errors.New("funder id is required")
	}
	if len(p.OpportunityIDs) == 0 {
		return errors.New("at least one opportunity is required")
	}
	if maxBundleSize > 0 && len(p.OpportunityIDs) > maxBundleSize {
		return fmt.Errorf("%d members exceeds max bundle size %d", len(p.OpportunityIDs), maxBundleSize)
	}
	if p.Failed && strings.TrimSpace(p.FailureReason) == "" {
		return errors.New("failed proposal requires a failure reason")
	}
	if !p.Failed && p.FailureReason != "" {
		return errors.New("failure reason set on a successful proposal")
	}
	if !p.MatchType.IsValid() {
		return fmt.Errorf("invalid match type %q", p.MatchType)
	}
	if !p.ConfidenceLevel.IsValid() {
		return fmt.Errorf("invalid confidence level %q", p.ConfidenceLevel)
	}
	if p.NaturalKey == "" {
		return errors.New("natural key is required")
	}
	return p.Scores.Validate()
}

// NaturalKey derives the idempotency key of a proposal: a SHA-256 over the
// sorted member ids, the funder id and the job id.
func NaturalKey(memberIDs []string, funderID, jobID string) string {
	sorted := append([]string(nil), memberIDs...)
	sort.Strings(sorted)

	h := sha256.New()
	h.Write([]byte(strings.Join(sorted, ",")))
	h.Write([]byte{'|'})
	h.Write([]byte(funderID))
	h.Write([]byte{'|'})
	h.Write([]byte(jobID))
	return hex.EncodeToString(h.Sum(nil))
}

// MatchFilter narrows a proposal listing
type MatchFilter struct {
	ConfidenceLevel ConfidenceLevel `json:"confidence_level,omitempty"`
	FunderID        string          `json:"funder_id,omitempty"`
	Status          ProposalStatus  `json:"status,omitempty"`
	MatchType       MatchType       `json:"match_type,omitempty"`
	JobID           string          `json:"job_id,omitempty"`
	Limit           int             `json:"limit,omitempty"`
}

const (
	DefaultMatchListLimit = 50
	MaxMatchListLimit     = 500
)

// EffectiveLimit clamps the requested limit to [1, MaxMatchListLimit]
func (f MatchFilter) EffectiveLimit() int {
	switch {
	case f.Limit <= 0:
		return DefaultMatchListLimit
	case f.Limit > MaxMatchListLimit:
		return MaxMatchListLimit
	default:
		return f.Limit
	}
}
