package database

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
	"github.com/google/uuid"
)

// matchColumns is the column order shared by inserts and scans
const matchColumns = `id, natural_key, job_id, match_type, opportunity_ids, funder_id,
	sector_score, financial_score, timeline_score, roi_score, technical_score,
	overall_score, confidence_level, failed, failure_reason, requires_approval,
	total_amount, bundle_metrics, criteria_met, warnings, status, created_at`

// prepareProposal fills server-assigned fields and checks the row can be stored
func prepareProposal(p *models.MatchProposal, now time.Time) error {
	if p == nil {
		return fmt.Errorf("proposal is nil")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.ProposalStatusProposed
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now.UTC()
	}
	if !p.Status.IsValid() {
		return fmt.Errorf("invalid proposal status %q", p.Status)
	}
	return p.Validate(0)
}

// proposalArgs returns the insert arguments for every column but created_at
func proposalArgs(p *models.MatchProposal) ([]any, error) {
	memberIDs, err := json.Marshal(p.OpportunityIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode opportunity ids: %w", err)
	}
	var metrics any
	if p.BundleMetrics != nil {
		raw, err := json.Marshal(p.BundleMetrics)
		if err != nil {
			return nil, fmt.Errorf("failed to encode bundle metrics: %w", err)
		}
		metrics = string(raw)
	}
	criteria, err := marshalStrings(p.CriteriaMet)
	if err != nil {
		return nil, fmt.Errorf("failed to encode criteria: %w", err)
	}
	warnings, err := marshalStrings(p.Warnings)
	if err != nil {
		return nil, fmt.Errorf("failed to encode warnings: %w", err)
	}

	return []any{
		p.ID, p.NaturalKey, p.JobID, string(p.MatchType), string(memberIDs), p.FunderID,
		p.Scores.Sector, p.Scores.Financial, p.Scores.Timeline, p.Scores.ROI, p.Scores.Technical,
		p.OverallScore, string(p.ConfidenceLevel), p.Failed, p.FailureReason, p.RequiresApproval,
		p.TotalAmount, metrics, criteria, warnings, string(p.Status),
	}, nil
}

func marshalStrings(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// proposalRow receives a scanned row; JSON columns are decoded afterwards
type proposalRow struct {
	p         models.MatchProposal
	memberIDs []byte
	metrics   []byte
	criteria  []byte
	warnings  []byte
}

// fields returns scan destinations for every column but created_at
func (r *proposalRow) fields() []any {
	return []any{
		&r.p.ID, &r.p.NaturalKey, &r.p.JobID, &r.p.MatchType, &r.memberIDs, &r.p.FunderID,
		&r.p.Scores.Sector, &r.p.Scores.Financial, &r.p.Scores.Timeline, &r.p.Scores.ROI, &r.p.Scores.Technical,
		&r.p.OverallScore, &r.p.ConfidenceLevel, &r.p.Failed, &r.p.FailureReason, &r.p.RequiresApproval,
		&r.p.TotalAmount, &r.metrics, &r.criteria, &r.warnings, &r.p.Status,
	}
}

func (r *proposalRow) decode() (models.MatchProposal, error) {
	if err := json.Unmarshal(r.memberIDs, &r.p.OpportunityIDs); err != nil {
		return models.MatchProposal{}, fmt.Errorf("failed to decode opportunity ids of %s: %w", r.p.ID, err)
	}
	if isJSONPresent(r.metrics) {
		var metrics models.BundleMetrics
		if err := json.Unmarshal(r.metrics, &metrics); err != nil {
			return models.MatchProposal{}, fmt.Errorf("failed to decode bundle metrics of %s: %w", r.p.ID, err)
		}
		r.p.BundleMetrics = &metrics
	}
	if isJSONPresent(r.criteria) {
		if err := json.Unmarshal(r.criteria, &r.p.CriteriaMet); err != nil {
			return models.MatchProposal{}, fmt.Errorf("failed to decode criteria of %s: %w", r.p.ID, err)
		}
	}
	if isJSONPresent(r.warnings) {
		if err := json.Unmarshal(r.warnings, &r.p.Warnings); err != nil {
			return models.MatchProposal{}, fmt.Errorf("failed to decode warnings of %s: %w", r.p.ID, err)
		}
	}
	return r.p, nil
}

func isJSONPresent(raw []byte) bool {
	trimmed := strings.TrimSpace(string(raw))
	return trimmed != "" && trimmed != "null"
}

// buildMatchListQuery renders the filtered listing; placeholder renders the
// n-th bind parameter in the driver's syntax.
func buildMatchListQuery(filter models.MatchFilter, placeholder func(n int) string) (string, []any, error) {
	var (
		conds []string
		args  []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		conds = append(conds, column+" = "+placeholder(len(args)))
	}

	if filter.ConfidenceLevel != "" {
		if !filter.ConfidenceLevel.IsValid() {
			return "", nil, fmt.Errorf("invalid confidence level filter %q", filter.ConfidenceLevel)
		}
		add("confidence_level", string(filter.ConfidenceLevel))
	}
	if filter.FunderID != "" {
		add("funder_id", filter.FunderID)
	}
	if filter.Status != "" {
		if !filter.Status.IsValid() {
			return "", nil, fmt.Errorf("invalid status filter %q", filter.Status)
		}
		add("status", string(filter.Status))
	}
	if filter.MatchType != "" {
		if !filter.MatchType.IsValid() {
			return "", nil, fmt.Errorf("invalid match type filter %q", filter.MatchType)
		}
		add("match_type", string(filter.MatchType))
	}
	if filter.JobID != "" {
		add("job_id", filter.JobID)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(matchColumns)
	b.WriteString(" FROM ")
	b.WriteString(MatchesTable)
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	args = append(args, filter.EffectiveLimit())
	b.WriteString(" ORDER BY created_at DESC, id LIMIT ")
	b.WriteString(placeholder(len(args)))
	return b.String(), args, nil
}

func postgresPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

func sqlitePlaceholder(int) string { return "?" }
