package services

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
)

// Factor values shared by several factors
const (
	factorFull     = 1.0
	factorNeutral  = 0.7
	factorNearMiss = 0.6
	factorFloor    = 0.3
)

// Sector factor values
const (
	sectorExact    = 1.0
	sectorAdjacent = 0.7
	sectorKeyword  = 0.6
	sectorMismatch = 0.2
)

// nearMissRatio is the fraction of a minimum that still counts as a near miss
var nearMissRatio = decimal.NewFromFloat(0.8)

// sectorStopwords are too generic to count as a keyword overlap
var sectorStopwords = map[string]bool{
	"and":    true,
	"of":     true,
	"the":    true,
	"energy": true,
	"sector": true,
}

// ScoringWeights are the fixed factor weights. They must sum to 1.0.
type ScoringWeights struct {
	Sector    float64 `json:"sector"`
	Financial float64 `json:"financial"`
	Timeline  float64 `json:"timeline"`
	ROI       float64 `json:"roi"`
	Technical float64 `json:"technical"`
}

// DefaultScoringWeights returns sector 0.30, financial 0.25, timeline 0.20, roi 0.15, technical 0.10
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		Sector:    0.30,
		Financial: 0.25,
		Timeline:  0.20,
		ROI:       0.15,
		Technical: 0.10,
	}
}

// Sum returns the total weight
func (w ScoringWeights) Sum() float64 {
	return w.Sector + w.Financial + w.Timeline + w.ROI + w.Technical
}

// Validate checks the weights sum to 1.0 within 1e-9
func (w ScoringWeights) Validate() error {
	if math.Abs(w.Sum()-1.0) > 1e-9 {
		return fmt.Errorf("scoring weights sum to %v, expected 1.0", w.Sum())
	}
	return nil
}

// Evaluation is the full result of scoring one candidate against one funder
type Evaluation struct {
	Scores      models.FactorScores `json:"scores"`
	Overall     decimal.Decimal     `json:"overall"`
	CriteriaMet []string            `json:"criteria_met"`
	Warnings    []string            `json:"warnings"`
}

// Scorer evaluates a candidate group against a funder
type Scorer interface {
	Evaluate(members []models.OpportunityAlert, funder models.FunderAlert) (*Evaluation, error)
}

// CompatibilityScorer scores candidate groups across five weighted factors.
// It holds no mutable state and is safe for concurrent use.
type CompatibilityScorer struct {
	weights   ScoringWeights
	adjacency *SectorAdjacency
}

// NewCompatibilityScorer creates a scorer with the default weights.
//
// Parameters:
//   - adjacency: Sector adjacency table; nil disables adjacency matches.
//
// Returns:
//   - A ready-to-use scorer.
func NewCompatibilityScorer(adjacency *SectorAdjacency) *CompatibilityScorer {
	return &CompatibilityScorer{
		weights:   DefaultScoringWeights(),
		adjacency: adjacency,
	}
}

// Weights returns the weights in use
func (s *CompatibilityScorer) Weights() ScoringWeights {
	return s.weights
}

// Score returns the five factor scores of a group against a funder
func (s *CompatibilityScorer) Score(members []models.OpportunityAlert, funder models.FunderAlert) (models.FactorScores, error) {
	eval, err := s.Evaluate(members, funder)
	if err != nil {
		return models.FactorScores{}, err
	}
	return eval.Scores, nil
}

// Evaluate scores a group against a funder and explains the result.
//
// Parameters:
//   - members: The candidate group, at least one opportunity.
//   - funder: The funder being matched.
//
// Returns:
//   - The factor scores, the 0-100 overall score and the criteria notes.
//   - Error if the group is empty or a factor falls outside [0,1].
func (s *CompatibilityScorer) Evaluate(members []models.OpportunityAlert, funder models.FunderAlert) (*Evaluation, error) {
	if len(members) == 0 {
		return nil, errors.New("empty candidate group")
	}

	eval := &Evaluation{}
	note := func(criteria, warning string) {
		if criteria != "" {
			eval.CriteriaMet = append(eval.CriteriaMet, criteria)
		}
		if warning != "" {
			eval.Warnings = append(eval.Warnings, warning)
		}
	}

	var criteria, warning string
	eval.Scores.Sector, criteria, warning = s.scoreSector(members, funder)
	note(criteria, warning)
	eval.Scores.Financial, criteria, warning = scoreFinancial(members, funder)
	note(criteria, warning)
	eval.Scores.Timeline, criteria, warning = scoreTimeline(members, funder)
	note(criteria, warning)
	eval.Scores.ROI, criteria, warning = scoreROI(members, funder)
	note(criteria, warning)
	eval.Scores.Technical, criteria, warning = scoreTechnical(members, funder)
	note(criteria, warning)

	if err := eval.Scores.Validate(); err != nil {
		return nil, err
	}

	eval.Overall = s.Overall(eval.Scores)
	return eval, nil
}

// Overall returns Σ weight·factor on the 0-100 scale, rounded half-up to 2dp
func (s *CompatibilityScorer) Overall(scores models.FactorScores) decimal.Decimal {
	return OverallScore(s.weights, scores)
}

// OverallScore computes the weighted sum in exact decimal arithmetic
func OverallScore(w ScoringWeights, scores models.FactorScores) decimal.Decimal {
	terms := []struct{ weight, factor float64 }{
		{w.Sector, scores.Sector},
		{w.Financial, scores.Financial},
		{w.Timeline, scores.Timeline},
		{w.ROI, scores.ROI},
		{w.Technical, scores.Technical},
	}

	total := decimal.Zero
	for _, t := range terms {
		total = total.Add(decimal.NewFromFloat(t.weight).Mul(decimal.NewFromFloat(t.factor)))
	}
	return total.Mul(decimal.NewFromInt(100)).Round(2)
}

// scoreSector takes the weakest member's sector score
func (s *CompatibilityScorer) scoreSector(members []models.OpportunityAlert, funder models.FunderAlert) (float64, string, string) {
	funderSectors := funder.Sectors()

	lowest, criteria := sectorExact, "sector_exact_match"
	for _, m := range members {
		score, c := s.memberSectorScore(m, funderSectors)
		if score < lowest {
			lowest, criteria = score, c
		}
	}

	if lowest == sectorMismatch {
		return lowest, "", fmt.Sprintf("no sector overlap with funder sectors %s", strings.Join(funderSectors, ", "))
	}
	return lowest, criteria, ""
}

func (s *CompatibilityScorer) memberSectorScore(m models.OpportunityAlert, funderSectors []string) (float64, string) {
	primary := m.SectorKey()
	for _, fs := range funderSectors {
		if primary == fs {
			return sectorExact, "sector_exact_match"
		}
	}
	for _, fs := range funderSectors {
		if s.adjacency.Related(primary, fs) {
			return sectorAdjacent, "sector_related_match"
		}
	}

	oppWords := sectorKeywords(append(append([]string{m.PrimarySector}, m.SecondarySectors...), m.Tags...))
	funderWords := sectorKeywords(funderSectors)
	for w := range oppWords {
		if funderWords[w] {
			return sectorKeyword, "sector_keyword_overlap"
		}
	}
	return sectorMismatch, ""
}

func sectorKeywords(values []string) map[string]bool {
	words := make(map[string]bool)
	for _, v := range values {
		for _, w := range strings.Split(models.NormalizeSector(v), "_") {
			if w != "" && !sectorStopwords[w] {
				words[w] = true
			}
		}
	}
	return words
}

// TotalAmount sums the members' investment amounts
func TotalAmount(members []models.OpportunityAlert) decimal.Decimal {
	total := decimal.Zero
	for _, m := range members {
		total = total.Add(m.Amount)
	}
	return total
}

// scoreFinancial rates the group total against the funder's ticket range.
// Below the near-miss band the factor rises linearly from 0 to 0.3; above the
// maximum it decays as max/total.
func scoreFinancial(members []models.OpportunityAlert, funder models.FunderAlert) (float64, string, string) {
	total := TotalAmount(members)
	aboveMin := !funder.HasMinimum() || total.GreaterThanOrEqual(funder.MinInvestment)
	belowMax := !funder.HasMaximum() || total.LessThanOrEqual(funder.MaxInvestment)

	switch {
	case aboveMin && belowMax:
		return factorFull, "minimum_scale_met", ""
	case !aboveMin:
		nearMiss := funder.MinInvestment.Mul(nearMissRatio)
		if total.GreaterThanOrEqual(nearMiss) {
			return factorNearMiss, "minimum_scale_nearly_met",
				fmt.Sprintf("investment %s slightly below minimum %s", total.StringFixed(0), funder.MinInvestment.StringFixed(0))
		}
		ratio := total.Div(nearMiss).InexactFloat64()
		return clampUnit(factorFloor * ratio), "",
			fmt.Sprintf("investment %s well below minimum %s", total.StringFixed(0), funder.MinInvestment.StringFixed(0))
	default:
		ratio := funder.MaxInvestment.Div(total).InexactFloat64()
		return clampUnit(factorFloor * ratio), "",
			fmt.Sprintf("investment %s exceeds maximum %s", total.StringFixed(0), funder.MaxInvestment.StringFixed(0))
	}
}

// scoreTimeline compares member start years with the funder window
func scoreTimeline(members []models.OpportunityAlert, funder models.FunderAlert) (float64, string, string) {
	if !funder.HasWindow() {
		return factorNeutral, "timeline_data_absent", ""
	}

	years := make(map[int]bool)
	for _, m := range members {
		if m.StartYear == 0 {
			return factorNeutral, "timeline_data_absent", ""
		}
		if !funder.InWindow(m.StartYear) {
			return factorFloor, "", fmt.Sprintf("opportunity %s starts %d outside funder window", m.ID, m.StartYear)
		}
		years[m.StartYear] = true
	}

	if len(years) == 1 {
		return factorFull, "timeline_aligned", ""
	}
	return factorNearMiss, "", "project timelines span multiple years"
}

// BlendedROI returns the amount-weighted ROI of the members that declare one.
// When those members carry no amount the plain mean is used. The bool is
// false when no member declares an ROI.
func BlendedROI(members []models.OpportunityAlert) (decimal.Decimal, bool) {
	weighted, weights, sum := decimal.Zero, decimal.Zero, decimal.Zero
	count := 0
	for _, m := range members {
		if m.ExpectedROI == nil {
			continue
		}
		count++
		sum = sum.Add(*m.ExpectedROI)
		weighted = weighted.Add(m.ExpectedROI.Mul(m.Amount))
		weights = weights.Add(m.Amount)
	}

	if count == 0 {
		return decimal.Zero, false
	}
	if weights.IsZero() {
		return sum.Div(decimal.NewFromInt(int64(count))), true
	}
	return weighted.Div(weights), true
}

// scoreROI compares the blended ROI with the funder's target and minimum
func scoreROI(members []models.OpportunityAlert, funder models.FunderAlert) (float64, string, string) {
	target, minimum := funder.TargetROI, funder.MinROI
	if target == nil && minimum == nil {
		return factorNeutral, "roi_requirement_absent", ""
	}
	if target == nil {
		target = minimum
	}
	if minimum == nil {
		minimum = target
	}

	blended, ok := BlendedROI(members)
	if !ok {
		return factorNeutral, "roi_data_absent", ""
	}

	switch {
	case blended.GreaterThanOrEqual(*target):
		return factorFull, "roi_target_met", ""
	case blended.GreaterThanOrEqual(*minimum):
		return 0.9, "roi_acceptable", ""
	case blended.GreaterThanOrEqual(minimum.Mul(nearMissRatio)):
		return factorNearMiss, "roi_nearly_acceptable",
			fmt.Sprintf("blended roi %s below minimum %s", blended.StringFixed(2), minimum.String())
	default:
		return factorFloor, "",
			fmt.Sprintf("blended roi %s well below minimum %s", blended.StringFixed(2), minimum.String())
	}
}

// scoreTechnical rewards a single shared technology matching the funder preference
func scoreTechnical(members []models.OpportunityAlert, funder models.FunderAlert) (float64, string, string) {
	techs := make(map[string]bool)
	for _, m := range members {
		tech := strings.ToLower(strings.TrimSpace(m.Technology))
		if tech == "" {
			return factorNeutral, "technology_data_absent", ""
		}
		techs[tech] = true
	}

	preference := strings.ToLower(strings.TrimSpace(funder.TechnologyPreference))
	if len(techs) == 1 {
		if preference != "" && techs[preference] {
			return factorFull, "technology_match", ""
		}
		return factorNeutral, "technology_consistent", ""
	}
	return factorNeutral, "", "mixed technologies across bundle"
}

func clampUnit(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
