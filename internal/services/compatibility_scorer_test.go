package services

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
)

func dec(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

func opportunity(id, sector string, amount int64) models.OpportunityAlert {
	return models.OpportunityAlert{
		ID:            id,
		PrimarySector: sector,
		Amount:        decimal.NewFromInt(amount),
		Status:        models.AlertStatusActive,
	}
}

func funderWithRange(id, sector string, min, max int64) models.FunderAlert {
	return models.FunderAlert{
		ID:            id,
		PrimarySector: sector,
		MinInvestment: decimal.NewFromInt(min),
		MaxInvestment: decimal.NewFromInt(max),
		Status:        models.AlertStatusActive,
	}
}

func TestScoringWeights(t *testing.T) {
	w := DefaultScoringWeights()
	assert.InDelta(t, 1.0, w.Sum(), 1e-9)
	assert.NoError(t, w.Validate())

	w.Sector = 0.5
	assert.Error(t, w.Validate())
}

func TestCompatibilityScorer_SectorFactor(t *testing.T) {
	scorer := NewCompatibilityScorer(DefaultSectorAdjacency())

	tests := []struct {
		name     string
		opp      models.OpportunityAlert
		funder   models.FunderAlert
		expected float64
	}{
		{
			name:     "exact match",
			opp:      opportunity("o1", "solar_energy", 100),
			funder:   funderWithRange("f1", "Solar Energy", 0, 0),
			expected: 1.0,
		},
		{
			name:     "eligible list match",
			opp:      opportunity("o1", "energy_storage", 100),
			funder:   models.FunderAlert{ID: "f1", PrimarySector: "wind_energy", EligibleSectors: []string{"energy_storage"}},
			expected: 1.0,
		},
		{
			name:     "adjacent",
			opp:      opportunity("o1", "solar_energy", 100),
			funder:   funderWithRange("f1", "renewable_energy", 0, 0),
			expected: 0.7,
		},
		{
			name: "keyword overlap",
			opp: models.OpportunityAlert{
				ID: "o1", PrimarySector: "rooftop_solar", Amount: decimal.NewFromInt(100),
			},
			funder:   funderWithRange("f1", "community_solar", 0, 0),
			expected: 0.6,
		},
		{
			name:     "generic word is not an overlap",
			opp:      opportunity("o1", "solar_energy", 100),
			funder:   funderWithRange("f1", "tidal_energy", 0, 0),
			expected: 0.2,
		},
		{
			name:     "no overlap",
			opp:      opportunity("o1", "water_treatment", 100),
			funder:   funderWithRange("f1", "solar_energy", 0, 0),
			expected: 0.2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scores, err := scorer.Score([]models.OpportunityAlert{tt.opp}, tt.funder)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, scores.Sector)
		})
	}
}

func TestCompatibilityScorer_FinancialFactor(t *testing.T) {
	funder := funderWithRange("f1", "solar", 1000000, 2000000)

	tests := []struct {
		name     string
		amount   int64
		expected float64
	}{
		{"at minimum", 1000000, 1.0},
		{"at maximum", 2000000, 1.0},
		{"near miss lower edge", 800000, 0.6},
		{"near miss", 900000, 0.6},
		{"far below", 400000, 0.15},
		{"zero", 0, 0.0},
		{"double maximum", 4000000, 0.15},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, _, _ := scoreFinancial([]models.OpportunityAlert{opportunity("o1", "solar", tt.amount)}, funder)
			assert.InDelta(t, tt.expected, score, 1e-9)
		})
	}
}

func TestCompatibilityScorer_FinancialMonotonicBelowRange(t *testing.T) {
	funder := funderWithRange("f1", "solar", 1000000, 2000000)

	previous := -1.0
	for amount := int64(0); amount <= 2000000; amount += 50000 {
		score, _, _ := scoreFinancial([]models.OpportunityAlert{opportunity("o1", "solar", amount)}, funder)
		assert.GreaterOrEqual(t, score, previous, "amount %d", amount)
		assert.GreaterOrEqual(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
		previous = score
	}
}

func TestCompatibilityScorer_FinancialOpenBounds(t *testing.T) {
	score, _, _ := scoreFinancial([]models.OpportunityAlert{opportunity("o1", "solar", 10)}, models.FunderAlert{ID: "f"})
	assert.Equal(t, 1.0, score)

	onlyMin := models.FunderAlert{ID: "f", MinInvestment: decimal.NewFromInt(100)}
	score, _, _ = scoreFinancial([]models.OpportunityAlert{opportunity("o1", "solar", 1000000)}, onlyMin)
	assert.Equal(t, 1.0, score)
}

func TestCompatibilityScorer_TimelineFactor(t *testing.T) {
	funder := models.FunderAlert{ID: "f1", PrimarySector: "solar", WindowStart: 2025, WindowEnd: 2027}
	withYear := func(id string, year int) models.OpportunityAlert {
		o := opportunity(id, "solar", 100)
		o.StartYear = year
		return o
	}

	tests := []struct {
		name     string
		members  []models.OpportunityAlert
		funder   models.FunderAlert
		expected float64
	}{
		{"aligned in window", []models.OpportunityAlert{withYear("a", 2026), withYear("b", 2026)}, funder, 1.0},
		{"spread in window", []models.OpportunityAlert{withYear("a", 2025), withYear("b", 2027)}, funder, 0.6},
		{"member data absent", []models.OpportunityAlert{withYear("a", 2026), withYear("b", 0)}, funder, 0.7},
		{"funder window absent", []models.OpportunityAlert{withYear("a", 2026)}, models.FunderAlert{ID: "f2"}, 0.7},
		{"outside window", []models.OpportunityAlert{withYear("a", 2030)}, funder, 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, _, _ := scoreTimeline(tt.members, tt.funder)
			assert.Equal(t, tt.expected, score)
		})
	}
}

func TestBlendedROI(t *testing.T) {
	a := opportunity("a", "solar", 300000)
	a.ExpectedROI = dec(10)
	b := opportunity("b", "solar", 100000)
	b.ExpectedROI = dec(20)
	c := opportunity("c", "solar", 500000)

	blended, ok := BlendedROI([]models.OpportunityAlert{a, b, c})
	require.True(t, ok)
	assert.True(t, decimal.NewFromFloat(12.5).Equal(blended), blended.String())

	_, ok = BlendedROI([]models.OpportunityAlert{c})
	assert.False(t, ok)

	zeroA, zeroB := opportunity("za", "solar", 0), opportunity("zb", "solar", 0)
	zeroA.ExpectedROI, zeroB.ExpectedROI = dec(4), dec(8)
	blended, ok = BlendedROI([]models.OpportunityAlert{zeroA, zeroB})
	require.True(t, ok)
	assert.True(t, decimal.NewFromInt(6).Equal(blended))
}

func TestCompatibilityScorer_ROIFactor(t *testing.T) {
	funder := models.FunderAlert{ID: "f1", TargetROI: dec(12), MinROI: dec(8)}
	withROI := func(roi float64) []models.OpportunityAlert {
		o := opportunity("o", "solar", 100)
		o.ExpectedROI = dec(roi)
		return []models.OpportunityAlert{o}
	}

	tests := []struct {
		name     string
		members  []models.OpportunityAlert
		funder   models.FunderAlert
		expected float64
	}{
		{"meets target", withROI(12), funder, 1.0},
		{"meets minimum", withROI(9), funder, 0.9},
		{"near minimum", withROI(6.4), funder, 0.6},
		{"far below", withROI(2), funder, 0.3},
		{"no member roi", []models.OpportunityAlert{opportunity("o", "solar", 100)}, funder, 0.7},
		{"no funder requirement", withROI(2), models.FunderAlert{ID: "f2"}, 0.7},
		{"minimum only", withROI(8), models.FunderAlert{ID: "f3", MinROI: dec(8)}, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, _, _ := scoreROI(tt.members, tt.funder)
			assert.Equal(t, tt.expected, score)
		})
	}
}

func TestCompatibilityScorer_TechnicalFactor(t *testing.T) {
	withTech := func(id, tech string) models.OpportunityAlert {
		o := opportunity(id, "solar", 100)
		o.Technology = tech
		return o
	}
	funder := models.FunderAlert{ID: "f1", TechnologyPreference: "Photovoltaic"}

	score, _, _ := scoreTechnical([]models.OpportunityAlert{withTech("a", "photovoltaic"), withTech("b", "photovoltaic")}, funder)
	assert.Equal(t, 1.0, score)

	score, _, warning := scoreTechnical([]models.OpportunityAlert{withTech("a", "photovoltaic"), withTech("b", "thermal")}, funder)
	assert.Equal(t, 0.7, score)
	assert.NotEmpty(t, warning)

	score, _, _ = scoreTechnical([]models.OpportunityAlert{withTech("a", "thermal")}, funder)
	assert.Equal(t, 0.7, score)

	score, _, _ = scoreTechnical([]models.OpportunityAlert{withTech("a", "")}, funder)
	assert.Equal(t, 0.7, score)
}

func TestCompatibilityScorer_OverallReproducesWeightedSum(t *testing.T) {
	scorer := NewCompatibilityScorer(DefaultSectorAdjacency())
	w := scorer.Weights()

	samples := []models.FactorScores{
		{Sector: 1, Financial: 1, Timeline: 1, ROI: 1, Technical: 1},
		{Sector: 0.2, Financial: 0.6, Timeline: 0.7, ROI: 0.9, Technical: 0.7},
		{Sector: 0.7, Financial: 0.15, Timeline: 0.3, ROI: 0.3, Technical: 1},
		{},
	}

	for _, s := range samples {
		expected := w.Sector*s.Sector + w.Financial*s.Financial + w.Timeline*s.Timeline + w.ROI*s.ROI + w.Technical*s.Technical
		overall := scorer.Overall(s)
		assert.InDelta(t, math.Round(expected*10000)/100, overall.InexactFloat64(), 1e-9)
		assert.LessOrEqual(t, overall.Exponent(), int32(0))
	}
}

func TestOverallScore_RoundsHalfUp(t *testing.T) {
	w := ScoringWeights{Sector: 1}
	assert.Equal(t, "12.35", OverallScore(w, models.FactorScores{Sector: 0.12345}).StringFixed(2))
	assert.Equal(t, "12.34", OverallScore(w, models.FactorScores{Sector: 0.123449}).StringFixed(2))
}

func TestCompatibilityScorer_ScenarioC_SectorGate(t *testing.T) {
	scorer := NewCompatibilityScorer(DefaultSectorAdjacency())

	opp := opportunity("o1", "water_treatment", 1500000)
	opp.StartYear = 2026
	opp.ExpectedROI = dec(15)
	opp.Technology = "membrane"

	funder := funderWithRange("f1", "solar_energy", 1000000, 2000000)
	funder.WindowStart, funder.WindowEnd = 2025, 2027
	funder.TargetROI = dec(12)
	funder.TechnologyPreference = "membrane"

	eval, err := scorer.Evaluate([]models.OpportunityAlert{opp}, funder)
	require.NoError(t, err)

	assert.Equal(t, 0.2, eval.Scores.Sector)
	assert.Equal(t, 1.0, eval.Scores.Financial)
	assert.Equal(t, 1.0, eval.Scores.Timeline)
	assert.Equal(t, 1.0, eval.Scores.ROI)
	assert.Equal(t, 1.0, eval.Scores.Technical)
	assert.True(t, decimal.NewFromInt(76).Equal(eval.Overall), eval.Overall.String())
	assert.Equal(t, models.ConfidenceMedium, ClassifyConfidence(eval.Overall).Level)
	assert.NotEmpty(t, eval.Warnings)
}

func TestCompatibilityScorer_GroupTakesWeakestSector(t *testing.T) {
	scorer := NewCompatibilityScorer(DefaultSectorAdjacency())
	funder := funderWithRange("f1", "solar_energy", 0, 0)

	scores, err := scorer.Score([]models.OpportunityAlert{
		opportunity("a", "solar_energy", 1),
		opportunity("b", "wind_energy", 1),
	}, funder)
	require.NoError(t, err)
	assert.Equal(t, 0.2, scores.Sector)
}

func TestCompatibilityScorer_EmptyGroup(t *testing.T) {
	scorer := NewCompatibilityScorer(nil)
	_, err := scorer.Evaluate(nil, funderWithRange("f1", "solar", 0, 0))
	assert.Error(t, err)
}
