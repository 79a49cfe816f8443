package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
)

func TestComputeBundleMetrics(t *testing.T) {
	a := opportunity("a", "solar_energy", 600000)
	a.City, a.Country = "Lyon", "France"
	a.ExpectedROI = dec(10)
	a.CarbonReduction = decimal.NewFromInt(1200)
	a.CapacityMW = decimal.NewFromFloat(4.5)
	a.Technology = "Photovoltaic"
	a.ExecutionStart, a.Completion = "2026-03-01", "2027-06-30"

	b := opportunity("b", "solar_energy", 400000)
	b.City, b.Country = "Bristol", "United Kingdom"
	b.ExpectedROI = dec(15)
	b.CarbonReduction = decimal.NewFromInt(800)
	b.CapacityMW = decimal.NewFromFloat(3)
	b.Technology = "photovoltaic"
	b.ExecutionStart, b.Completion = "2026-01-15", "2027-12-31"

	m := ComputeBundleMetrics([]models.OpportunityAlert{a, b}, []string{"sector_exact_match", "minimum_scale_met"})
	require.NotNil(t, m)

	assert.Equal(t, 2, m.OpportunityCount)
	assert.True(t, decimal.NewFromInt(1000000).Equal(m.TotalInvestment))
	assert.Equal(t, "12.00", m.BlendedROI.StringFixed(2))
	assert.True(t, decimal.NewFromInt(10).Equal(m.ROIRangeMin))
	assert.True(t, decimal.NewFromInt(15).Equal(m.ROIRangeMax))
	assert.True(t, decimal.NewFromInt(2000).Equal(m.TotalCarbonReduction))
	assert.Equal(t, "1000.00", m.AverageCarbonPerProject.StringFixed(2))
	assert.Equal(t, "7.5", m.TotalCapacityMW.String())
	assert.Equal(t, []string{"France", "United Kingdom"}, m.Countries)
	assert.Equal(t, []string{"Europe"}, m.Regions)
	assert.Equal(t, 2, m.GeographicSpread)
	assert.Equal(t, []string{"photovoltaic"}, m.Technologies)
	assert.Equal(t, "2026-01-15", m.EarliestStart)
	assert.Equal(t, "2027-12-31", m.LatestCompletion)
	assert.Equal(t, "Solar Energy Portfolio - Bristol, Lyon", m.Name)
	assert.Contains(t, m.Rationale, "Blended ROI: 12.00%")
	assert.Contains(t, m.Rationale, "sector_exact_match")
}

func TestComputeBundleMetrics_SingleMember(t *testing.T) {
	assert.Nil(t, ComputeBundleMetrics([]models.OpportunityAlert{opportunity("a", "solar", 1)}, nil))
}

func TestComputeBundleMetrics_ManyCities(t *testing.T) {
	var members []models.OpportunityAlert
	for _, city := range []string{"Oslo", "Bergen", "Aarhus", "Malmo", "Turku"} {
		o := opportunity(city, "wind_energy", 100)
		o.City = city
		members = append(members, o)
	}

	m := ComputeBundleMetrics(members, nil)
	require.NotNil(t, m)
	assert.Equal(t, "Wind Energy Portfolio - Aarhus, Bergen, Malmo +2 more", m.Name)
	assert.Empty(t, m.Countries)
	assert.True(t, m.BlendedROI.IsZero())
}

func TestRegionForCountry(t *testing.T) {
	assert.Equal(t, "Europe", RegionForCountry(" germany "))
	assert.Equal(t, "Asia Pacific", RegionForCountry("Japan"))
	assert.Equal(t, "Other", RegionForCountry("Atlantis"))
}

func TestSectorDisplayName(t *testing.T) {
	assert.Equal(t, "Energy Efficiency", SectorDisplayName("energy-efficiency"))
	assert.Equal(t, "Solar", SectorDisplayName("SOLAR"))
}
