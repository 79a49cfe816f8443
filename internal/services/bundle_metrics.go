package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
)

var countryRegions = map[string]string{
	"france": "Europe", "germany": "Europe", "united kingdom": "Europe", "spain": "Europe",
	"italy": "Europe", "netherlands": "Europe", "belgium": "Europe", "sweden": "Europe",
	"norway": "Europe", "denmark": "Europe", "finland": "Europe", "poland": "Europe",
	"czech republic": "Europe", "austria": "Europe", "switzerland": "Europe", "ireland": "Europe",
	"portugal": "Europe",
	"united states": "North America", "canada": "North America", "mexico": "North America",
	"japan": "Asia Pacific", "south korea": "Asia Pacific", "singapore": "Asia Pacific",
	"australia": "Asia Pacific", "new zealand": "Asia Pacific", "china": "Asia Pacific",
	"india": "Asia Pacific",
	"brazil": "Latin America", "argentina": "Latin America", "chile": "Latin America",
	"united arab emirates": "Middle East", "saudi arabia": "Middle East",
	"south africa": "Africa", "kenya": "Africa", "nigeria": "Africa",
}

// RegionForCountry maps a country name to its region, "Other" when unknown
func RegionForCountry(country string) string {
	if region, ok := countryRegions[strings.ToLower(strings.TrimSpace(country))]; ok {
		return region
	}
	return "Other"
}

// SectorDisplayName renders a normalized sector for people: "solar_energy" becomes "Solar Energy"
func SectorDisplayName(sector string) string {
	words := strings.ReplaceAll(models.NormalizeSector(sector), "_", " ")
	return cases.Title(language.English).String(words)
}

// ComputeBundleMetrics aggregates a multi-member candidate. It returns nil for
// single-opportunity candidates.
//
// Parameters:
//   - members: The bundle members.
//   - criteriaMet: Scorer notes quoted in the rationale.
//
// Returns:
//   - The bundle metrics, or nil when there is only one member.
func ComputeBundleMetrics(members []models.OpportunityAlert, criteriaMet []string) *models.BundleMetrics {
	if len(members) < 2 {
		return nil
	}

	m := &models.BundleMetrics{OpportunityCount: len(members)}
	countries, cities, regions := newStringSet(), newStringSet(), newStringSet()
	sectors, technologies := newStringSet(), newStringSet()
	var roiValues []decimal.Decimal

	for _, opp := range members {
		m.TotalInvestment = m.TotalInvestment.Add(opp.Amount)
		m.TotalCarbonReduction = m.TotalCarbonReduction.Add(opp.CarbonReduction)
		m.TotalCapacityMW = m.TotalCapacityMW.Add(opp.CapacityMW)

		if opp.Country != "" {
			countries.add(opp.Country)
			regions.add(RegionForCountry(opp.Country))
		}
		cities.add(opp.City)
		sectors.add(opp.SectorKey())
		technologies.add(strings.ToLower(opp.Technology))

		if opp.ExpectedROI != nil {
			roiValues = append(roiValues, *opp.ExpectedROI)
		}
		if opp.ExecutionStart != "" && (m.EarliestStart == "" || opp.ExecutionStart < m.EarliestStart) {
			m.EarliestStart = opp.ExecutionStart
		}
		if opp.Completion != "" && opp.Completion > m.LatestCompletion {
			m.LatestCompletion = opp.Completion
		}
	}

	if blended, ok := BlendedROI(members); ok {
		m.BlendedROI = blended.Round(2)
	}
	if len(roiValues) > 0 {
		m.ROIRangeMin, m.ROIRangeMax = roiValues[0], roiValues[0]
		for _, v := range roiValues[1:] {
			m.ROIRangeMin = decimal.Min(m.ROIRangeMin, v)
			m.ROIRangeMax = decimal.Max(m.ROIRangeMax, v)
		}
	}
	m.AverageCarbonPerProject = m.TotalCarbonReduction.Div(decimal.NewFromInt(int64(len(members)))).Round(2)

	m.Countries = countries.sorted()
	m.Cities = cities.sorted()
	m.Regions = regions.sorted()
	m.Sectors = sectors.sorted()
	m.Technologies = technologies.sorted()
	m.GeographicSpread = len(m.Countries)

	primary := "mixed"
	if len(m.Sectors) > 0 {
		primary = m.Sectors[0]
	}
	m.Name = fmt.Sprintf("%s Portfolio - %s", SectorDisplayName(primary), summarizeCities(m.Cities))
	m.Description = fmt.Sprintf("Bundle of %d %s projects across %d cities",
		len(members), strings.ReplaceAll(primary, "_", " "), len(m.Cities))

	notes := criteriaMet
	if len(notes) > 5 {
		notes = notes[:5]
	}
	m.Rationale = fmt.Sprintf("Geographic diversification across %d countries. Blended ROI: %s%%. Total carbon reduction: %s tons/year. Criteria met: %s",
		m.GeographicSpread, m.BlendedROI.StringFixed(2), m.TotalCarbonReduction.StringFixed(0), strings.Join(notes, ", "))

	return m
}

func summarizeCities(cities []string) string {
	if len(cities) == 0 {
		return "Unspecified Locations"
	}
	if len(cities) <= 3 {
		return strings.Join(cities, ", ")
	}
	return fmt.Sprintf("%s +%d more", strings.Join(cities[:3], ", "), len(cities)-3)
}

type stringSet map[string]bool

func newStringSet() stringSet {
	return make(stringSet)
}

func (s stringSet) add(v string) {
	if v = strings.TrimSpace(v); v != "" {
		s[v] = true
	}
}

func (s stringSet) sorted() []string {
	out := make([]string, 0, len(s))
	for v := range s {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
