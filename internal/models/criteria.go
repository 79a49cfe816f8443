package models

import (
	"encoding/json"
	"strconv"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/utils"
	"github.com/shopspring/decimal"
)

// criteriaSections are the top-level criteria keys with typed fields.
// Anything else is preserved in Extra.
var criteriaSections = map[string]bool{
	"sector":    true,
	"financial": true,
	"timeline":  true,
	"technical": true,
	"location":  true,
}

// OpportunityCriteria is the criteria payload of an investment alert
type OpportunityCriteria struct {
	Sector struct {
		Primary   string   `json:"primary"`
		Secondary []string `json:"secondary"`
		Tags      []string `json:"tags"`
	} `json:"sector"`
	Financial struct {
		Amount          *decimal.Decimal `json:"amount"`
		Currency        string           `json:"currency"`
		ROIExpected     *decimal.Decimal `json:"roi_expected"`
		CarbonReduction *decimal.Decimal `json:"carbon_reduction_tons_annually"`
	} `json:"financial"`
	Timeline struct {
		ExecutionStart string `json:"execution_start"`
		Completion     string `json:"completion"`
	} `json:"timeline"`
	Technical struct {
		Technology string           `json:"technology"`
		CapacityMW *decimal.Decimal `json:"capacity_mw"`
	} `json:"technical"`
	Location struct {
		City    string `json:"city"`
		Country string `json:"country"`
	} `json:"location"`
	Extra map[string]any `json:"-"`
}

// FunderCriteria is the criteria payload of a funding alert
type FunderCriteria struct {
	Sector struct {
		Primary  string   `json:"primary"`
		Eligible []string `json:"eligible"`
	} `json:"sector"`
	Financial struct {
		MinimumRequired *decimal.Decimal `json:"minimum_required"`
		Maximum         *decimal.Decimal `json:"maximum"`
		Currency        string           `json:"currency"`
		ROITarget       *decimal.Decimal `json:"roi_target"`
		ROIMinimum      *decimal.Decimal `json:"roi_minimum"`
	} `json:"financial"`
	Timeline struct {
		WindowStart int `json:"window_start"`
		WindowEnd   int `json:"window_end"`
	} `json:"timeline"`
	Technical struct {
		Technology string `json:"technology"`
	} `json:"technical"`
	Location struct {
		Scope     string   `json:"scope"`
		Countries []string `json:"countries"`
		Regions   []string `json:"regions"`
	} `json:"location"`
	Extra map[string]any `json:"-"`
}

// DecodeOpportunity maps an investment alert row to a validated OpportunityAlert.
//
// Parameters:
//   - rec: The raw alert store row.
//
// Returns:
//   - The decoded opportunity.
//   - An InputDataError when mandatory fields are missing or malformed.
func DecodeOpportunity(rec AlertRecord) (OpportunityAlert, error) {
	if rec.ID == "" {
		return OpportunityAlert{}, utils.NewInputDataError("", "id", "required")
	}
	if rec.AlertType != AlertTypeInvestment {
		return OpportunityAlert{}, utils.NewInputDataErrorf(rec.ID, "alert_type", "expected %s, got %q", AlertTypeInvestment, rec.AlertType)
	}

	var c OpportunityCriteria
	extra, err := decodeCriteria(rec, &c)
	if err != nil {
		return OpportunityAlert{}, err
	}
	if NormalizeSector(c.Sector.Primary) == "" {
		return OpportunityAlert{}, utils.NewInputDataError(rec.ID, "sector.primary", "required")
	}

	opp := OpportunityAlert{
		ID:               rec.ID,
		PrimarySector:    c.Sector.Primary,
		SecondarySectors: c.Sector.Secondary,
		Tags:             c.Sector.Tags,
		City:             c.Location.City,
		Country:          c.Location.Country,
		Currency:         c.Financial.Currency,
		ExpectedROI:      c.Financial.ROIExpected,
		ExecutionStart:   c.Timeline.ExecutionStart,
		Completion:       c.Timeline.Completion,
		StartYear:        ParseYear(c.Timeline.ExecutionStart),
		Technology:       c.Technical.Technology,
		Status:           rec.Status,
		CreatedAt:        rec.CreatedAt,
		Extra:            extra,
	}
	if c.Financial.Amount != nil {
		if c.Financial.Amount.IsNegative() {
			return OpportunityAlert{}, utils.NewInputDataErrorf(rec.ID, "financial.amount", "must not be negative, got %s", c.Financial.Amount)
		}
		opp.Amount = *c.Financial.Amount
	}
	if c.Financial.CarbonReduction != nil {
		opp.CarbonReduction = *c.Financial.CarbonReduction
	}
	if c.Technical.CapacityMW != nil {
		opp.CapacityMW = *c.Technical.CapacityMW
	}

	return opp, nil
}

// DecodeFunder maps a funding alert row to a validated FunderAlert.
//
// Parameters:
//   - rec: The raw alert store row.
//
// Returns:
//   - The decoded funder.
//   - An InputDataError when mandatory fields are missing or malformed.
func DecodeFunder(rec AlertRecord) (FunderAlert, error) {
	if rec.ID == "" {
		return FunderAlert{}, utils.NewInputDataError("", "id", "required")
	}
	if rec.AlertType != AlertTypeFunding {
		return FunderAlert{}, utils.NewInputDataErrorf(rec.ID, "alert_type", "expected %s, got %q", AlertTypeFunding, rec.AlertType)
	}

	var c FunderCriteria
	extra, err := decodeCriteria(rec, &c)
	if err != nil {
		return FunderAlert{}, err
	}

	funder := FunderAlert{
		ID:                   rec.ID,
		PrimarySector:        c.Sector.Primary,
		EligibleSectors:      c.Sector.Eligible,
		GeographyScope:       c.Location.Scope,
		Countries:            c.Location.Countries,
		Regions:              c.Location.Regions,
		Currency:             c.Financial.Currency,
		TargetROI:            c.Financial.ROITarget,
		MinROI:               c.Financial.ROIMinimum,
		WindowStart:          c.Timeline.WindowStart,
		WindowEnd:            c.Timeline.WindowEnd,
		TechnologyPreference: c.Technical.Technology,
		Status:               rec.Status,
		CreatedAt:            rec.CreatedAt,
		Extra:                extra,
	}
	if len(funder.Sectors()) == 0 {
		return FunderAlert{}, utils.NewInputDataError(rec.ID, "sector", "at least one of primary or eligible is required")
	}
	if c.Financial.MinimumRequired != nil {
		if c.Financial.MinimumRequired.IsNegative() {
			return FunderAlert{}, utils.NewInputDataError(rec.ID, "financial.minimum_required", "must not be negative")
		}
		funder.MinInvestment = *c.Financial.MinimumRequired
	}
	if c.Financial.Maximum != nil {
		if c.Financial.Maximum.IsNegative() {
			return FunderAlert{}, utils.NewInputDataError(rec.ID, "financial.maximum", "must not be negative")
		}
		funder.MaxInvestment = *c.Financial.Maximum
	}
	if funder.HasMinimum() && funder.HasMaximum() && funder.MinInvestment.GreaterThan(funder.MaxInvestment) {
		return FunderAlert{}, utils.NewInputDataErrorf(rec.ID, "financial", "minimum %s exceeds maximum %s", funder.MinInvestment, funder.MaxInvestment)
	}
	if funder.WindowStart > 0 && funder.WindowEnd > 0 && funder.WindowStart > funder.WindowEnd {
		return FunderAlert{}, utils.NewInputDataErrorf(rec.ID, "timeline", "window start %d after end %d", funder.WindowStart, funder.WindowEnd)
	}

	return funder, nil
}

func decodeCriteria(rec AlertRecord, target interface{}) (map[string]any, error) {
	if len(rec.Criteria) == 0 {
		return nil, utils.NewInputDataError(rec.ID, "criteria", "missing")
	}
	if err := json.Unmarshal(rec.Criteria, target); err != nil {
		return nil, utils.NewInputDataErrorf(rec.ID, "criteria", "malformed: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(rec.Criteria, &raw); err != nil {
		return nil, utils.NewInputDataErrorf(rec.ID, "criteria", "malformed: %v", err)
	}

	var extra map[string]any
	for key, value := range raw {
		if criteriaSections[key] {
			continue
		}
		var v any
		if err := json.Unmarshal(value, &v); err != nil {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[key] = v
	}
	return extra, nil
}

// ParseYear extracts the leading four-digit year from values such as
// "2025", "2025-Q4" or "2025-06-01". It returns 0 when no year is present.
func ParseYear(s string) int {
	if len(s) < 4 {
		return 0
	}
	year, err := strconv.Atoi(s[:4])
	if err != nil || year < 1900 || year > 2200 {
		return 0
	}
	return year
}
