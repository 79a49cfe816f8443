package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AlertType distinguishes the two kinds of rows held by the alert store
type AlertType string

const (
	AlertTypeInvestment AlertType = "investment"
	AlertTypeFunding    AlertType = "funding"
)

// AlertStatus is owned by upstream systems; only active alerts are matched
type AlertStatus string

const (
	AlertStatusActive    AlertStatus = "active"
	AlertStatusMatched   AlertStatus = "matched"
	AlertStatusExpired   AlertStatus = "expired"
	AlertStatusCancelled AlertStatus = "cancelled"
)

// AlertRecord is a raw alert store row before criteria decoding
type AlertRecord struct {
	ID        string          `json:"id" db:"id"`
	AlertType AlertType       `json:"alert_type" db:"alert_type"`
	Status    AlertStatus     `json:"status" db:"status"`
	Criteria  json.RawMessage `json:"criteria" db:"criteria"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// OpportunityAlert is a funding-seeking project, decoded from an investment alert
type OpportunityAlert struct {
	ID               string           `json:"id"`
	PrimarySector    string           `json:"primary_sector"`
	SecondarySectors []string         `json:"secondary_sectors,omitempty"`
	Tags             []string         `json:"tags,omitempty"`
	City             string           `json:"city,omitempty"`
	Country          string           `json:"country,omitempty"`
	Amount           decimal.Decimal  `json:"amount"`
	Currency         string           `json:"currency,omitempty"`
	ExpectedROI      *decimal.Decimal `json:"expected_roi,omitempty"`
	CarbonReduction  decimal.Decimal  `json:"carbon_reduction"`
	ExecutionStart   string           `json:"execution_start,omitempty"`
	Completion       string           `json:"completion,omitempty"`
	StartYear        int              `json:"start_year,omitempty"`
	Technology       string           `json:"technology,omitempty"`
	CapacityMW       decimal.Decimal  `json:"capacity_mw"`
	Status           AlertStatus      `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	Extra            map[string]any   `json:"extra,omitempty"`
}

// IsActive reports whether the opportunity may be matched
func (o OpportunityAlert) IsActive() bool {
	return o.Status == AlertStatusActive
}

// SectorKey returns the normalized primary sector used for partitioning
func (o OpportunityAlert) SectorKey() string {
	return NormalizeSector(o.PrimarySector)
}

// FunderAlert is a capital-offering entity, decoded from a funding alert
type FunderAlert struct {
	ID                   string           `json:"id"`
	PrimarySector        string           `json:"primary_sector,omitempty"`
	EligibleSectors      []string         `json:"eligible_sectors,omitempty"`
	GeographyScope       string           `json:"geography_scope,omitempty"`
	Countries            []string         `json:"countries,omitempty"`
	Regions              []string         `json:"regions,omitempty"`
	MinInvestment        decimal.Decimal  `json:"min_investment"`
	MaxInvestment        decimal.Decimal  `json:"max_investment"`
	Currency             string           `json:"currency,omitempty"`
	TargetROI            *decimal.Decimal `json:"target_roi,omitempty"`
	MinROI               *decimal.Decimal `json:"min_roi,omitempty"`
	WindowStart          int              `json:"window_start,omitempty"`
	WindowEnd            int              `json:"window_end,omitempty"`
	TechnologyPreference string           `json:"technology_preference,omitempty"`
	Status               AlertStatus      `json:"status"`
	CreatedAt            time.Time        `json:"created_at"`
	Extra                map[string]any   `json:"extra,omitempty"`
}

// IsActive reports whether the funder may be matched
func (f FunderAlert) IsActive() bool {
	return f.Status == AlertStatusActive
}

// HasMinimum reports whether the funder declares a minimum ticket
func (f FunderAlert) HasMinimum() bool {
	return f.MinInvestment.IsPositive()
}

// HasMaximum reports whether the funder declares a maximum ticket
func (f FunderAlert) HasMaximum() bool {
	return f.MaxInvestment.IsPositive()
}

// Sectors returns the normalized, de-duplicated set of sectors the funder accepts
func (f FunderAlert) Sectors() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range append([]string{f.PrimarySector}, f.EligibleSectors...) {
		n := NormalizeSector(s)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// HasWindow reports whether the funder declares a timeline window
func (f FunderAlert) HasWindow() bool {
	return f.WindowStart > 0 || f.WindowEnd > 0
}

// InWindow reports whether year falls inside the funder's timeline window.
// An open end on either side is unbounded.
func (f FunderAlert) InWindow(year int) bool {
	if f.WindowStart > 0 && year < f.WindowStart {
		return false
	}
	if f.WindowEnd > 0 && year > f.WindowEnd {
		return false
	}
	return true
}

// NormalizeSector lower-cases a sector name and folds separators to underscores
func NormalizeSector(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_", "/", "_").Replace(s)
	return s
}
