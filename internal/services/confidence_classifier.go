package services

import (
	"github.com/shopspring/decimal"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
)

// FailureReasonBelowFloor is recorded on proposals under the failure floor
const FailureReasonBelowFloor = "score below minimum threshold"

var (
	HighConfidenceThreshold   = decimal.NewFromInt(80)
	MediumConfidenceThreshold = decimal.NewFromInt(60)
	// FailureFloor marks proposals failed below it; [40,60) stays low and non-failed.
	FailureFloor = decimal.NewFromInt(40)
)

// Classification is the classifier's verdict for one score
type Classification struct {
	Level         models.ConfidenceLevel
	Failed        bool
	FailureReason string
}

// ClassifyConfidence maps a 0-100 score to a tier and failure flag.
//
// Parameters:
//   - score: The persisted overall score.
//
// Returns:
//   - high for score >= 80, medium for [60,80), low below 60; failed below 40.
func ClassifyConfidence(score decimal.Decimal) Classification {
	switch {
	case score.GreaterThanOrEqual(HighConfidenceThreshold):
		return Classification{Level: models.ConfidenceHigh}
	case score.GreaterThanOrEqual(MediumConfidenceThreshold):
		return Classification{Level: models.ConfidenceMedium}
	case score.GreaterThanOrEqual(FailureFloor):
		return Classification{Level: models.ConfidenceLow}
	default:
		return Classification{
			Level:         models.ConfidenceLow,
			Failed:        true,
			FailureReason: FailureReasonBelowFloor,
		}
	}
}
