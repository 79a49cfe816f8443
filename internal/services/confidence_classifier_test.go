package services

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
)

func TestClassifyConfidence(t *testing.T) {
	tests := []struct {
		score  string
		level  models.ConfidenceLevel
		failed bool
	}{
		{"100.00", models.ConfidenceHigh, false},
		{"80.00", models.ConfidenceHigh, false},
		{"79.99", models.ConfidenceMedium, false},
		{"60.00", models.ConfidenceMedium, false},
		{"59.99", models.ConfidenceLow, false},
		{"40.00", models.ConfidenceLow, false},
		{"39.99", models.ConfidenceLow, true},
		{"0.00", models.ConfidenceLow, true},
	}

	for _, tt := range tests {
		t.Run(tt.score, func(t *testing.T) {
			result := ClassifyConfidence(decimal.RequireFromString(tt.score))
			assert.Equal(t, tt.level, result.Level)
			assert.Equal(t, tt.failed, result.Failed)
			if tt.failed {
				assert.Equal(t, FailureReasonBelowFloor, result.FailureReason)
			} else {
				assert.Empty(t, result.FailureReason)
			}
		})
	}
}

func TestClassifyConfidence_Monotonic(t *testing.T) {
	rank := map[models.ConfidenceLevel]int{
		models.ConfidenceLow:    0,
		models.ConfidenceMedium: 1,
		models.ConfidenceHigh:   2,
	}

	previous := -1
	for cents := int64(0); cents <= 10000; cents += 7 {
		level := ClassifyConfidence(decimal.New(cents, -2)).Level
		assert.GreaterOrEqual(t, rank[level], previous)
		previous = rank[level]
	}
}
