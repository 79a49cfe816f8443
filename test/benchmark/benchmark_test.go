package benchmark

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/services"
)

func opportunities(n int) []models.OpportunityAlert {
	sectors := []string{"solar_energy", "wind_energy", "energy_storage"}
	out := make([]models.OpportunityAlert, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, models.OpportunityAlert{
			ID:            fmt.Sprintf("O%03d", i),
			PrimarySector: sectors[i%len(sectors)],
			Amount:        decimal.NewFromInt(int64(200000 + (i%7)*50000)),
			Status:        models.AlertStatusActive,
		})
	}
	return out
}

func newAssembler() *services.BundleAssembler {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return services.NewBundleAssembler(
		services.NewCompatibilityScorer(services.DefaultSectorAdjacency()),
		services.DefaultAssemblerConfig(),
		logger,
	)
}

// BenchmarkAssemble measures candidate generation and selection for one
// funder as the opportunity pool grows past the enumeration cap.
func BenchmarkAssemble(b *testing.B) {
	funder := models.FunderAlert{
		ID:            "F1",
		PrimarySector: "renewable_energy",
		MinInvestment: decimal.NewFromInt(500000),
		MaxInvestment: decimal.NewFromInt(2000000),
		Status:        models.AlertStatusActive,
	}
	assembler := newAssembler()

	for _, n := range []int{6, 12, 36, 120} {
		pool := opportunities(n)
		b.Run(fmt.Sprintf("opportunities=%d", n), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = assembler.Assemble(pool, funder)
			}
		})
	}
}

// BenchmarkScore measures one multi-member score
func BenchmarkScore(b *testing.B) {
	scorer := services.NewCompatibilityScorer(services.DefaultSectorAdjacency())
	members := opportunities(5)
	funder := models.FunderAlert{ID: "F1", PrimarySector: "solar_energy", Status: models.AlertStatusActive}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := scorer.Evaluate(members, funder); err != nil {
			b.Fatal(err)
		}
	}
}
