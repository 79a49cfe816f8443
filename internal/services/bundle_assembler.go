package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/models"
	"github.com/IternalEngineering/CNZ-service20-opportunities-v3/internal/utils"
)

// AssemblerConfig bounds the bundle search
type AssemblerConfig struct {
	MaxBundleSize  int `json:"max_bundle_size"`
	EnumerationCap int `json:"enumeration_cap"`
	TopN           int `json:"top_n"`
}

// DefaultAssemblerConfig returns bundles of up to 5, full enumeration up to 12 members, top 1
func DefaultAssemblerConfig() AssemblerConfig {
	return AssemblerConfig{
		MaxBundleSize:  5,
		EnumerationCap: 12,
		TopN:           1,
	}
}

// Candidate is a group of 1..K opportunities considered against one funder
type Candidate struct {
	Members    []models.OpportunityAlert
	Sector     string
	Total      decimal.Decimal
	Greedy     bool
	Evaluation *Evaluation
	Err        error
}

// MemberIDs returns the sorted member ids
func (c *Candidate) MemberIDs() []string {
	ids := make([]string, len(c.Members))
	for i, m := range c.Members {
		ids[i] = m.ID
	}
	sort.Strings(ids)
	return ids
}

// Key identifies the membership independent of order
func (c *Candidate) Key() string {
	return strings.Join(c.MemberIDs(), ",")
}

// Size returns the member count
func (c *Candidate) Size() int {
	return len(c.Members)
}

// Failed reports whether scoring this candidate raised an error
func (c *Candidate) Failed() bool {
	return c.Err != nil
}

// Score returns the 0-100 overall score, zero for failed or unscored candidates
func (c *Candidate) Score() decimal.Decimal {
	if c.Evaluation == nil {
		return decimal.Zero
	}
	return c.Evaluation.Overall
}

func (c *Candidate) isStrictSubsetOf(other *Candidate) bool {
	if c.Size() >= other.Size() {
		return false
	}
	ids := make(map[string]bool, other.Size())
	for _, m := range other.Members {
		ids[m.ID] = true
	}
	for _, m := range c.Members {
		if !ids[m.ID] {
			return false
		}
	}
	return true
}

// BundleAssembler forms, scores and selects candidate groups per funder.
// Bundles never mix primary sectors; adjacency only affects the sector score.
type BundleAssembler struct {
	scorer Scorer
	config AssemblerConfig
	logger *logrus.Logger
}

// NewBundleAssembler creates a new assembler.
//
// Parameters:
//   - scorer: The compatibility scorer applied to each candidate.
//   - config: Search bounds; zero fields take the defaults.
//   - logger: Logger for search diagnostics.
//
// Returns:
//   - A ready-to-use assembler.
func NewBundleAssembler(scorer Scorer, config AssemblerConfig, logger *logrus.Logger) *BundleAssembler {
	if logger == nil {
		logger = logrus.New()
	}
	defaults := DefaultAssemblerConfig()
	if config.MaxBundleSize <= 0 {
		config.MaxBundleSize = defaults.MaxBundleSize
	}
	if config.EnumerationCap <= 0 {
		config.EnumerationCap = defaults.EnumerationCap
	}
	if config.TopN <= 0 {
		config.TopN = defaults.TopN
	}
	return &BundleAssembler{
		scorer: scorer,
		config: config,
		logger: logger,
	}
}

// Config returns the effective search bounds
func (a *BundleAssembler) Config() AssemblerConfig {
	return a.config
}

// Assemble generates, scores and selects the candidates for one funder.
// The result is sorted by descending score; failed candidates follow.
func (a *BundleAssembler) Assemble(opportunities []models.OpportunityAlert, funder models.FunderAlert) []*Candidate {
	candidates := a.Generate(opportunities, funder)
	for _, c := range candidates {
		a.ScoreCandidate(c, funder)
	}
	return a.Select(candidates)
}

// Generate builds the unscored candidates for one funder.
//
// Singles within [min, max] in any partition take priority: when one exists
// only singles are returned. Otherwise combinations of size 2..K are
// enumerated per partition, pruning totals outside [0.8·min, max].
// Partitions larger than the enumeration cap use a greedy accumulation
// instead, which may miss a better-scoring combination.
func (a *BundleAssembler) Generate(opportunities []models.OpportunityAlert, funder models.FunderAlert) []*Candidate {
	partitions, sectors := partitionBySector(opportunities)

	floor := decimal.Zero
	if funder.HasMinimum() {
		floor = funder.MinInvestment
	}
	var singles []*Candidate
	for _, sector := range sectors {
		singles = append(singles, a.singles(sector, partitions[sector], funder, floor)...)
	}
	if len(singles) > 0 || !funder.HasMinimum() {
		return singles
	}

	var candidates []*Candidate
	for _, sector := range sectors {
		partition := partitions[sector]

		if len(partition) > a.config.EnumerationCap {
			a.logger.WithFields(logrus.Fields{
				"funder_id":       funder.ID,
				"sector":          sector,
				"partition_size":  len(partition),
				"enumeration_cap": a.config.EnumerationCap,
			}).Info("Sector partition above enumeration cap, using greedy bundling")
			if c := a.greedy(sector, partition, funder); c != nil {
				candidates = append(candidates, c)
			}
			continue
		}

		candidates = append(candidates, a.enumerate(sector, partition, funder)...)
	}
	return candidates
}

// singles emits size-1 candidates whose amount lies in [floor, max]
func (a *BundleAssembler) singles(sector string, partition []models.OpportunityAlert, funder models.FunderAlert, floor decimal.Decimal) []*Candidate {
	var out []*Candidate
	for _, opp := range partition {
		if opp.Amount.LessThan(floor) {
			continue
		}
		if funder.HasMaximum() && opp.Amount.GreaterThan(funder.MaxInvestment) {
			continue
		}
		out = append(out, &Candidate{
			Members: []models.OpportunityAlert{opp},
			Sector:  sector,
			Total:   opp.Amount,
		})
	}
	return out
}

// enumerate walks combinations of size 2..K in ascending size order
func (a *BundleAssembler) enumerate(sector string, partition []models.OpportunityAlert, funder models.FunderAlert) []*Candidate {
	lower := funder.MinInvestment.Mul(nearMissRatio)
	maxSize := a.config.MaxBundleSize
	if maxSize > len(partition) {
		maxSize = len(partition)
	}

	var out []*Candidate
	chosen := make([]models.OpportunityAlert, 0, maxSize)

	var walk func(start, size int, total decimal.Decimal)
	walk = func(start, size int, total decimal.Decimal) {
		if funder.HasMaximum() && total.GreaterThan(funder.MaxInvestment) {
			return
		}
		if len(chosen) == size {
			if total.GreaterThanOrEqual(lower) {
				members := append([]models.OpportunityAlert(nil), chosen...)
				out = append(out, &Candidate{Members: members, Sector: sector, Total: total})
			}
			return
		}
		for i := start; i <= len(partition)-(size-len(chosen)); i++ {
			chosen = append(chosen, partition[i])
			walk(i+1, size, total.Add(partition[i].Amount))
			chosen = chosen[:len(chosen)-1]
		}
	}

	for size := 2; size <= maxSize; size++ {
		walk(0, size, decimal.Zero)
	}
	return out
}

// greedy accumulates the largest opportunities until the minimum is reached
func (a *BundleAssembler) greedy(sector string, partition []models.OpportunityAlert, funder models.FunderAlert) *Candidate {
	sorted := append([]models.OpportunityAlert(nil), partition...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Amount.Equal(sorted[j].Amount) {
			return sorted[i].Amount.GreaterThan(sorted[j].Amount)
		}
		return sorted[i].ID < sorted[j].ID
	})

	var members []models.OpportunityAlert
	total := decimal.Zero
	for _, opp := range sorted {
		if len(members) == a.config.MaxBundleSize || total.GreaterThanOrEqual(funder.MinInvestment) {
			break
		}
		next := total.Add(opp.Amount)
		if funder.HasMaximum() && next.GreaterThan(funder.MaxInvestment) {
			continue
		}
		members = append(members, opp)
		total = next
	}

	if len(members) < 2 || total.LessThan(funder.MinInvestment.Mul(nearMissRatio)) {
		return nil
	}
	return &Candidate{Members: members, Sector: sector, Total: total, Greedy: true}
}

// ScoreCandidate evaluates one candidate, converting errors and panics into a
// ScoringError on the candidate instead of propagating them.
func (a *BundleAssembler) ScoreCandidate(c *Candidate, funder models.FunderAlert) {
	defer func() {
		if r := recover(); r != nil {
			c.Evaluation = nil
			c.Err = utils.NewScoringError(funder.ID, c.MemberIDs(), fmt.Errorf("panic: %v", r))
		}
	}()

	eval, err := a.scorer.Evaluate(c.Members, funder)
	if err != nil {
		c.Err = utils.NewScoringError(funder.ID, c.MemberIDs(), err)
		return
	}
	c.Evaluation = eval
}

// Select drops candidates dominated by a scored superset, orders the rest by
// score (ties: fewer members, then member key) and keeps the top N. Failed
// candidates are kept in full after the selection.
func (a *BundleAssembler) Select(candidates []*Candidate) []*Candidate {
	var scored, failed []*Candidate
	for _, c := range candidates {
		if c.Failed() || c.Evaluation == nil {
			if c.Err == nil {
				c.Err = utils.NewScoringError("", c.MemberIDs(), fmt.Errorf("candidate was not scored"))
			}
			failed = append(failed, c)
			continue
		}
		scored = append(scored, c)
	}

	var kept []*Candidate
	for _, c := range scored {
		dominated := false
		for _, other := range scored {
			if c.isStrictSubsetOf(other) && other.Score().GreaterThanOrEqual(c.Score()) {
				dominated = true
				break
			}
		}
		if !dominated {
			kept = append(kept, c)
		}
	}

	SortCandidates(kept)
	if len(kept) > a.config.TopN {
		kept = kept[:a.config.TopN]
	}
	return append(kept, failed...)
}

// SortCandidates orders by score desc, member count asc, member key asc
func SortCandidates(candidates []*Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := candidates[i].Score(), candidates[j].Score()
		if !si.Equal(sj) {
			return si.GreaterThan(sj)
		}
		if candidates[i].Size() != candidates[j].Size() {
			return candidates[i].Size() < candidates[j].Size()
		}
		return candidates[i].Key() < candidates[j].Key()
	})
}

// partitionBySector groups opportunities by normalized primary sector. Each
// partition is ordered by id and the sector list is sorted.
func partitionBySector(opportunities []models.OpportunityAlert) (map[string][]models.OpportunityAlert, []string) {
	partitions := make(map[string][]models.OpportunityAlert)
	for _, opp := range opportunities {
		key := opp.SectorKey()
		if key == "" {
			continue
		}
		partitions[key] = append(partitions[key], opp)
	}

	sectors := make([]string, 0, len(partitions))
	for sector, partition := range partitions {
		sort.SliceStable(partition, func(i, j int) bool { return partition[i].ID < partition[j].ID })
		sectors = append(sectors, sector)
	}
	sort.Strings(sectors)
	return partitions, sectors
}
