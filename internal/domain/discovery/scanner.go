package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/therxos/therxos-backend-sub002/internal/domain/dispensing"
	"github.com/therxos/therxos-backend-sub002/internal/domain/scan"
	"github.com/therxos/therxos-backend-sub002/internal/domain/trigger"
	"github.com/therxos/therxos-backend-sub002/internal/platform/drug"
)

// Options are the miner's thresholds. Every threshold is a flag on the
// command surface; defaults reflect the configuration layer's.
type Options struct {
	// LookbackDays bounds the margin aggregation window.
	LookbackDays int
	// MinFills is the minimum fill count for a losing combination.
	MinFills int
	// MaxAvgGP is the (negative) average-margin ceiling for a loser.
	MaxAvgGP float64
	// AltMinFills and AltMinAvgGP qualify an alternative.
	AltMinFills int
	AltMinAvgGP float64
	// MinAnnualGain discards proposals below this per-patient annual gain.
	MinAnnualGain float64
}

func (o Options) withDefaults() Options {
	if o.LookbackDays <= 0 {
		o.LookbackDays = 90
	}
	if o.MinFills <= 0 {
		o.MinFills = 10
	}
	if o.MaxAvgGP == 0 {
		o.MaxAvgGP = -5
	}
	if o.AltMinFills <= 0 {
		o.AltMinFills = 5
	}
	if o.AltMinAvgGP == 0 {
		o.AltMinAvgGP = 5
	}
	if o.MinAnnualGain == 0 {
		o.MinAnnualGain = 100
	}
	return o
}

// Scanner mines the cross-tenant claims history for chronically negative
// drug/payer combinations and writes proposals to the human review queue.
// It never creates or modifies a live trigger.
type Scanner struct {
	records  dispensing.Repository
	triggers trigger.Repository
	queue    Repository
	coverage CoverageRepository
	logs     scan.LogRepository
	opts     Options
	logger   zerolog.Logger
}

func NewScanner(records dispensing.Repository, triggers trigger.Repository,
	queue Repository, coverage CoverageRepository, logs scan.LogRepository,
	opts Options, logger zerolog.Logger) *Scanner {
	return &Scanner{
		records:  records,
		triggers: triggers,
		queue:    queue,
		coverage: coverage,
		logs:     logs,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// Run executes one discovery scan and records a run summary.
func (s *Scanner) Run(ctx context.Context) (*scan.Log, error) {
	runLog, err := s.logs.Start(ctx, scan.KindDiscovery, nil)
	if err != nil {
		return nil, err
	}
	return runLog, s.resume(ctx, runLog)
}

// resume executes a run whose summary row already exists. Panics are
// contained so a background run never crashes the server and its summary
// row never stays stuck in running.
func (s *Scanner) resume(ctx context.Context, runLog *scan.Log) error {
	counts, runErr := func() (c scan.Counts, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("discovery scan panic: %v", r)
			}
		}()
		return s.run(ctx)
	}()
	runLog.Counts = counts
	status := scan.RunCompleted
	errMsg := ""
	if runErr != nil {
		status = scan.RunFailed
		errMsg = runErr.Error()
		s.logger.Error().Err(runErr).Msg("discovery scan failed")
	}
	runLog.Status = status
	runLog.Error = errMsg
	if err := s.logs.Finish(ctx, runLog.ID, status, counts, errMsg); err != nil {
		s.logger.Error().Err(err).Msg("finish discovery scan log")
	}
	return runErr
}

func (s *Scanner) run(ctx context.Context) (scan.Counts, error) {
	var counts scan.Counts

	since := time.Now().AddDate(0, 0, -s.opts.LookbackDays)
	// One aggregation at the looser alternative threshold serves both the
	// loser filter and the alternative search.
	aggs, err := s.records.AggregateMargins(ctx, since, s.opts.AltMinFills)
	if err != nil {
		return counts, fmt.Errorf("aggregate margins: %w", err)
	}

	enabled, err := s.triggers.List(ctx, true)
	if err != nil {
		return counts, fmt.Errorf("load triggers: %w", err)
	}

	counts.Scanned = len(aggs)
	for i := range aggs {
		loser := &aggs[i]
		if loser.Fills < s.opts.MinFills || loser.AvgGP > s.opts.MaxAvgGP {
			continue
		}
		counts.Matched++

		created, err := s.propose(ctx, loser, aggs, enabled)
		if err != nil {
			counts.Errored++
			s.logger.Warn().Err(err).
				Str("drug", loser.SampleDrugName).
				Str("bin", loser.BIN).
				Msg("proposal failed")
			continue
		}
		if created {
			counts.Inserted++
		} else {
			counts.Skipped++
		}
	}

	s.logger.Info().
		Int("combinations", counts.Scanned).
		Int("losers", counts.Matched).
		Int("proposals", counts.Inserted).
		Int("skipped", counts.Skipped).
		Int("errored", counts.Errored).
		Msg("discovery scan completed")
	return counts, nil
}

func (s *Scanner) propose(ctx context.Context, loser *dispensing.MarginAggregate,
	aggs []dispensing.MarginAggregate, enabled []*trigger.Trigger) (bool, error) {

	class, ok := drug.Classify(loser.SampleDrugName)
	if !ok {
		// Manual triage instead of a guessless proposal.
		err := s.queue.RecordUnclassified(ctx, &UnclassifiedDrug{
			DrugName: loser.SampleDrugName,
			BIN:      loser.BIN,
			Group:    loser.Group,
			AvgGP:    loser.AvgGP,
			Fills:    loser.Fills,
		})
		return false, err
	}

	alts := s.findAlternatives(loser, class, aggs)
	if len(alts) == 0 {
		return false, nil
	}
	best := alts[0]

	gain := (best.AvgGP - loser.AvgGP) * 12
	if gain < s.opts.MinAnnualGain {
		return false, nil
	}

	if s.triggerExists(enabled, loser, best.SampleDrugName) {
		return false, nil
	}
	exists, err := s.queue.ExistsForLoser(ctx, loser.DrugToken, dispensing.BaseToken(best.SampleDrugName))
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}

	p := &PendingOpportunityType{
		RecommendedDrug:      best.SampleDrugName,
		LoserDrug:            loser.SampleDrugName,
		LoserToken:           loser.DrugToken,
		BIN:                  loser.BIN,
		Group:                loser.Group,
		TherapeuticClass:     class.Name,
		TherapeuticArea:      class.Area,
		LoserAvgGP:           loser.AvgGP,
		LoserFills:           loser.Fills,
		AltAvgGP:             best.AvgGP,
		AltFills:             best.Fills,
		AnnualGainPerPatient: gain,
		AggregateAnnualGain:  gain * float64(loser.Patients),
		Patients:             loser.Patients,
		PharmacyIDs:          loser.PharmacyIDs,
		Alternatives:         alts,
		ReviewStatus:         ReviewPending,
	}
	s.enrichCoverage(ctx, p, loser, best, aggs)

	if err := s.queue.Create(ctx, p); err != nil {
		return false, fmt.Errorf("create proposal: %w", err)
	}
	return true, nil
}

// findAlternatives searches the aggregation for positive-margin drugs on the
// loser's payer, first within the loser's therapeutic class, then across the
// whole therapeutic area. Results are best-margin first.
func (s *Scanner) findAlternatives(loser *dispensing.MarginAggregate, class drug.Class,
	aggs []dispensing.MarginAggregate) []Alternative {

	classDrugs := map[string]bool{class.Name: true}
	alts := s.collect(loser, aggs, classDrugs, true)
	if len(alts) == 0 {
		// Broaden to every class in the same therapeutic area.
		areaDrugs := make(map[string]bool)
		for _, name := range drug.ClassesInArea(class.Area) {
			areaDrugs[name] = true
		}
		alts = s.collect(loser, aggs, areaDrugs, true)
		if len(alts) == 0 {
			// Last resort: class drugs proven on other payers. Coverage for
			// the loser's payer then rests on formulary evidence.
			alts = s.collect(loser, aggs, classDrugs, false)
		}
	}
	sort.Slice(alts, func(i, j int) bool { return alts[i].AvgGP > alts[j].AvgGP })
	return alts
}

func (s *Scanner) collect(loser *dispensing.MarginAggregate,
	aggs []dispensing.MarginAggregate, classes map[string]bool, samePayer bool) []Alternative {

	var alts []Alternative
	for i := range aggs {
		cand := &aggs[i]
		onPayer := cand.BIN == loser.BIN && strings.EqualFold(cand.Group, loser.Group)
		if samePayer != onPayer {
			continue
		}
		if cand.DrugToken == loser.DrugToken {
			continue
		}
		if cand.Fills < s.opts.AltMinFills || cand.AvgGP < s.opts.AltMinAvgGP {
			continue
		}
		candClass, ok := drug.Classify(cand.SampleDrugName)
		if !ok || !classes[candClass.Name] {
			continue
		}
		alts = append(alts, Alternative{
			DrugToken:      cand.DrugToken,
			SampleDrugName: cand.SampleDrugName,
			AvgGP:          cand.AvgGP,
			Fills:          cand.Fills,
			SamePayer:      samePayer,
		})
	}
	return alts
}

// triggerExists reports whether an enabled trigger already recommends this
// alternative for drugs matching the loser.
func (s *Scanner) triggerExists(enabled []*trigger.Trigger,
	loser *dispensing.MarginAggregate, recommended string) bool {

	recToken := dispensing.BaseToken(recommended)
	loserName := trigger.NormalizeText(loser.SampleDrugName)
	for _, t := range enabled {
		if dispensing.BaseToken(t.RecommendedDrug) != recToken {
			continue
		}
		for _, kw := range t.Keywords {
			if kw = trigger.NormalizeText(kw); kw != "" && strings.Contains(loserName, kw) {
				return true
			}
		}
	}
	return false
}

// enrichCoverage attaches the strongest available reimbursement evidence:
// verified claims on the exact payer, then Part-D formulary data, then the
// commercial-formulary cache, then none. Claim-level cost statistics ride
// along when present; estimated GP fills in when claims are absent.
func (s *Scanner) enrichCoverage(ctx context.Context, p *PendingOpportunityType,
	loser *dispensing.MarginAggregate, best Alternative, aggs []dispensing.MarginAggregate) {

	if loser.AvgCost != 0 || loser.AvgReimbursed != 0 {
		cost, reimb := loser.AvgCost, loser.AvgReimbursed
		p.LoserAvgCost, p.LoserAvgReimb = &cost, &reimb
	}
	for i := range aggs {
		a := &aggs[i]
		if a.DrugToken == best.DrugToken && a.BIN == loser.BIN && strings.EqualFold(a.Group, loser.Group) {
			if a.AvgCost != 0 || a.AvgReimbursed != 0 {
				cost, reimb := a.AvgCost, a.AvgReimbursed
				p.AltAvgCost, p.AltAvgReimb = &cost, &reimb
			}
			break
		}
	}

	if best.SamePayer && best.Fills > 0 {
		p.CoverageTier = TierClaims
		p.CoverageDetail = fmt.Sprintf("%d paid claims, avg GP %.2f", best.Fills, best.AvgGP)
		return
	}

	if f, err := s.coverage.PartDStatus(ctx, best.DrugToken, loser.BIN); err == nil && f != nil {
		p.CoverageTier = TierPartD
		p.CoverageDetail = formularyDetail(f)
		s.estimateGP(ctx, p, best)
		return
	}
	if f, err := s.coverage.CommercialStatus(ctx, best.DrugToken, loser.BIN, loser.Group); err == nil && f != nil {
		p.CoverageTier = TierCommercial
		p.CoverageDetail = formularyDetail(f)
		s.estimateGP(ctx, p, best)
		return
	}
	p.CoverageTier = TierNone
	s.estimateGP(ctx, p, best)
}

func (s *Scanner) estimateGP(ctx context.Context, p *PendingOpportunityType, best Alternative) {
	c, err := s.coverage.DrugCost(ctx, best.DrugToken)
	if err != nil || c == nil {
		return
	}
	est := c.ExpectedReimb - c.AcquisitionCost
	p.EstimatedGP = &est
}

func formularyDetail(f *FormularyStatus) string {
	if f.Restrictions == "" {
		return fmt.Sprintf("tier %s", f.Tier)
	}
	return fmt.Sprintf("tier %s, %s", f.Tier, f.Restrictions)
}
