package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/therxos/therxos-backend-sub002/internal/domain/dispensing"
	"github.com/therxos/therxos-backend-sub002/internal/domain/opportunity"
	"github.com/therxos/therxos-backend-sub002/internal/domain/trigger"
	"github.com/therxos/therxos-backend-sub002/internal/platform/drug"
)

// Options are the orchestrator's tunables.
type Options struct {
	// Workers bounds the pharmacy worker pool; sized to the datastore
	// connection limit, not CPU count.
	Workers int
	// LookbackDays bounds the dispensing records evaluated per pharmacy.
	LookbackDays int
	// GPCacheLookbackDays bounds the cross-tenant paid-claims aggregation.
	GPCacheLookbackDays int
	// MinValue suppresses economically trivial matches after normalization.
	MinValue float64
	// PatientHistoryDays bounds the drug history used for if-has/if-not-has
	// conditions and condition inference.
	PatientHistoryDays int
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.LookbackDays <= 0 {
		o.LookbackDays = 120
	}
	if o.GPCacheLookbackDays <= 0 {
		o.GPCacheLookbackDays = 365
	}
	if o.PatientHistoryDays <= 0 {
		o.PatientHistoryDays = 365
	}
	return o
}

// Orchestrator runs the opportunity scan: triggers x dispensing records per
// pharmacy, committed through the deduplicator/reconciler.
type Orchestrator struct {
	records  dispensing.Repository
	triggers trigger.Repository
	recon    *opportunity.Reconciler
	logs     LogRepository
	opts     Options
	logger   zerolog.Logger
}

func NewOrchestrator(records dispensing.Repository, triggers trigger.Repository,
	recon *opportunity.Reconciler, logs LogRepository, opts Options, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		records:  records,
		triggers: triggers,
		recon:    recon,
		logs:     logs,
		opts:     opts.withDefaults(),
		logger:   logger,
	}
}

// Run scans one pharmacy, or every pharmacy when pharmacyID is nil, and
// records a run summary. Per-record and per-trigger problems are counted and
// logged, never fatal; only datastore-level failures fail the run.
func (o *Orchestrator) Run(ctx context.Context, pharmacyID *uuid.UUID) (*Log, error) {
	runLog, err := o.logs.Start(ctx, KindOpportunity, pharmacyID)
	if err != nil {
		return nil, err
	}
	return runLog, o.resume(ctx, runLog, pharmacyID)
}

// resume executes a run whose summary row already exists, used when the
// caller wants the row before the run finishes. Panics are contained here:
// runs execute in background goroutines the HTTP recovery middleware never
// sees, and a crashed run must still be finished as failed.
func (o *Orchestrator) resume(ctx context.Context, runLog *Log, pharmacyID *uuid.UUID) error {
	counts, runErr := func() (c Counts, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("scan panic: %v", r)
			}
		}()
		return o.run(ctx, pharmacyID)
	}()
	runLog.Counts = counts

	status := RunCompleted
	errMsg := ""
	if runErr != nil {
		status = RunFailed
		errMsg = runErr.Error()
		o.logger.Error().Err(runErr).Str("scan_id", runLog.ID.String()).Msg("scan failed")
	}
	runLog.Status = status
	runLog.Error = errMsg
	if err := o.logs.Finish(ctx, runLog.ID, status, counts, errMsg); err != nil {
		o.logger.Error().Err(err).Str("scan_id", runLog.ID.String()).Msg("finish scan log")
	}
	return runErr
}

func (o *Orchestrator) run(ctx context.Context, pharmacyID *uuid.UUID) (Counts, error) {
	var total Counts

	all, err := o.triggers.List(ctx, true)
	if err != nil {
		return total, fmt.Errorf("load triggers: %w", err)
	}
	compiled, compileErrs := trigger.CompileAll(all)
	for _, cerr := range compileErrs {
		// Configuration errors skip the trigger for this run, never abort.
		o.logger.Warn().Err(cerr).Msg("trigger skipped")
	}
	if len(compiled) == 0 {
		return total, nil
	}

	cacheSince := time.Now().AddDate(0, 0, -o.opts.GPCacheLookbackDays)
	cache, err := BuildGPCache(ctx, o.records, compiled, cacheSince)
	if err != nil {
		return total, err
	}

	var pharmacies []*dispensing.Pharmacy
	if pharmacyID != nil {
		ph, err := o.records.GetPharmacy(ctx, *pharmacyID)
		if err != nil {
			return total, fmt.Errorf("load pharmacy: %w", err)
		}
		pharmacies = append(pharmacies, ph)
	} else {
		pharmacies, err = o.records.ListPharmacies(ctx, true)
		if err != nil {
			return total, fmt.Errorf("list pharmacies: %w", err)
		}
	}

	work := make(chan *dispensing.Pharmacy)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < o.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ph := range work {
				c, err := o.scanPharmacy(ctx, ph, compiled, cache)
				mu.Lock()
				total.merge(c)
				total.Pharmacies++
				if err != nil {
					total.Errored++
				}
				mu.Unlock()
				if err != nil {
					o.logger.Error().Err(err).
						Str("pharmacy_id", ph.ID.String()).
						Msg("pharmacy scan failed")
				}
			}
		}()
	}
	for _, ph := range pharmacies {
		if !ph.IsActive {
			continue
		}
		work <- ph
	}
	close(work)
	wg.Wait()

	o.logger.Info().
		Int("pharmacies", total.Pharmacies).
		Int("scanned", total.Scanned).
		Int("matched", total.Matched).
		Int("inserted", total.Inserted).
		Int("updated", total.Updated).
		Int("skipped", total.Skipped).
		Int("errored", total.Errored).
		Msg("scan completed")
	return total, nil
}

func (o *Orchestrator) scanPharmacy(ctx context.Context, ph *dispensing.Pharmacy,
	compiled []*trigger.Compiled, cache *GPCache) (Counts, error) {
	var counts Counts

	recordSince := time.Now().AddDate(0, 0, -o.opts.LookbackDays)
	records, err := o.records.ListRecentRecords(ctx, ph.ID, recordSince)
	if err != nil {
		return counts, fmt.Errorf("load records: %w", err)
	}

	historySince := time.Now().AddDate(0, 0, -o.opts.PatientHistoryDays)
	histories, err := o.records.PatientDrugHistories(ctx, ph.ID, historySince)
	if err != nil {
		return counts, fmt.Errorf("load histories: %w", err)
	}

	o.refreshConditions(ctx, histories, &counts)

	counts.Scanned = len(records)
	var cands []opportunity.Candidate
	for _, rec := range records {
		history := histories[rec.PatientID]
		for _, c := range compiled {
			if !c.Matches(rec, history) {
				continue
			}
			counts.Matched++

			res, outcome := Resolve(c, rec, cache)
			if outcome != OutcomeResolved {
				counts.Skipped++
				continue
			}
			value := Normalize30Day(res.Value, c, res, rec)
			if value < o.opts.MinValue {
				counts.Skipped++
				continue
			}

			cands = append(cands, opportunity.Candidate{
				PharmacyID:      ph.ID,
				PatientID:       rec.PatientID,
				RecordID:        rec.ID,
				TriggerID:       c.Trigger.ID,
				CurrentDrug:     rec.DrugName,
				RecommendedDrug: c.Trigger.RecommendedDrug,
				RecommendedNDC:  res.NDC,
				Value:           value,
				AnnualValue:     value * float64(c.Trigger.AnnualFillsOrDefault()),
			})
		}
	}

	result, err := o.recon.Commit(ctx, ph.ID, opportunity.Dedupe(cands))
	counts.Inserted += result.Inserted
	counts.Updated += result.Updated
	counts.Skipped += result.Skipped
	counts.Errored += result.Errored
	counts.Cleared += result.Cleared
	if err != nil {
		return counts, fmt.Errorf("commit opportunities: %w", err)
	}
	return counts, nil
}

// refreshConditions recomputes each patient's inferred chronic conditions
// from their drug history.
func (o *Orchestrator) refreshConditions(ctx context.Context, histories map[uuid.UUID][]string, counts *Counts) {
	for patientID, drugs := range histories {
		conditions := drug.InferConditions(drugs)
		if len(conditions) == 0 {
			continue
		}
		if err := o.records.UpdatePatientConditions(ctx, patientID, conditions); err != nil {
			counts.Errored++
			o.logger.Warn().Err(err).
				Str("patient_id", patientID.String()).
				Msg("update patient conditions failed")
		}
	}
}
