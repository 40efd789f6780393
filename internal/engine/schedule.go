package engine

import (
	"context"
	"time"

	"github.com/adhocore/gronx"
	"github.com/kodapet/koda/internal/logging"
	"github.com/kodapet/koda/internal/model"
	"github.com/m-mizutani/goerr/v2"
)

// Prune deletes the pet's fragments that are both older than maxAgeDays and
// less important than minImportance. It returns how many were removed.
func (e *Engine) Prune(ctx context.Context, petID string, maxAgeDays int, minImportance float64) (int, error) {
	all, err := e.store.ListFragments(ctx, petID, time.Time{}, time.Time{})
	if err != nil {
		return 0, goerr.Wrap(err, "list fragments to prune", goerr.V("pet_id", petID))
	}
	kept := e.Maintainer.Prune(all, maxAgeDays, minImportance)
	if len(kept) == len(all) {
		return 0, nil
	}

	keep := make(map[string]bool, len(kept))
	for _, f := range kept {
		keep[f.ID] = true
	}
	removed := 0
	for _, f := range all {
		if keep[f.ID] {
			continue
		}
		ok, err := e.store.DeleteFragment(ctx, f.ID)
		if err != nil {
			return removed, goerr.Wrap(err, "prune fragment", goerr.V("id", f.ID))
		}
		if ok {
			removed++
		}
	}
	logging.From(ctx).Info("pruned fragments", "pet_id", petID, "removed", removed, "kept", len(kept))
	return removed, nil
}

// Dedup collapses near-identical fragments of a pet into the most important
// one. References to a dropped fragment are redirected to its survivor.
// It returns how many fragments were removed.
func (e *Engine) Dedup(ctx context.Context, petID string) (int, error) {
	all, err := e.store.ListFragments(ctx, petID, time.Time{}, time.Time{})
	if err != nil {
		return 0, goerr.Wrap(err, "list fragments to dedup", goerr.V("pet_id", petID))
	}
	groups := e.Maintainer.Duplicates(all)
	if len(groups) == 0 {
		return 0, nil
	}
	log := logging.From(ctx).With("pet_id", petID)

	survivor := make(map[string]string)
	merged := make(map[string][]string, len(groups))
	for _, g := range groups {
		merged[g.Keep.ID] = g.Keep.References
		for _, d := range g.Drop {
			survivor[d.ID] = g.Keep.ID
		}
	}

	// Rewrite references before deleting so no link is lost. Survivors start
	// from their merged lists, not the stale stored ones.
	for _, f := range all {
		if _, dropped := survivor[f.ID]; dropped {
			continue
		}
		keepRefs, isKeep := merged[f.ID]
		if isKeep {
			f.References = keepRefs
		}
		if len(f.References) == 0 && !isKeep {
			continue
		}
		refs, changed := redirect(f, survivor)
		if !changed && !isKeep {
			continue
		}
		if err := e.store.UpdateReferences(ctx, f.ID, refs); err != nil {
			return 0, goerr.Wrap(err, "redirect references", goerr.V("id", f.ID))
		}
	}

	removed := 0
	for _, g := range groups {
		for _, d := range g.Drop {
			ok, err := e.store.DeleteFragment(ctx, d.ID)
			if err != nil {
				return removed, goerr.Wrap(err, "delete duplicate", goerr.V("id", d.ID))
			}
			if ok {
				removed++
				log.Info("removed duplicate fragment", "id", d.ID, "kept", g.Keep.ID)
			}
		}
	}
	return removed, nil
}

// redirect maps references to dropped fragments onto their survivors,
// skipping self references and duplicates.
func redirect(f model.Fragment, survivor map[string]string) ([]string, bool) {
	changed := false
	out := make([]string, 0, len(f.References))
	for _, r := range f.References {
		if s, ok := survivor[r]; ok {
			r = s
			changed = true
		}
		if r == f.ID || containsString(out, r) {
			changed = true
			continue
		}
		out = append(out, r)
	}
	return out, changed
}

// MaintenanceReport counts what one maintenance run changed.
type MaintenanceReport struct {
	Pets    int `json:"pets"`
	Pruned  int `json:"pruned"`
	Deduped int `json:"deduped"`
}

// RunMaintenance prunes with the configured thresholds and then dedups,
// for every pet. A failure on one pet is logged and does not stop the rest.
func (e *Engine) RunMaintenance(ctx context.Context) (MaintenanceReport, error) {
	var report MaintenanceReport
	pets, err := e.store.PetIDs(ctx)
	if err != nil {
		return report, goerr.Wrap(err, "list pets")
	}
	log := logging.From(ctx)

	for _, pet := range pets {
		report.Pets++
		pruned, err := e.Prune(ctx, pet, e.opts.PruneMaxAgeDays, e.opts.PruneMinImportance)
		if err != nil {
			log.Error("maintenance prune failed", "pet_id", pet, "error", err)
			continue
		}
		report.Pruned += pruned

		deduped, err := e.Dedup(ctx, pet)
		if err != nil {
			log.Error("maintenance dedup failed", "pet_id", pet, "error", err)
			continue
		}
		report.Deduped += deduped
	}
	return report, nil
}

// StartMaintenance runs maintenance once, then on every tick of the cron
// expression schedule until Stop is called.
func (e *Engine) StartMaintenance(ctx context.Context, schedule string) error {
	if !gronx.New().IsValid(schedule) {
		return goerr.New("invalid maintenance schedule", goerr.V("schedule", schedule))
	}
	log := logging.From(ctx)

	e.maintain(ctx)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for {
			next, err := gronx.NextTickAfter(schedule, time.Now(), false)
			if err != nil {
				log.Error("maintenance schedule failed", "schedule", schedule, "error", err)
				return
			}
			timer := time.NewTimer(time.Until(next))
			select {
			case <-timer.C:
				e.maintain(ctx)
			case <-e.stopCh:
				timer.Stop()
				return
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}()
	return nil
}

func (e *Engine) maintain(ctx context.Context) {
	log := logging.From(ctx)
	report, err := e.RunMaintenance(ctx)
	if err != nil {
		log.Error("maintenance failed", "error", err)
		return
	}
	if report.Pruned > 0 || report.Deduped > 0 {
		log.Info("maintenance complete", "pets", report.Pets, "pruned", report.Pruned, "deduped", report.Deduped)
	}
}

// Stop shuts down the maintenance loop and waits for it to exit. It is safe
// to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}
