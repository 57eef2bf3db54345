// Package skuregistry is the SKU Compatibility Registry: a process-scoped,
// mostly-read snapshot of the directory-SKU <-> commerce-SKU mapping, the
// per-SKU service matrix, and addon compatibility rules. The active
// snapshot is swapped atomically on Reload, so a lookup never observes a
// half-built mapping; each lookup reads whichever snapshot is current when
// it is made.
package skuregistry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/savegress/optimizer/backend/internal/models"
)

var (
	// ErrUnknownSku is returned when a lookup names a directory or
	// commerce SKU the registry has no record of.
	ErrUnknownSku = errors.New("skuregistry: unknown sku")
	// ErrNoCoveringSku names the case where no non-addon SKU in the
	// matrix covers a requested set of required services. No function in
	// this package returns it: CheapestCovering reports that case with a
	// false second result.
	ErrNoCoveringSku = errors.New("skuregistry: no sku covers required services")
)

type skuStore interface {
	ListServiceMatrix(ctx context.Context) ([]models.SkuServiceMatrix, error)
	ListAddonCompatibility(ctx context.Context) ([]models.AddonCompatibility, error)
}

// registrySnapshot is the immutable data the registry serves between
// reloads. Replacing the *registrySnapshot pointer is the only mutation;
// the struct itself is never modified after construction.
type registrySnapshot struct {
	byDirectorySku map[string]models.SkuServiceMatrix
	byCommerceSku  map[string]models.SkuServiceMatrix
	nonAddon       []models.SkuServiceMatrix
	addons         map[string][]models.AddonCompatibility // keyed by addon_sku_id
}

// Registry is the in-memory SKU Compatibility Registry. The zero value is
// not usable; construct with New.
type Registry struct {
	store    skuStore
	snapshot atomic.Pointer[registrySnapshot]
}

func New(store skuStore) *Registry {
	return &Registry{store: store}
}

// Load populates the registry for the first time. Call once at boot.
func (r *Registry) Load(ctx context.Context) error {
	return r.Reload(ctx)
}

// Reload re-reads the service matrix and addon compatibility rules from
// the data store and atomically swaps the active snapshot. In-flight
// readers keep using the snapshot they already captured.
func (r *Registry) Reload(ctx context.Context) error {
	matrix, err := r.store.ListServiceMatrix(ctx)
	if err != nil {
		return fmt.Errorf("load sku service matrix: %w", err)
	}
	addons, err := r.store.ListAddonCompatibility(ctx)
	if err != nil {
		return fmt.Errorf("load addon compatibility: %w", err)
	}

	snap := &registrySnapshot{
		byDirectorySku: make(map[string]models.SkuServiceMatrix, len(matrix)),
		byCommerceSku:  make(map[string]models.SkuServiceMatrix, len(matrix)),
		nonAddon:       make([]models.SkuServiceMatrix, 0, len(matrix)),
		addons:         make(map[string][]models.AddonCompatibility),
	}
	for _, m := range matrix {
		snap.byDirectorySku[m.DirectorySkuID] = m
		if m.CommerceSkuID != "" {
			snap.byCommerceSku[m.CommerceSkuID] = m
		}
		if !m.IsAddon {
			snap.nonAddon = append(snap.nonAddon, m)
		}
	}
	for _, a := range addons {
		snap.addons[a.AddonSkuID] = append(snap.addons[a.AddonSkuID], a)
	}

	r.snapshot.Store(snap)
	return nil
}

func (r *Registry) current() *registrySnapshot {
	snap := r.snapshot.Load()
	if snap == nil {
		return &registrySnapshot{}
	}
	return snap
}

// ByDirectorySku returns the service matrix entry for a directory SKU id.
func (r *Registry) ByDirectorySku(directorySkuID string) (models.SkuServiceMatrix, error) {
	m, ok := r.current().byDirectorySku[directorySkuID]
	if !ok {
		return models.SkuServiceMatrix{}, ErrUnknownSku
	}
	return m, nil
}

// ByCommerceSku returns the service matrix entry mapped to a commerce SKU
// id. The mapping is bidirectional: this is the inverse of ByDirectorySku.
func (r *Registry) ByCommerceSku(commerceSkuID string) (models.SkuServiceMatrix, error) {
	m, ok := r.current().byCommerceSku[commerceSkuID]
	if !ok {
		return models.SkuServiceMatrix{}, ErrUnknownSku
	}
	return m, nil
}

// Covers reports whether a SKU's service set is a superset of required.
func Covers(m models.SkuServiceMatrix, required []string) bool {
	provided := make(map[string]bool, len(m.Services))
	for _, s := range m.Services {
		provided[s] = true
	}
	for _, req := range required {
		if !provided[req] {
			return false
		}
	}
	return true
}

// CheapestCovering returns the cheapest non-addon SKU that covers every
// required service, by the caller-supplied priced map (directory SKU id to
// unit price), with a deterministic lexicographic-by-directory-SKU-id tie
// break. SKUs absent from priced are not considered. The second result is
// false when no priced SKU covers required.
func (r *Registry) CheapestCovering(required []string, priced map[string]int64) (models.SkuServiceMatrix, bool) {
	candidates := make([]models.SkuServiceMatrix, 0)
	for _, m := range r.current().nonAddon {
		if _, ok := priced[m.DirectorySkuID]; !ok {
			continue
		}
		if Covers(m, required) {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return models.SkuServiceMatrix{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		pi, pj := priced[candidates[i].DirectorySkuID], priced[candidates[j].DirectorySkuID]
		if pi != pj {
			return pi < pj
		}
		return candidates[i].DirectorySkuID < candidates[j].DirectorySkuID
	})
	return candidates[0], true
}

// NonAddonSkus returns every non-addon SKU in the current snapshot, for
// callers that need to price each candidate themselves before ranking.
func (r *Registry) NonAddonSkus() []models.SkuServiceMatrix {
	src := r.current().nonAddon
	out := make([]models.SkuServiceMatrix, len(src))
	copy(out, src)
	return out
}

// ValidationReport is the per-item result of validating an addon
// attachment. Valid is the overall verdict; the other
// fields let a caller explain exactly which check failed.
type ValidationReport struct {
	AddonSkuID       string   `json:"addon_sku_id"`
	BaseSkuID        string   `json:"base_sku_id"`
	Quantity         int      `json:"quantity"`
	Compatible       bool     `json:"compatible"`
	QuantityValid    bool     `json:"quantity_valid"`
	WithinWindow     bool     `json:"within_window"`
	PrerequisitesMet bool     `json:"prerequisites_met"`
	NoConflict       bool     `json:"no_conflict"`
	Valid            bool     `json:"valid"`
	Reasons          []string `json:"reasons,omitempty"`
}

// ValidateAddon runs every compatibility check for one base/addon pair.
// When a rule exists for the pair, every facet is evaluated so the caller
// gets a complete report even when an earlier check already fails. When
// no rule exists, the report is returned at once with Compatible,
// QuantityValid, WithinWindow and Valid false.
func (r *Registry) ValidateAddon(baseSkuID, addonSkuID string, quantity int, asOf time.Time, existingAddons []string) ValidationReport {
	report := ValidationReport{AddonSkuID: addonSkuID, BaseSkuID: baseSkuID, Quantity: quantity}

	rule, ok := r.findAddonRule(baseSkuID, addonSkuID, asOf)
	report.Compatible = ok
	if !ok {
		report.Reasons = append(report.Reasons, "no active compatibility rule for this base/addon pair")
		report.QuantityValid = false
		report.WithinWindow = false
		report.PrerequisitesMet = quantity >= 0 // nothing further to check meaningfully
		report.NoConflict = true
		return report
	}

	report.QuantityValid = quantity >= rule.MinQuantity && quantity <= rule.MaxQuantity &&
		(rule.Multiplier <= 1 || quantity%rule.Multiplier == 0)
	if !report.QuantityValid {
		report.Reasons = append(report.Reasons, fmt.Sprintf("quantity %d out of bounds [%d,%d] multiplier %d", quantity, rule.MinQuantity, rule.MaxQuantity, rule.Multiplier))
	}

	report.WithinWindow = rule.Active && !asOf.Before(rule.EffectiveFrom) && (rule.EffectiveTo == nil || !asOf.After(*rule.EffectiveTo))
	if !report.WithinWindow {
		report.Reasons = append(report.Reasons, "outside effective date window")
	}

	present := make(map[string]bool, len(existingAddons))
	for _, a := range existingAddons {
		present[a] = true
	}

	report.PrerequisitesMet = true
	for _, prereq := range rule.Prerequisites {
		if !present[prereq] {
			report.PrerequisitesMet = false
			report.Reasons = append(report.Reasons, fmt.Sprintf("missing prerequisite addon %s", prereq))
		}
	}

	report.NoConflict = true
	for _, existing := range existingAddons {
		if existing == addonSkuID {
			continue
		}
		if existingRule, ok := r.findAddonRule(baseSkuID, existing, asOf); ok && existingRule.Category == rule.Category {
			report.NoConflict = false
			report.Reasons = append(report.Reasons, fmt.Sprintf("conflicts with already-present addon %s in category %s", existing, rule.Category))
		}
	}

	report.Valid = report.Compatible && report.QuantityValid && report.WithinWindow && report.PrerequisitesMet && report.NoConflict
	return report
}

// ValidateAddons runs ValidateAddon for a batch without short-circuiting
// on the first failure, so bulk callers get per-item results.
type AddonValidationRequest struct {
	BaseSkuID      string
	AddonSkuID     string
	Quantity       int
	ExistingAddons []string
}

func (r *Registry) ValidateAddons(reqs []AddonValidationRequest, asOf time.Time) []ValidationReport {
	reports := make([]ValidationReport, len(reqs))
	for i, req := range reqs {
		reports[i] = r.ValidateAddon(req.BaseSkuID, req.AddonSkuID, req.Quantity, asOf, req.ExistingAddons)
	}
	return reports
}

// findAddonRule returns the compatibility rule declaring addonSkuID valid
// on baseSkuID, active, and with its window covering asOf if one exists;
// otherwise it falls back to any rule for the pair (active or not, in or
// out of window) so the caller can still report which facet failed. The
// second return reports whether a rule for the pair exists at all
// (Compatible), independent of whether it matched on asOf/Active.
func (r *Registry) findAddonRule(baseSkuID, addonSkuID string, asOf time.Time) (models.AddonCompatibility, bool) {
	var fallback models.AddonCompatibility
	haveFallback := false
	for _, rule := range r.current().addons[addonSkuID] {
		if rule.BaseSkuID != baseSkuID {
			continue
		}
		if !haveFallback {
			fallback = rule
			haveFallback = true
		}
		withinWindow := !asOf.Before(rule.EffectiveFrom) && (rule.EffectiveTo == nil || !asOf.After(*rule.EffectiveTo))
		if rule.Active && withinWindow {
			return rule, true
		}
	}
	return fallback, haveFallback
}
