package models

import (
	"fmt"
	"sort"
)

// Field-Set Policy: single source of truth for which columns belong to which
// state, which payload fields a target state requires, and which transitions
// are reachable. The Movement Engine and the Replacement Chain both consume
// these tables; nulling of foreign-state columns never happens anywhere else.

// stateColumns maps each location state to the asset columns owned by it.
// A persisted asset row may only populate the columns of its current state
// (field isolation invariant).
var stateColumns = map[LocationType][]string{
	LocationTypeWarehouse: {
		"warehouse_note",
	},
	LocationTypeMaintenance: {
		"maintenance_company",
		"maintenance_work_site",
		"maintenance_description",
		"maintenance_contact_phone",
		"maintenance_arrival_date",
		"maintenance_departure_date",
		"maintenance_responsible",
	},
	LocationTypeRented: {
		"rental_company",
		"rental_work_site",
		"rental_contract_number",
		"rental_start_date",
		"rental_end_date",
		"rental_responsible",
		"rental_contact_phone",
		"rental_monthly_rate",
	},
	LocationTypeAwaitingReport: {
		"inspection_start_date",
		"inspection_note",
	},
}

// requiredFields lists the payload fields a transition into the state must
// carry. Warehouse and AwaitingReport only take an optional note.
var requiredFields = map[LocationType][]string{
	LocationTypeWarehouse:      {},
	LocationTypeMaintenance:    {"company", "work_site", "description", "arrival_date"},
	LocationTypeRented:         {"company", "work_site", "contract_number", "start_date"},
	LocationTypeAwaitingReport: {},
}

// allowedTargets is the transition table. AwaitingReport has no row on
// purpose: only the two inspection-gate decisions may exit it.
var allowedTargets = map[LocationType][]LocationType{
	LocationTypeWarehouse:   {LocationTypeWarehouse, LocationTypeMaintenance, LocationTypeRented, LocationTypeAwaitingReport},
	LocationTypeMaintenance: {LocationTypeWarehouse, LocationTypeMaintenance, LocationTypeRented, LocationTypeAwaitingReport},
	LocationTypeRented:      {LocationTypeWarehouse, LocationTypeMaintenance, LocationTypeRented, LocationTypeAwaitingReport},
}

func StateColumns(state LocationType) []string {
	return stateColumns[state]
}

func RequiredFields(target LocationType) []string {
	return requiredFields[target]
}

// ClearedColumns returns every column owned by a state other than target,
// sorted for deterministic update/diff ordering.
func ClearedColumns(target LocationType) []string {
	var cleared []string
	for state, columns := range stateColumns {
		if state == target {
			continue
		}
		cleared = append(cleared, columns...)
	}
	sort.Strings(cleared)
	return cleared
}

// AllStateColumns returns the union of every state group, sorted.
func AllStateColumns() []string {
	var all []string
	for _, columns := range stateColumns {
		all = append(all, columns...)
	}
	sort.Strings(all)
	return all
}

func CanTransition(current, target LocationType) bool {
	for _, allowed := range allowedTargets[current] {
		if allowed == target {
			return true
		}
	}
	return false
}

func AllowedTargets(current LocationType) []LocationType {
	return allowedTargets[current]
}

// CheckOutgoingReplaceable rejects re-replacement of an already-replaced
// asset. The link is set exactly once per outgoing asset.
func CheckOutgoingReplaceable(a *Asset) error {
	if a.ReplacedById != nil {
		return ErrAlreadyReplaced
	}
	return nil
}

// CheckIncomingEligible covers the state-local eligibility rules for a
// substitute asset. The reverse-link (already a replacement target) check
// needs a query and lives in the workflow package.
func CheckIncomingEligible(a *Asset) error {
	if a.IsActive != nil && !*a.IsActive {
		return fmt.Errorf("%w: asset %s is inactive", ErrIncomingNotEligible, a.AssetCode)
	}
	switch a.LocationType {
	case LocationTypeRented:
		return fmt.Errorf("%w: asset %s is already rented", ErrIncomingNotEligible, a.AssetCode)
	case LocationTypeAwaitingReport:
		return fmt.Errorf("%w: asset %s is awaiting an inspection report", ErrIncomingNotEligible, a.AssetCode)
	}
	return nil
}

// CheckReplacementDestination restricts where an outgoing asset may be
// routed: one of the non-operational states, never straight back to Rented.
func CheckReplacementDestination(destination LocationType) error {
	switch destination {
	case LocationTypeWarehouse, LocationTypeMaintenance, LocationTypeAwaitingReport:
		return nil
	}
	return ErrInvalidDestination
}
