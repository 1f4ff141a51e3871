package models

import (
	"errors"
	"testing"
)

var allLocationTypes = []LocationType{
	LocationTypeWarehouse,
	LocationTypeMaintenance,
	LocationTypeRented,
	LocationTypeAwaitingReport,
}

func TestEveryStateColumnBelongsToExactlyOneState(t *testing.T) {
	owner := map[string]LocationType{}
	for _, state := range allLocationTypes {
		for _, column := range StateColumns(state) {
			if prev, ok := owner[column]; ok {
				t.Fatalf("column %s owned by both %s and %s", column, prev, state)
			}
			owner[column] = state
		}
	}
	if got, want := len(owner), len(AllStateColumns()); got != want {
		t.Fatalf("state groups cover %d columns, AllStateColumns reports %d", got, want)
	}
}

func TestClearedColumnsAreTheForeignColumns(t *testing.T) {
	for _, state := range allLocationTypes {
		owned := map[string]bool{}
		for _, column := range StateColumns(state) {
			owned[column] = true
		}
		cleared := ClearedColumns(state)
		for _, column := range cleared {
			if owned[column] {
				t.Errorf("%s: cleared set contains owned column %s", state, column)
			}
		}
		if got, want := len(cleared)+len(StateColumns(state)), len(AllStateColumns()); got != want {
			t.Errorf("%s: cleared+owned = %d columns, want %d", state, got, want)
		}
	}
}

func TestAwaitingReportHasNoExitTransition(t *testing.T) {
	if targets := AllowedTargets(LocationTypeAwaitingReport); len(targets) != 0 {
		t.Fatalf("AwaitingReport must have no direct exits, got %v", targets)
	}
	for _, target := range allLocationTypes {
		if CanTransition(LocationTypeAwaitingReport, target) {
			t.Errorf("CanTransition(AwaitingReport, %s) = true, want false", target)
		}
	}
}

func TestOperationalStatesReachEveryTarget(t *testing.T) {
	operational := []LocationType{LocationTypeWarehouse, LocationTypeMaintenance, LocationTypeRented}
	for _, current := range operational {
		for _, target := range allLocationTypes {
			if !CanTransition(current, target) {
				t.Errorf("CanTransition(%s, %s) = false, want true", current, target)
			}
		}
	}
}

func TestCheckOutgoingReplaceable(t *testing.T) {
	link := 7
	if err := CheckOutgoingReplaceable(&Asset{AssetCode: "EXC-001"}); err != nil {
		t.Fatalf("unlinked asset: %v", err)
	}
	err := CheckOutgoingReplaceable(&Asset{AssetCode: "EXC-001", ReplacedById: &link})
	if !errors.Is(err, ErrAlreadyReplaced) {
		t.Fatalf("linked asset: got %v, want ErrAlreadyReplaced", err)
	}
}

func TestCheckIncomingEligible(t *testing.T) {
	inactive := false
	active := true

	cases := []struct {
		name  string
		asset Asset
		ok    bool
	}{
		{"active warehouse unit", Asset{AssetCode: "A", LocationType: LocationTypeWarehouse, IsActive: &active}, true},
		{"active maintenance unit", Asset{AssetCode: "B", LocationType: LocationTypeMaintenance, IsActive: &active}, true},
		{"inactive unit", Asset{AssetCode: "C", LocationType: LocationTypeWarehouse, IsActive: &inactive}, false},
		{"rented unit", Asset{AssetCode: "D", LocationType: LocationTypeRented, IsActive: &active}, false},
		{"unit awaiting report", Asset{AssetCode: "E", LocationType: LocationTypeAwaitingReport, IsActive: &active}, false},
	}
	for _, tc := range cases {
		err := CheckIncomingEligible(&tc.asset)
		if tc.ok && err != nil {
			t.Errorf("%s: got %v, want nil", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrIncomingNotEligible) {
			t.Errorf("%s: got %v, want ErrIncomingNotEligible", tc.name, err)
		}
	}
}

func TestCheckReplacementDestination(t *testing.T) {
	for _, destination := range []LocationType{LocationTypeWarehouse, LocationTypeMaintenance, LocationTypeAwaitingReport} {
		if err := CheckReplacementDestination(destination); err != nil {
			t.Errorf("%s: got %v, want nil", destination, err)
		}
	}
	if err := CheckReplacementDestination(LocationTypeRented); !errors.Is(err, ErrInvalidDestination) {
		t.Errorf("Rented: got %v, want ErrInvalidDestination", err)
	}
	if err := CheckReplacementDestination(LocationType("Scrapyard")); !errors.Is(err, ErrInvalidDestination) {
		t.Errorf("unknown state: got %v, want ErrInvalidDestination", err)
	}
}
