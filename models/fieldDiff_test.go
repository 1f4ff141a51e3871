package models

import (
	"reflect"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/rental_backend/utils"
	"github.com/shopspring/decimal"
)

func TestSnapshotTreatsNilAndEmptyTheSame(t *testing.T) {
	a := &Asset{AssetCode: "EXC-001", LocationType: LocationTypeWarehouse}
	b := &Asset{
		AssetCode:     "EXC-001",
		LocationType:  LocationTypeWarehouse,
		WarehouseNote: utils.StringPtr("  "),
		RentalCompany: utils.StringPtr(""),
	}
	if !reflect.DeepEqual(a.SnapshotStateFields(), b.SnapshotStateFields()) {
		t.Fatal("nil and blank columns must snapshot identically")
	}
	if changes := DiffFields(a.SnapshotStateFields(), b.SnapshotStateFields()); len(changes) != 0 {
		t.Fatalf("phantom diffs: %v", changes)
	}
}

func TestDiffFieldsIsSortedAndDeterministic(t *testing.T) {
	before := map[string]string{"b": "1", "a": "1", "c": "1"}
	after := map[string]string{"b": "2", "a": "2", "c": "1"}

	want := []FieldChange{
		{Field: "a", OldValue: "1", NewValue: "2"},
		{Field: "b", OldValue: "1", NewValue: "2"},
	}
	for i := 0; i < 50; i++ {
		if got := DiffFields(before, after); !reflect.DeepEqual(got, want) {
			t.Fatalf("run %d: got %v, want %v", i, got, want)
		}
	}
}

func TestApplyUpdatesNormalizesColumnValues(t *testing.T) {
	start := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	rate := decimal.NewFromInt(1500)

	before := (&Asset{AssetCode: "EXC-001", LocationType: LocationTypeWarehouse}).SnapshotStateFields()
	after := ApplyUpdatesToSnapshot(before, map[string]interface{}{
		"location_type":         LocationTypeRented,
		"rental_company":        utils.StringPtr("Malta Rentals Ltd"),
		"rental_start_date":     &start,
		"rental_monthly_rate":   &rate,
		"inspection_start_date": nil,
	})

	if after["location_type"] != "Rented" {
		t.Errorf("location_type = %q", after["location_type"])
	}
	if after["rental_start_date"] != "2024-03-15" {
		t.Errorf("rental dates store date only, got %q", after["rental_start_date"])
	}
	if after["rental_monthly_rate"] != "1500" {
		t.Errorf("rental_monthly_rate = %q", after["rental_monthly_rate"])
	}
	if after["inspection_start_date"] != "" {
		t.Errorf("nil update must normalize to empty, got %q", after["inspection_start_date"])
	}
}

func TestInspectionStartKeepsFullTimestamp(t *testing.T) {
	start := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	before := map[string]string{"inspection_start_date": ""}
	after := ApplyUpdatesToSnapshot(before, map[string]interface{}{
		"inspection_start_date": start,
	})
	if after["inspection_start_date"] != "2024-03-15T09:30:00Z" {
		t.Fatalf("inspection_start_date = %q, want RFC3339", after["inspection_start_date"])
	}
}

func TestTypedNilPointersNormalizeToEmpty(t *testing.T) {
	var s *string
	var d *decimal.Decimal
	var ts *time.Time
	before := map[string]string{
		"rental_company":      "Malta Rentals Ltd",
		"rental_monthly_rate": "1500",
		"rental_start_date":   "2024-03-15",
	}
	after := ApplyUpdatesToSnapshot(before, map[string]interface{}{
		"rental_company":      s,
		"rental_monthly_rate": d,
		"rental_start_date":   ts,
	})
	for column, value := range after {
		if value != "" {
			t.Errorf("%s = %q, want empty", column, value)
		}
	}
}

func TestTransitionRoundTripDiff(t *testing.T) {
	now := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	asset := &Asset{
		AssetCode:     "EXC-001",
		LocationType:  LocationTypeWarehouse,
		WarehouseNote: utils.StringPtr("New arrival"),
	}

	in := &TransitionInput{
		Company:        utils.StringPtr("Malta Rentals Ltd"),
		WorkSite:       utils.StringPtr("Valletta waterfront"),
		ContractNumber: utils.StringPtr("CN-2024-001"),
		StartDate:      &now,
	}
	before := asset.SnapshotStateFields()
	updates := BuildStateUpdates(LocationTypeRented, in, now, asset)
	after := ApplyUpdatesToSnapshot(before, updates)
	changes := DiffFields(before, after)

	got := map[string]FieldChange{}
	for _, change := range changes {
		got[change.Field] = change
	}
	if change, ok := got["location_type"]; !ok || change.OldValue != "Warehouse" || change.NewValue != "Rented" {
		t.Errorf("location_type change = %+v", change)
	}
	if change, ok := got["warehouse_note"]; !ok || change.OldValue != "New arrival" || change.NewValue != "" {
		t.Errorf("warehouse_note change = %+v", change)
	}
	if change, ok := got["rental_company"]; !ok || change.NewValue != "Malta Rentals Ltd" {
		t.Errorf("rental_company change = %+v", change)
	}
	// Untouched empty columns never show up.
	if _, ok := got["maintenance_company"]; ok {
		t.Error("maintenance_company diffed although empty before and after")
	}
}
