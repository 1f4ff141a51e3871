package models

import (
	"sort"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/rental_backend/utils"
	"github.com/shopspring/decimal"
)

// FieldChange is one changed column on an asset, already stringified the way
// the History Ledger stores it.
type FieldChange struct {
	Field    string
	OldValue string
	NewValue string
}

// SnapshotStateFields captures the normalized string value of location_type
// and every state-owned column. nil and empty string normalize to the same
// "" so transitions never produce phantom diffs.
func (a *Asset) SnapshotStateFields() map[string]string {
	snap := map[string]string{
		"location_type":              string(a.LocationType),
		"warehouse_note":             normalizeString(a.WarehouseNote),
		"maintenance_company":        normalizeString(a.MaintenanceCompany),
		"maintenance_work_site":      normalizeString(a.MaintenanceWorkSite),
		"maintenance_description":    normalizeString(a.MaintenanceDescription),
		"maintenance_contact_phone":  normalizeString(a.MaintenanceContactPhone),
		"maintenance_arrival_date":   utils.FormatDate(a.MaintenanceArrivalDate),
		"maintenance_departure_date": utils.FormatDate(a.MaintenanceDepartureDate),
		"maintenance_responsible":    normalizeString(a.MaintenanceResponsible),
		"rental_company":             normalizeString(a.RentalCompany),
		"rental_work_site":           normalizeString(a.RentalWorkSite),
		"rental_contract_number":     normalizeString(a.RentalContractNumber),
		"rental_start_date":          utils.FormatDate(a.RentalStartDate),
		"rental_end_date":            utils.FormatDate(a.RentalEndDate),
		"rental_responsible":         normalizeString(a.RentalResponsible),
		"rental_contact_phone":       normalizeString(a.RentalContactPhone),
		"rental_monthly_rate":        normalizeDecimal(a.RentalMonthlyRate),
		"inspection_start_date":      normalizeTimestamp(a.InspectionStartDate),
		"inspection_note":            normalizeString(a.InspectionNote),
	}
	return snap
}

// ApplyUpdatesToSnapshot projects a column update set onto a snapshot,
// producing the post-write view without a re-read.
func ApplyUpdatesToSnapshot(before map[string]string, updates map[string]interface{}) map[string]string {
	after := make(map[string]string, len(before))
	for column, value := range before {
		after[column] = value
	}
	for column, value := range updates {
		after[column] = normalizeColumnValue(column, value)
	}
	return after
}

// DiffFields enumerates changed columns in deterministic (sorted) order.
func DiffFields(before, after map[string]string) []FieldChange {
	columns := make([]string, 0, len(after))
	for column := range after {
		columns = append(columns, column)
	}
	sort.Strings(columns)

	var changes []FieldChange
	for _, column := range columns {
		if before[column] == after[column] {
			continue
		}
		changes = append(changes, FieldChange{
			Field:    column,
			OldValue: before[column],
			NewValue: after[column],
		})
	}
	return changes
}

func normalizeString(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func normalizeDecimal(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}

func normalizeTimestamp(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func normalizeColumnValue(column string, value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case LocationType:
		return string(v)
	case string:
		return strings.TrimSpace(v)
	case *string:
		return normalizeString(v)
	case *decimal.Decimal:
		return normalizeDecimal(v)
	case decimal.Decimal:
		return v.String()
	case time.Time:
		if column == "inspection_start_date" {
			return v.UTC().Format(time.RFC3339)
		}
		return v.Format("2006-01-02")
	case *time.Time:
		if v == nil {
			return ""
		}
		if column == "inspection_start_date" {
			return v.UTC().Format(time.RFC3339)
		}
		return v.Format("2006-01-02")
	}
	return ""
}
