package models

import (
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/rental_backend/utils"
	"github.com/shopspring/decimal"
)

// TransitionInput is the state-specific payload of a movement request.
// Which fields matter depends on the target state; RequiredFields() in the
// policy names the mandatory ones.
type TransitionInput struct {
	Company        *string          `json:"company"`
	WorkSite       *string          `json:"work_site"`
	ContractNumber *string          `json:"contract_number"`
	Description    *string          `json:"description"`
	Note           *string          `json:"note"`
	Responsible    *string          `json:"responsible"`
	ContactPhone   *string          `json:"contact_phone"`
	StartDate      *time.Time       `json:"start_date"`
	EndDate        *time.Time       `json:"end_date"`
	ArrivalDate    *time.Time       `json:"arrival_date"`
	DepartureDate  *time.Time       `json:"departure_date"`
	MonthlyRate    *decimal.Decimal `json:"monthly_rate"`
}

func (in *TransitionInput) fieldPresent(field string) bool {
	switch field {
	case "company":
		return !utils.IsBlank(in.Company)
	case "work_site":
		return !utils.IsBlank(in.WorkSite)
	case "contract_number":
		return !utils.IsBlank(in.ContractNumber)
	case "description":
		return !utils.IsBlank(in.Description)
	case "start_date":
		return in.StartDate != nil
	case "arrival_date":
		return in.ArrivalDate != nil
	}
	return false
}

// Validate checks the policy's required-field list for the target state and
// normalizes the contact phone. Returns a RequiredFieldError naming the
// first missing field.
func (in *TransitionInput) Validate(target LocationType) error {
	if !target.IsValid() {
		return errors.New("invalid location type")
	}
	for _, field := range RequiredFields(target) {
		if !in.fieldPresent(field) {
			return &RequiredFieldError{Field: field}
		}
	}
	if !utils.IsBlank(in.ContactPhone) {
		formatted, err := utils.FormatPhoneNumber(*in.ContactPhone, utils.CountryCode)
		if err != nil {
			return errors.New("contact_phone is not a valid phone number")
		}
		in.ContactPhone = &formatted
	}
	return nil
}

// noteOrDescription: Warehouse and AwaitingReport only carry a free-text
// note; callers may send it in either field.
func (in *TransitionInput) noteOrDescription() *string {
	if !utils.IsBlank(in.Note) {
		return in.Note
	}
	if !utils.IsBlank(in.Description) {
		return in.Description
	}
	return nil
}

// BuildStateUpdates produces the full column update set for a transition:
// every target-state column assigned from the payload, every foreign-state
// column nulled, location_type switched, and the inspection start stamped on
// entry into AwaitingReport. This is the only place asset state columns are
// written.
func BuildStateUpdates(target LocationType, in *TransitionInput, now time.Time, current *Asset) map[string]interface{} {
	updates := map[string]interface{}{
		"location_type": target,
	}
	for _, column := range ClearedColumns(target) {
		updates[column] = nil
	}

	switch target {
	case LocationTypeWarehouse:
		updates["warehouse_note"] = in.noteOrDescription()
	case LocationTypeMaintenance:
		updates["maintenance_company"] = in.Company
		updates["maintenance_work_site"] = in.WorkSite
		updates["maintenance_description"] = in.Description
		updates["maintenance_contact_phone"] = in.ContactPhone
		updates["maintenance_arrival_date"] = in.ArrivalDate
		updates["maintenance_departure_date"] = in.DepartureDate
		updates["maintenance_responsible"] = in.Responsible
	case LocationTypeRented:
		updates["rental_company"] = in.Company
		updates["rental_work_site"] = in.WorkSite
		updates["rental_contract_number"] = in.ContractNumber
		updates["rental_start_date"] = in.StartDate
		updates["rental_end_date"] = in.EndDate
		updates["rental_responsible"] = in.Responsible
		updates["rental_contact_phone"] = in.ContactPhone
		updates["rental_monthly_rate"] = in.MonthlyRate
	case LocationTypeAwaitingReport:
		start := now
		if current != nil && current.LocationType == LocationTypeAwaitingReport && current.InspectionStartDate != nil {
			start = *current.InspectionStartDate
		}
		updates["inspection_start_date"] = start
		updates["inspection_note"] = in.noteOrDescription()
	}
	return updates
}
