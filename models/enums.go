package models

import (
	"encoding/json"
	"errors"
)

// LocationType is the physical-location state of an equipment unit.
// The transition table in statePolicy.go is the single authority on which
// targets are reachable from which states.
type LocationType string

const (
	LocationTypeWarehouse      LocationType = "Warehouse"
	LocationTypeMaintenance    LocationType = "Maintenance"
	LocationTypeRented         LocationType = "Rented"
	LocationTypeAwaitingReport LocationType = "AwaitingReport"
)

var locationTypes = map[string]LocationType{
	"Warehouse":      LocationTypeWarehouse,
	"Maintenance":    LocationTypeMaintenance,
	"Rented":         LocationTypeRented,
	"AwaitingReport": LocationTypeAwaitingReport,
}

func (t LocationType) IsValid() bool {
	_, ok := locationTypes[string(t)]
	return ok
}

// Label is the human wording used on Movement history rows.
func (t LocationType) Label() string {
	switch t {
	case LocationTypeWarehouse:
		return "the warehouse"
	case LocationTypeMaintenance:
		return "maintenance"
	case LocationTypeRented:
		return "rental"
	case LocationTypeAwaitingReport:
		return "awaiting inspection report"
	}
	return string(t)
}

func (t *LocationType) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("location type must be string")
	}
	v, ok := locationTypes[str]
	if !ok {
		return errors.New("invalid location type")
	}
	*t = v
	return nil
}

type HistoryActionType string

const (
	HistoryActionTypeMovement    HistoryActionType = "Movement"
	HistoryActionTypeFieldChange HistoryActionType = "FieldChange"
	HistoryActionTypeReplacement HistoryActionType = "Replacement"
)

var historyActionTypes = map[string]HistoryActionType{
	"Movement":    HistoryActionTypeMovement,
	"FieldChange": HistoryActionTypeFieldChange,
	"Replacement": HistoryActionTypeReplacement,
}

func (t HistoryActionType) IsValid() bool {
	_, ok := historyActionTypes[string(t)]
	return ok
}

func (t *HistoryActionType) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("action type must be string")
	}
	v, ok := historyActionTypes[str]
	if !ok {
		return errors.New("invalid action type")
	}
	*t = v
	return nil
}
