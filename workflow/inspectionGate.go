package workflow

import (
	"context"
	"strings"

	"bitbucket.org/mmdatafocus/rental_backend/models"
)

// Post-Inspection Gate: the only way out of AwaitingReport. Entry is
// automatic (any transition into AwaitingReport); exit requires exactly one
// of the two decisions below. Everything else is rejected with
// ErrAwaitingInspectionDecision by the Movement Engine.

const MinReplacementReasonLen = 10

// ApproveInspection records the approve-in-place decision: the unit is
// certified fit and re-enters rotation, by default back into the warehouse.
// The decision notes land on the Movement summary row.
func ApproveInspection(ctx context.Context, assetId int, destination models.LocationType, input *models.TransitionInput, decisionNote string) (*models.Asset, error) {
	if destination == "" {
		destination = models.LocationTypeWarehouse
	}
	if !destination.IsValid() || destination == models.LocationTypeAwaitingReport {
		return nil, models.ErrInvalidDestination
	}

	note := "Inspection approved in place."
	if strings.TrimSpace(decisionNote) != "" {
		note = "Inspection approved in place: " + strings.TrimSpace(decisionNote)
	}
	return applyTransition(ctx, assetId, destination, input, true, note)
}

// ReplaceAfterInspection records the replace decision: the unit currently
// awaiting its report is the outgoing asset of a substitution.
func ReplaceAfterInspection(ctx context.Context, outgoingId int, incomingId int, reason string, destinationForOutgoing models.LocationType, outgoingInput *models.TransitionInput) (*models.Asset, *models.Asset, error) {
	if len(strings.TrimSpace(reason)) < MinReplacementReasonLen {
		return nil, nil, models.ErrReasonTooShort
	}
	return replaceAsset(ctx, outgoingId, incomingId, reason, destinationForOutgoing, outgoingInput, true)
}
