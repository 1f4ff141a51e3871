package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/rental_backend/config"
	"bitbucket.org/mmdatafocus/rental_backend/models"
	"bitbucket.org/mmdatafocus/rental_backend/utils"
	"github.com/bsm/redislock"
	"gorm.io/gorm"
)

// ReplaceAsset runs the substitution chain: the incoming unit takes over the
// vacated company/work-site role and moves to Rented, the outgoing unit is
// routed to a non-operational destination, and a directed link
// (outgoing.replaced_by_id -> incoming) is recorded exactly once. The whole
// chain is one database transaction.
//
// outgoingInput is optional; it supplies the destination payload when the
// outgoing unit is routed to Maintenance (which has required fields).
func ReplaceAsset(ctx context.Context, outgoingId int, incomingId int, reason string, destinationForOutgoing models.LocationType, outgoingInput *models.TransitionInput) (*models.Asset, *models.Asset, error) {
	if len(strings.TrimSpace(reason)) < MinReplacementReasonLen {
		return nil, nil, models.ErrReasonTooShort
	}
	return replaceAsset(ctx, outgoingId, incomingId, reason, destinationForOutgoing, outgoingInput, false)
}

func replaceAsset(ctx context.Context, outgoingId int, incomingId int, reason string, destination models.LocationType, outgoingInput *models.TransitionInput, viaGate bool) (*models.Asset, *models.Asset, error) {

	if _, ok := utils.GetUserIdFromContext(ctx); !ok {
		return nil, nil, models.ErrActorRequired
	}
	if outgoingId == incomingId {
		return nil, nil, errors.New("an asset cannot replace itself")
	}
	if err := models.CheckReplacementDestination(destination); err != nil {
		return nil, nil, err
	}
	if outgoingInput == nil {
		outgoingInput = &models.TransitionInput{Note: &reason}
	}
	// the outgoing leg honors the destination's required-field list like any
	// other movement
	if err := outgoingInput.Validate(destination); err != nil {
		return nil, nil, err
	}

	// Best-effort outer lock. Correctness never depends on redis: the MySQL
	// advisory lock + row locks inside the transaction are the authority.
	if config.MovementRedisLock() {
		if locker := config.GetRedisLock(); locker != nil {
			lock, err := locker.Obtain(ctx, fmt.Sprintf("replace:%d", outgoingId), 30*time.Second, nil)
			switch {
			case err == nil:
				defer lock.Release(context.Background())
			case errors.Is(err, redislock.ErrNotObtained):
				return nil, nil, errors.New("replacement already in progress for this asset")
			default:
				config.LogError(config.GetLogger(), "workflow", "replaceAsset", "redislock", outgoingId, err)
			}
		}
	}

	db := config.GetDB()
	var outgoing, incoming models.Asset
	var outChanges, inChanges []models.FieldChange
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {

		if err := AcquireReplacementLock(tx, outgoingId, incomingId); err != nil {
			return err
		}
		defer ReleaseReplacementLock(tx, outgoingId, incomingId)

		// lock both rows in id order to avoid lock-order deadlocks
		ids := []int{outgoingId, incomingId}
		sort.Ints(ids)
		locked := make(map[int]*models.Asset, 2)
		for _, id := range ids {
			asset, err := lockAsset(tx, id)
			if err != nil {
				return fmt.Errorf("asset %d: %w", id, err)
			}
			locked[id] = asset
		}
		out := locked[outgoingId]
		in := locked[incomingId]

		if viaGate {
			if out.LocationType != models.LocationTypeAwaitingReport {
				return models.ErrNotAwaitingReport
			}
		} else if out.LocationType == models.LocationTypeAwaitingReport {
			return models.ErrAwaitingInspectionDecision
		}
		if err := models.CheckOutgoingReplaceable(out); err != nil {
			return err
		}
		if err := models.CheckIncomingEligible(in); err != nil {
			return err
		}
		// reverse-link check: a unit may stand in for at most one other unit
		var count int64
		if err := tx.Model(&models.Asset{}).Where("replaced_by_id = ?", in.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: asset %s already substitutes another unit", models.ErrIncomingNotEligible, in.AssetCode)
		}

		incomingInput, err := rentalContextFromOutgoing(tx, out)
		if err != nil {
			return err
		}

		// incoming leg first: a failure here never leaves the outgoing unit
		// silently vacated with no successor
		inChanges, err = applyTransitionTx(tx, in, models.LocationTypeRented, incomingInput,
			fmt.Sprintf("Substituting %s.", out.AssetCode))
		if err != nil {
			return fmt.Errorf("incoming asset %s: %w", in.AssetCode, err)
		}

		outChanges, err = applyTransitionTx(tx, out, destination, outgoingInput,
			fmt.Sprintf("Replaced by %s.", in.AssetCode))
		if err != nil {
			return fmt.Errorf("outgoing asset %s: %w", out.AssetCode, err)
		}

		if err := tx.Model(&models.Asset{}).Where("id = ?", out.ID).Updates(map[string]interface{}{
			"replaced_by_id":     in.ID,
			"replacement_reason": reason,
			"was_replaced":       true,
		}).Error; err != nil {
			return err
		}

		if err := models.SaveReplacementHistory(tx, out, in, reason); err != nil {
			return err
		}

		if err := tx.First(&outgoing, out.ID).Error; err != nil {
			return err
		}
		return tx.First(&incoming, in.ID).Error
	})
	if err != nil {
		return nil, nil, err
	}

	appendFieldChangeHistories(ctx, incoming.ID, incoming.AssetCode, inChanges)
	appendFieldChangeHistories(ctx, outgoing.ID, outgoing.AssetCode, outChanges)
	return &outgoing, &incoming, nil
}

// rentalContextFromOutgoing builds the incoming unit's Rented payload from
// the role the outgoing unit is vacating. A unit parked in AwaitingReport
// has had its rental columns cleared by field isolation, so the vacated
// role is recovered from the ledger (last old_value of the cleared column).
func rentalContextFromOutgoing(tx *gorm.DB, out *models.Asset) (*models.TransitionInput, error) {
	now := time.Now().UTC()
	input := &models.TransitionInput{
		Company:        out.RentalCompany,
		WorkSite:       out.RentalWorkSite,
		ContractNumber: out.RentalContractNumber,
		StartDate:      &now,
		EndDate:        out.RentalEndDate,
		Responsible:    out.RentalResponsible,
		ContactPhone:   out.RentalContactPhone,
		MonthlyRate:    out.RentalMonthlyRate,
	}

	if utils.IsBlank(input.Company) {
		input.Company = lastRecordedValue(tx, out.ID, "rental_company")
	}
	if utils.IsBlank(input.WorkSite) {
		input.WorkSite = lastRecordedValue(tx, out.ID, "rental_work_site")
	}
	if utils.IsBlank(input.ContractNumber) {
		input.ContractNumber = lastRecordedValue(tx, out.ID, "rental_contract_number")
	}

	if err := input.Validate(models.LocationTypeRented); err != nil {
		return nil, err
	}
	return input, nil
}

func lastRecordedValue(tx *gorm.DB, assetId int, column string) *string {
	var history models.History
	err := tx.
		Where("asset_id = ? AND action_type = ? AND changed_field = ? AND old_value <> ''",
			assetId, models.HistoryActionTypeFieldChange, column).
		Order("created_at DESC, id DESC").
		First(&history).Error
	if err != nil {
		return nil
	}
	return &history.OldValue
}
