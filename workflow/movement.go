package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/rental_backend/config"
	"bitbucket.org/mmdatafocus/rental_backend/models"
	"bitbucket.org/mmdatafocus/rental_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ApplyTransition validates and applies a single-asset state transition:
// required fields checked against the Field-Set Policy, foreign-state
// columns nulled, one Movement summary row written in the same transaction,
// one FieldChange row per changed field appended after commit.
//
// An asset sitting in AwaitingReport is rejected here; only the inspection
// gate may move it.
func ApplyTransition(ctx context.Context, assetId int, target models.LocationType, input *models.TransitionInput) (*models.Asset, error) {
	return applyTransition(ctx, assetId, target, input, false, "")
}

func applyTransition(ctx context.Context, assetId int, target models.LocationType, input *models.TransitionInput, viaGate bool, decisionNote string) (*models.Asset, error) {

	if _, ok := utils.GetUserIdFromContext(ctx); !ok {
		return nil, models.ErrActorRequired
	}
	if input == nil {
		input = &models.TransitionInput{}
	}
	if err := input.Validate(target); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var after models.Asset
	var changes []models.FieldChange
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		asset, err := lockAsset(tx, assetId)
		if err != nil {
			return err
		}

		// The gate invariant is re-checked under the row lock, not only at
		// the API boundary, to close the race where two requests both read
		// a stale state before either commits.
		if viaGate {
			if asset.LocationType != models.LocationTypeAwaitingReport {
				return models.ErrNotAwaitingReport
			}
		} else if !models.CanTransition(asset.LocationType, target) {
			if asset.LocationType == models.LocationTypeAwaitingReport {
				return models.ErrAwaitingInspectionDecision
			}
			return fmt.Errorf("%w: cannot move %s from %s to %s", models.ErrTransitionNotAllowed, asset.AssetCode, asset.LocationType, target)
		}

		changes, err = applyTransitionTx(tx, asset, target, input, decisionNote)
		if err != nil {
			return err
		}
		return tx.First(&after, assetId).Error
	})
	if err != nil {
		return nil, err
	}

	appendFieldChangeHistories(ctx, after.ID, after.AssetCode, changes)
	return &after, nil
}

// applyTransitionTx performs one transition leg inside the caller's
// transaction. The returned changes are meant for the best-effort
// post-commit writer; under STRICT_HISTORY_WRITES they are written here and
// nothing is returned.
func applyTransitionTx(tx *gorm.DB, asset *models.Asset, target models.LocationType, input *models.TransitionInput, decisionNote string) ([]models.FieldChange, error) {

	before := asset.SnapshotStateFields()
	updates := models.BuildStateUpdates(target, input, time.Now().UTC(), asset)

	if err := tx.Model(&models.Asset{}).Where("id = ?", asset.ID).Updates(updates).Error; err != nil {
		return nil, err
	}

	afterSnap := models.ApplyUpdatesToSnapshot(before, updates)
	changes := models.DiffFields(before, afterSnap)

	detail := fmt.Sprintf("Moved %s from %s to %s.", asset.AssetCode, asset.LocationType.Label(), target.Label())
	if decisionNote != "" {
		detail = detail + " " + decisionNote
	}
	if err := models.SaveMovementHistory(tx, asset.ID, asset.AssetCode, detail); err != nil {
		return nil, err
	}

	if config.StrictHistoryWrites() {
		for _, change := range changes {
			if err := models.SaveFieldChangeHistory(tx, asset.ID, asset.AssetCode, change); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
	return changes, nil
}

// lockAsset loads the row FOR UPDATE so concurrent transitions on the same
// asset serialize on InnoDB row locks.
func lockAsset(tx *gorm.DB, id int) (*models.Asset, error) {
	var asset models.Asset
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&asset, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &asset, nil
}
