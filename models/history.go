package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/rental_backend/config"
	"bitbucket.org/mmdatafocus/rental_backend/utils"
	"gorm.io/gorm"
)

// History is the append-only field-level audit log. Rows are write-once:
// the core exposes no update or delete path. AssetCode is denormalized so a
// unit's timeline stays queryable even if the asset row is later altered.
type History struct {
	ID           int               `gorm:"primary_key" json:"id"`
	AssetId      int               `gorm:"index;not null" json:"asset_id"`
	AssetCode    string            `gorm:"size:20;index;not null" json:"asset_code"`
	ActionType   HistoryActionType `gorm:"size:20;not null" json:"action_type" binding:"required"`
	Detail       string            `gorm:"type:text" json:"detail"`
	ChangedField string            `gorm:"size:50" json:"changed_field"`
	OldValue     string            `gorm:"type:text" json:"old_value"`
	NewValue     string            `gorm:"type:text" json:"new_value"`
	UserId       int               `gorm:"index;not null" json:"user_id"`
	UserName     string            `gorm:"size:100" json:"user_name"`
	CreatedAt    time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

func createHistory(tx *gorm.DB,
	actionType HistoryActionType,
	assetId int,
	assetCode string,
	changedField string,
	oldValue string,
	newValue string,
	detail string) (err error) {

	var history History

	ctx := tx.Statement.Context
	// get userId, userName from context
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return ErrActorRequired
	}
	userName, ok := utils.GetUserNameFromContext(ctx)
	if !ok {
		return ErrActorRequired
	}

	history.AssetId = assetId
	history.AssetCode = assetCode
	history.ActionType = actionType
	history.ChangedField = changedField
	history.OldValue = oldValue
	history.NewValue = newValue
	history.Detail = detail
	history.UserId = userId
	history.UserName = userName

	err = tx.Create(&history).Error
	return err
}

// SaveMovementHistory writes the one human-readable summary row of a
// transition, inside the caller's transaction.
func SaveMovementHistory(tx *gorm.DB, assetId int, assetCode string, detail string) error {
	return createHistory(tx, HistoryActionTypeMovement, assetId, assetCode, "", "", "", detail)
}

// SaveFieldChangeHistory writes one row for one changed field.
func SaveFieldChangeHistory(tx *gorm.DB, assetId int, assetCode string, change FieldChange) error {
	return createHistory(tx, HistoryActionTypeFieldChange, assetId, assetCode,
		change.Field, change.OldValue, change.NewValue, "")
}

// SaveReplacementHistory writes the top-level summary of a substitution,
// cross-referencing both asset codes.
func SaveReplacementHistory(tx *gorm.DB, outgoing *Asset, incoming *Asset, reason string) error {
	detail := fmt.Sprintf("Replaced %s with %s: %s", outgoing.AssetCode, incoming.AssetCode, reason)
	return createHistory(tx, HistoryActionTypeReplacement, outgoing.ID, outgoing.AssetCode,
		"replaced_by_id", "", fmt.Sprint(incoming.ID), detail)
}

func GetHistory(ctx context.Context, id int) (*History, error) {
	return utils.FetchModel[History](ctx, id)
}

// GetHistories reconstructs timelines. Filtering by asset_code (not only by
// id) is the contract the report pages depend on.
func GetHistories(ctx context.Context,
	assetId *int,
	assetCode *string,
	actionType *HistoryActionType,
	userId *int,
	limit int,
	offset int,
) ([]*History, error) {

	db := config.GetDB()
	var results []*History

	dbCtx := db.WithContext(ctx)
	if assetId != nil && *assetId > 0 {
		dbCtx = dbCtx.Where("asset_id = ?", *assetId)
	}
	if assetCode != nil && len(*assetCode) > 0 {
		dbCtx = dbCtx.Where("asset_code = ?", *assetCode)
	}
	if actionType != nil {
		if !actionType.IsValid() {
			return nil, errors.New("invalid action type")
		}
		dbCtx = dbCtx.Where("action_type = ?", *actionType)
	}
	if userId != nil && *userId > 0 {
		dbCtx = dbCtx.Where("user_id = ?", *userId)
	}
	if limit > 0 {
		dbCtx = dbCtx.Limit(limit)
	}
	if offset > 0 {
		dbCtx = dbCtx.Offset(offset)
	}
	err := dbCtx.Order("created_at DESC, id DESC").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetAssetTimeline returns a unit's full ledger oldest-first, so chained
// old->new values compose to the asset's current state.
func GetAssetTimeline(ctx context.Context, assetCode string) ([]*History, error) {
	db := config.GetDB()
	var results []*History
	err := db.WithContext(ctx).
		Where("asset_code = ?", assetCode).
		Order("created_at ASC, id ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
