package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/rental_backend/config"
	"bitbucket.org/mmdatafocus/rental_backend/utils"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Asset is one physical equipment unit. One wide nullable row: only the
// column group of the current location state may be populated (enforced by
// the Field-Set Policy, never ad hoc).
type Asset struct {
	ID           int          `gorm:"primary_key" json:"id"`
	AssetCode    string       `gorm:"size:20;uniqueIndex;not null" json:"asset_code" binding:"required"`
	Name         string       `gorm:"size:100;not null" json:"name" binding:"required"`
	LocationType LocationType `gorm:"size:20;index;not null" json:"location_type"`

	WarehouseNote *string `gorm:"type:text" json:"warehouse_note"`

	MaintenanceCompany       *string    `gorm:"size:100" json:"maintenance_company"`
	MaintenanceWorkSite      *string    `gorm:"size:100" json:"maintenance_work_site"`
	MaintenanceDescription   *string    `gorm:"type:text" json:"maintenance_description"`
	MaintenanceContactPhone  *string    `gorm:"size:20" json:"maintenance_contact_phone"`
	MaintenanceArrivalDate   *time.Time `json:"maintenance_arrival_date"`
	MaintenanceDepartureDate *time.Time `json:"maintenance_departure_date"`
	MaintenanceResponsible   *string    `gorm:"size:100" json:"maintenance_responsible"`

	RentalCompany        *string          `gorm:"size:100" json:"rental_company"`
	RentalWorkSite       *string          `gorm:"size:100" json:"rental_work_site"`
	RentalContractNumber *string          `gorm:"size:50" json:"rental_contract_number"`
	RentalStartDate      *time.Time       `json:"rental_start_date"`
	RentalEndDate        *time.Time       `json:"rental_end_date"`
	RentalResponsible    *string          `gorm:"size:100" json:"rental_responsible"`
	RentalContactPhone   *string          `gorm:"size:20" json:"rental_contact_phone"`
	RentalMonthlyRate    *decimal.Decimal `gorm:"type:decimal(20,6)" json:"rental_monthly_rate"`

	InspectionStartDate *time.Time `json:"inspection_start_date"`
	InspectionNote      *string    `gorm:"type:text" json:"inspection_note"`

	ReplacedById      *int    `gorm:"index" json:"replaced_by_id"`
	ReplacementReason *string `gorm:"type:text" json:"replacement_reason"`
	IsNewEquipment    *bool   `json:"is_new_equipment"`
	WasReplaced       *bool   `json:"was_replaced"`

	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewAsset struct {
	AssetCode      string  `json:"asset_code" binding:"required,assetcode"`
	Name           string  `json:"name" binding:"required"`
	WarehouseNote  *string `json:"warehouse_note"`
	IsNewEquipment *bool   `json:"is_new_equipment"`
}

// validate input for create. (registration only; cadastral edits are done elsewhere)
func (input *NewAsset) validate(ctx context.Context) error {
	if err := utils.ValidateUnique[Asset](ctx, "asset_code", input.AssetCode, 0); err != nil {
		return err
	}
	return nil
}

// CreateAsset registers a unit. Every asset starts its lifecycle in the
// warehouse; the registration itself is recorded on the History Ledger.
func CreateAsset(ctx context.Context, input *NewAsset) (*Asset, error) {

	if _, ok := utils.GetUserIdFromContext(ctx); !ok {
		return nil, ErrActorRequired
	}

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	asset := Asset{
		AssetCode:      input.AssetCode,
		Name:           input.Name,
		LocationType:   LocationTypeWarehouse,
		WarehouseNote:  input.WarehouseNote,
		IsNewEquipment: input.IsNewEquipment,
		IsActive:       utils.NewTrue(),
	}

	// db action
	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&asset).Error; err != nil {
			return err
		}
		detail := "Registered " + asset.AssetCode + " into the warehouse."
		return SaveMovementHistory(tx, asset.ID, asset.AssetCode, detail)
	})
	if err != nil {
		return nil, err
	}
	return &asset, nil
}

func GetAsset(ctx context.Context, id int) (*Asset, error) {
	return utils.FetchModel[Asset](ctx, id)
}

func GetAssetByCode(ctx context.Context, assetCode string) (*Asset, error) {
	db := config.GetDB()
	var result Asset
	err := db.WithContext(ctx).Where("asset_code = ?", assetCode).First(&result).Error
	if err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	return &result, nil
}

func ListAssets(ctx context.Context, name *string, assetCode *string, locationType *LocationType) ([]*Asset, error) {
	db := config.GetDB()
	var results []*Asset

	dbCtx := db.WithContext(ctx)
	if name != nil && len(*name) > 0 {
		dbCtx = dbCtx.Where("name LIKE ?", "%"+*name+"%")
	}
	if assetCode != nil && len(*assetCode) > 0 {
		dbCtx = dbCtx.Where("asset_code = ?", *assetCode)
	}
	if locationType != nil {
		if !locationType.IsValid() {
			return nil, errors.New("invalid location type")
		}
		dbCtx = dbCtx.Where("location_type = ?", *locationType)
	}
	// db query
	err := dbCtx.Order("asset_code").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// GetReplacementSource is the reverse lookup of the replacement edge: the
// outgoing asset whose replaced_by_id points at incomingId, if any.
func GetReplacementSource(ctx context.Context, incomingId int) (*Asset, error) {
	db := config.GetDB()
	var result Asset
	err := db.WithContext(ctx).Where("replaced_by_id = ?", incomingId).First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &result, nil
}

// ToggleActiveAsset retires or reinstates a unit. Assets are never deleted;
// retirement is a flag, and the flip lands on the ledger.
func ToggleActiveAsset(ctx context.Context, id int, isActive bool) (*Asset, error) {

	if _, ok := utils.GetUserIdFromContext(ctx); !ok {
		return nil, ErrActorRequired
	}

	db := config.GetDB()
	var asset Asset
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&asset, id).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		// gate invariant re-checked under the row lock, same as movements
		if asset.LocationType == LocationTypeAwaitingReport {
			return ErrAwaitingInspectionDecision
		}
		if err := tx.Model(&Asset{}).Where("id = ?", id).
			Update("is_active", isActive).Error; err != nil {
			return err
		}
		change := FieldChange{
			Field:    "is_active",
			OldValue: boolString(asset.IsActive),
			NewValue: boolString(&isActive),
		}
		return SaveFieldChangeHistory(tx, asset.ID, asset.AssetCode, change)
	})
	if err != nil {
		return nil, err
	}
	asset.IsActive = &isActive
	return &asset, nil
}

func boolString(b *bool) string {
	if b == nil || !*b {
		return "false"
	}
	return "true"
}
