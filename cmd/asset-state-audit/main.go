package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/rental_backend/config"
	"bitbucket.org/mmdatafocus/rental_backend/models"
	"bitbucket.org/mmdatafocus/rental_backend/utils"
)

// Audits the asset table for rows that violate field isolation: state
// columns carrying values that do not belong to the row's current location,
// missing required fields, AwaitingReport rows without an inspection start,
// and duplicate replacement links. Read-only; prints one line per finding.
func main() {
	locationFilter := flag.String("location-type", "", "Optional: audit only assets in this state (Warehouse|Maintenance|Rented|AwaitingReport)")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	ctx = context.WithValue(ctx, utils.ContextKeyUserId, 0)
	ctx = context.WithValue(ctx, utils.ContextKeyUserName, "AssetStateAudit")

	query := db.WithContext(ctx).Model(&models.Asset{})
	if *locationFilter != "" {
		lt := models.LocationType(*locationFilter)
		if !lt.IsValid() {
			fmt.Fprintf(os.Stderr, "invalid location-type %q\n", *locationFilter)
			os.Exit(2)
		}
		query = query.Where("location_type = ?", lt)
	}

	var assets []*models.Asset
	if err := query.Order("asset_code").Find(&assets).Error; err != nil {
		fmt.Fprintln(os.Stderr, "loading assets:", err)
		os.Exit(1)
	}

	findings := 0
	for _, asset := range assets {
		findings += auditAsset(asset)
	}
	findings += auditReplacementLinks(ctx)

	fmt.Printf("audited %d assets, %d findings\n", len(assets), findings)
	if findings > 0 {
		os.Exit(1)
	}
}

func auditAsset(asset *models.Asset) int {
	findings := 0
	snapshot := asset.SnapshotStateFields()
	owned := map[string]bool{}
	for _, col := range models.StateColumns(asset.LocationType) {
		owned[col] = true
	}

	for _, col := range models.AllStateColumns() {
		if owned[col] {
			continue
		}
		if snapshot[col] != "" {
			fmt.Printf("IMPURE  %s (%s): %s=%q does not belong to state %s\n",
				asset.AssetCode, asset.LocationType, col, snapshot[col], asset.LocationType)
			findings++
		}
	}

	for _, col := range models.RequiredFields(asset.LocationType) {
		if snapshot[col] == "" {
			fmt.Printf("MISSING %s (%s): required column %s is empty\n",
				asset.AssetCode, asset.LocationType, col)
			findings++
		}
	}

	if asset.LocationType == models.LocationTypeAwaitingReport && asset.InspectionStartDate == nil {
		fmt.Printf("MISSING %s (%s): inspection_start_date is empty\n", asset.AssetCode, asset.LocationType)
		findings++
	}
	return findings
}

func auditReplacementLinks(ctx context.Context) int {
	db := config.GetDB()
	findings := 0

	// A unit may stand in for at most one other unit.
	type dupRow struct {
		ReplacedById int
		N            int
	}
	var dups []dupRow
	err := db.WithContext(ctx).Model(&models.Asset{}).
		Select("replaced_by_id, COUNT(*) AS n").
		Where("replaced_by_id IS NOT NULL").
		Group("replaced_by_id").
		Having("COUNT(*) > 1").
		Scan(&dups).Error
	if err != nil {
		fmt.Fprintln(os.Stderr, "checking replacement links:", err)
		os.Exit(1)
	}
	for _, d := range dups {
		fmt.Printf("DUPLINK asset id %d substitutes %d outgoing units\n", d.ReplacedById, d.N)
		findings++
	}

	// Dangling links: replaced_by_id pointing at a deleted row.
	var dangling int64
	err = db.WithContext(ctx).Model(&models.Asset{}).
		Where("replaced_by_id IS NOT NULL AND replaced_by_id NOT IN (SELECT id FROM (SELECT id FROM assets) a)").
		Count(&dangling).Error
	if err != nil {
		fmt.Fprintln(os.Stderr, "checking dangling links:", err)
		os.Exit(1)
	}
	if dangling > 0 {
		fmt.Printf("DANGLE  %d assets link to a missing replacement\n", dangling)
		findings += int(dangling)
	}
	return findings
}
