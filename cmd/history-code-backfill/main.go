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

// Re-denormalizes asset_code onto history rows. The ledger stores the code
// at write time so timelines survive asset deletion; rows written before
// that convention (or after a manual code correction) are fixed here.
func main() {
	dryRun := flag.Bool("dry-run", false, "Report mismatched rows without updating")
	batchSize := flag.Int("batch-size", 1000, "Rows updated per statement")
	flag.Parse()

	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}

	ctx = context.WithValue(ctx, utils.ContextKeyUserId, 0)
	ctx = context.WithValue(ctx, utils.ContextKeyUserName, "HistoryCodeBackfill")

	var mismatched int64
	err := db.WithContext(ctx).Model(&models.History{}).
		Joins("JOIN assets ON assets.id = histories.asset_id").
		Where("histories.asset_code <> assets.asset_code").
		Count(&mismatched).Error
	if err != nil {
		fmt.Fprintln(os.Stderr, "counting mismatched rows:", err)
		os.Exit(1)
	}
	fmt.Printf("%d history rows carry a stale asset_code\n", mismatched)

	if *dryRun || mismatched == 0 {
		return
	}

	// MySQL rejects LIMIT on a multi-table UPDATE, so batch by id.
	var total int64
	for {
		var ids []int
		err := db.WithContext(ctx).Raw(`
			SELECT h.id FROM histories h
			JOIN assets a ON a.id = h.asset_id
			WHERE h.asset_code <> a.asset_code
			LIMIT ?`, *batchSize).Scan(&ids).Error
		if err != nil {
			fmt.Fprintln(os.Stderr, "selecting batch:", err)
			os.Exit(1)
		}
		if len(ids) == 0 {
			break
		}
		result := db.WithContext(ctx).Exec(`
			UPDATE histories h
			JOIN assets a ON a.id = h.asset_id
			SET h.asset_code = a.asset_code
			WHERE h.id IN ?`, ids)
		if result.Error != nil {
			fmt.Fprintln(os.Stderr, "updating:", result.Error)
			os.Exit(1)
		}
		total += result.RowsAffected
		fmt.Printf("updated %d rows (total %d)\n", result.RowsAffected, total)
	}
	fmt.Printf("done: %d rows backfilled\n", total)
}
