package workflow

import (
	"context"
	"sync/atomic"

	"bitbucket.org/mmdatafocus/rental_backend/config"
	"bitbucket.org/mmdatafocus/rental_backend/models"
)

var droppedHistoryWrites atomic.Int64

// DroppedHistoryWrites reports how many best-effort audit rows were lost
// since startup. Exposed for the ops commands and health reporting.
func DroppedHistoryWrites() int64 {
	return droppedHistoryWrites.Load()
}

// appendFieldChangeHistories writes the per-field audit rows after the state
// change has committed. Best-effort by design: losing an audit line is
// preferable to blocking an otherwise-successful movement. Each failure is
// logged and counted, never re-raised.
func appendFieldChangeHistories(ctx context.Context, assetId int, assetCode string, changes []models.FieldChange) {
	if len(changes) == 0 {
		return
	}
	db := config.GetDB()
	logger := config.GetLogger()
	for _, change := range changes {
		if err := models.SaveFieldChangeHistory(db.WithContext(ctx), assetId, assetCode, change); err != nil {
			droppedHistoryWrites.Add(1)
			config.LogError(logger, "workflow", "appendFieldChangeHistories", change.Field, change, err)
		}
	}
}
