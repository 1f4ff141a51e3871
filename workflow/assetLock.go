package workflow

import (
	"fmt"

	"gorm.io/gorm"
)

// AcquireReplacementLock serializes substitution per asset pair across
// instances using MySQL advisory locks.
// NOTE: GET_LOCK is connection-scoped, so this must be called on the same *gorm.DB that runs the replacement transaction.
func AcquireReplacementLock(tx *gorm.DB, outgoingId, incomingId int) error {
	lockName := replacementLockName(outgoingId, incomingId)
	var ok int
	if err := tx.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire replacement lock for assets %d/%d", outgoingId, incomingId)
	}
	return nil
}

func ReleaseReplacementLock(tx *gorm.DB, outgoingId, incomingId int) {
	lockName := replacementLockName(outgoingId, incomingId)
	var _ok int
	_ = tx.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}

func replacementLockName(a, b int) string {
	if b < a {
		a, b = b, a
	}
	return fmt.Sprintf("asset-replace:%d:%d", a, b)
}
