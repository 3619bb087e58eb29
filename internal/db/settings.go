package db

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// GetSetting returns the decrypted value stored under key, or ("", nil) if
// no row exists. Callers that need encryption must have already called
// InitEncryption.
func GetSetting(ctx context.Context, gdb *gorm.DB, key string) (string, error) {
	var row Setting
	err := gdb.WithContext(ctx).Where("key = ?", key).Take(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "", nil
	case err != nil:
		return "", err
	}
	return string(row.Value), nil
}

// SetSetting upserts the encrypted value for key, creating the row if it
// does not yet exist.
func SetSetting(ctx context.Context, gdb *gorm.DB, key, value string) error {
	return gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Setting
		err := tx.Where("key = ?", key).Take(&row).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&Setting{Key: key, Value: EncryptedString(value)}).Error
		case err != nil:
			return err
		}
		return tx.Model(&row).Update("value", EncryptedString(value)).Error
	})
}
