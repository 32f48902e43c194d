package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"marketplace-backend/internal/apperr"
	"marketplace-backend/internal/model"
)

const (
	scopeCreate  = "create"
	scopeResolve = "resolve"
)

// fingerprint hashes the operation input so a reused key with different
// input can be told apart from a retry.
func fingerprint(parts ...interface{}) string {
	var b strings.Builder
	for _, p := range parts {
		switch v := p.(type) {
		case *uint:
			if v == nil {
				b.WriteString("<nil>")
			} else {
				fmt.Fprintf(&b, "%d", *v)
			}
		default:
			fmt.Fprintf(&b, "%v", v)
		}
		b.WriteByte(0)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// lookupKey returns the request produced earlier under key, if any.
func lookupKey(tx *gorm.DB, scope string, userID uint, key, fp string) (uint, bool, error) {
	var rec model.IdempotencyKey
	err := tx.Where("scope = ? AND user_id = ? AND idem_key = ?", scope, userID, key).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if rec.Fingerprint != fp {
		return 0, false, apperr.Validationf("idempotency key %q was already used with different input", key)
	}
	return rec.RequestID, true, nil
}

func saveKey(tx *gorm.DB, scope string, userID uint, key, fp string, requestID uint) error {
	return tx.Create(&model.IdempotencyKey{
		Scope:       scope,
		UserID:      userID,
		Key:         key,
		Fingerprint: fp,
		RequestID:   requestID,
	}).Error
}
