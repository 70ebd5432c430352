package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modo-studio/modo-dispatch/internal/models"
	"gorm.io/gorm"
)

// ErrInsufficientCredits indicates the account balance cannot cover a charge.
var ErrInsufficientCredits = errors.New("ledger: insufficient credits")

// ErrAccountNotFound indicates no credit account matched the lookup.
var ErrAccountNotFound = errors.New("ledger: account not found")

// errRefAlreadySettled aborts a transaction whose reference was recorded by a
// concurrent transaction first, rolling back this one's balance mutation.
var errRefAlreadySettled = errors.New("ledger: reference already settled")

// isUniqueViolation matches the reference_id unique index error from both
// supported drivers; neither translates it to gorm.ErrDuplicatedKey here.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value")
}

// Ledger enforces credit balances and records balance mutations.
type Ledger interface {
	// CheckReserve verifies the account can afford cost without mutating
	// state. A zero cost always passes; free models bypass accounting.
	CheckReserve(ctx context.Context, accountID uint64, cost int64) error
	// Deduct atomically charges cost against the account and writes an audit
	// entry keyed by referenceID. Retrying with the same referenceID charges
	// exactly once.
	Deduct(ctx context.Context, accountID uint64, cost int64, reason, referenceID string) error
	// Credit atomically adds amount to the account balance with an audit
	// entry keyed by referenceID.
	Credit(ctx context.Context, accountID uint64, amount int64, reason, referenceID string) error
	// Account returns the current account row.
	Account(ctx context.Context, accountID uint64) (models.CreditAccount, error)
}

// GormLedger persists credit accounting through the application database.
type GormLedger struct {
	db *gorm.DB
}

// NewGormLedger constructs a GormLedger.
func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{db: db}
}

// CheckReserve verifies balance >= cost. The reservation is advisory; the
// real decrement in Deduct re-checks under an atomic conditional update, so
// the race between check and deduct cannot overdraw.
func (l *GormLedger) CheckReserve(ctx context.Context, accountID uint64, cost int64) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("ledger: not initialized")
	}
	if cost <= 0 {
		return nil
	}

	account, errAccount := l.Account(ctx, accountID)
	if errAccount != nil {
		return errAccount
	}
	if account.Balance < cost {
		return ErrInsufficientCredits
	}
	return nil
}

// Deduct charges cost against the account. The balance mutation uses a
// conditional UPDATE so concurrent deductions can never drive the balance
// negative; the audit entry and the mutation commit or roll back together.
func (l *GormLedger) Deduct(ctx context.Context, accountID uint64, cost int64, reason, referenceID string) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("ledger: not initialized")
	}
	referenceID = strings.TrimSpace(referenceID)
	if referenceID == "" {
		return fmt.Errorf("ledger: missing reference id")
	}
	if cost < 0 {
		return fmt.Errorf("ledger: negative cost")
	}
	if cost == 0 {
		return nil
	}

	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.CreditEntry
		errFind := tx.Where("reference_id = ?", referenceID).Take(&existing).Error
		if errFind == nil {
			return nil
		}
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return fmt.Errorf("ledger: check reference: %w", errFind)
		}

		res := tx.Model(&models.CreditAccount{}).
			Where("id = ? AND balance >= ?", accountID, cost).
			Updates(map[string]any{
				"balance":         gorm.Expr("balance - ?", cost),
				"used_this_month": gorm.Expr("used_this_month + ?", cost),
			})
		if res.Error != nil {
			return fmt.Errorf("ledger: deduct: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if errCount := tx.Model(&models.CreditAccount{}).Where("id = ?", accountID).Count(&count).Error; errCount != nil {
				return fmt.Errorf("ledger: deduct: %w", errCount)
			}
			if count == 0 {
				return ErrAccountNotFound
			}
			return ErrInsufficientCredits
		}

		entry := models.CreditEntry{
			AccountID: accountID,
			Amount:    -cost,
			Reason:    strings.TrimSpace(reason),
			Ref:       referenceID,
		}
		if errCreate := tx.Create(&entry).Error; errCreate != nil {
			// A concurrent transaction with the same reference can pass the
			// check above and win the insert. Its charge stands; ours must
			// roll back.
			if isUniqueViolation(errCreate) {
				return errRefAlreadySettled
			}
			return fmt.Errorf("ledger: audit entry: %w", errCreate)
		}
		return nil
	})
	if errors.Is(errTx, errRefAlreadySettled) {
		return nil
	}
	return errTx
}

// Credit adds amount to the account balance with an idempotent audit entry.
func (l *GormLedger) Credit(ctx context.Context, accountID uint64, amount int64, reason, referenceID string) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("ledger: not initialized")
	}
	referenceID = strings.TrimSpace(referenceID)
	if referenceID == "" {
		return fmt.Errorf("ledger: missing reference id")
	}
	if amount <= 0 {
		return fmt.Errorf("ledger: non-positive credit amount")
	}

	errTx := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.CreditEntry
		errFind := tx.Where("reference_id = ?", referenceID).Take(&existing).Error
		if errFind == nil {
			return nil
		}
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			return fmt.Errorf("ledger: check reference: %w", errFind)
		}

		res := tx.Model(&models.CreditAccount{}).
			Where("id = ?", accountID).
			Update("balance", gorm.Expr("balance + ?", amount))
		if res.Error != nil {
			return fmt.Errorf("ledger: credit: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrAccountNotFound
		}

		entry := models.CreditEntry{
			AccountID: accountID,
			Amount:    amount,
			Reason:    strings.TrimSpace(reason),
			Ref:       referenceID,
		}
		if errCreate := tx.Create(&entry).Error; errCreate != nil {
			if isUniqueViolation(errCreate) {
				return errRefAlreadySettled
			}
			return fmt.Errorf("ledger: audit entry: %w", errCreate)
		}
		return nil
	})
	if errors.Is(errTx, errRefAlreadySettled) {
		return nil
	}
	return errTx
}

// Account returns the current account row.
func (l *GormLedger) Account(ctx context.Context, accountID uint64) (models.CreditAccount, error) {
	if l == nil || l.db == nil {
		return models.CreditAccount{}, fmt.Errorf("ledger: not initialized")
	}
	var account models.CreditAccount
	errFind := l.db.WithContext(ctx).First(&account, accountID).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.CreditAccount{}, ErrAccountNotFound
		}
		return models.CreditAccount{}, fmt.Errorf("ledger: load account: %w", errFind)
	}
	return account, nil
}

// ResetMonthlyUsage zeroes the period usage counter, typically on renewal.
func (l *GormLedger) ResetMonthlyUsage(ctx context.Context, accountID uint64) error {
	if l == nil || l.db == nil {
		return fmt.Errorf("ledger: not initialized")
	}
	res := l.db.WithContext(ctx).Model(&models.CreditAccount{}).
		Where("id = ?", accountID).
		Update("used_this_month", 0)
	if res.Error != nil {
		return fmt.Errorf("ledger: reset monthly usage: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrAccountNotFound
	}
	return nil
}
