package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/profilerelay/relayer/pkg/db/models"
	"github.com/profilerelay/relayer/pkg/types"
)

// QuotaStatusResult is the aggregate view reported to callers: how much the
// profile could spend in total this month and how much has been spent,
// including delegations granted to it. It is intentionally a different
// computation from payer selection.
type QuotaStatusResult struct {
	Used  uint64
	Total uint64
}

// EnsureQuota idempotently creates the profile's own quota row with the
// default allowance and returns it. Concurrent first touches are resolved by
// the unique index on profile_address, not by check-then-insert.
func (db *DatabaseAdapter) EnsureQuota(ctx context.Context, profileAddress string) (*models.Quota, error) {
	var quota models.Quota
	err := db.PostgresClient.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		quota, err = db.ensureQuotaTx(tx, profileAddress)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &quota, nil
}

func (db *DatabaseAdapter) ensureQuotaTx(tx *gorm.DB, profileAddress string) (models.Quota, error) {
	var quota models.Quota

	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.Quota{
		ProfileAddress:   profileAddress,
		MonthlyAllowance: db.DefaultMonthlyAllowance,
	})
	if result.Error != nil {
		return quota, fmt.Errorf("failed to ensure quota for %s: %w", profileAddress, result.Error)
	}

	result = tx.Where("profile_address = ?", profileAddress).First(&quota)
	if result.Error != nil {
		return quota, fmt.Errorf("failed to load quota for %s: %w", profileAddress, result.Error)
	}
	return quota, nil
}

// resolvePayerTx decides which single row pays for a call of estimatedGas gas
// units: the profile's own quota if it has headroom, otherwise the first
// delegation granted to the profile (delegation id ascending) that can cover
// the call itself and whose approver still has headroom on their own quota.
// Every row whose headroom is inspected is locked FOR UPDATE so concurrent
// requests cannot both observe the same headroom and overshoot.
func (db *DatabaseAdapter) resolvePayerTx(tx *gorm.DB, profileAddress string, estimatedGas uint64) (*models.Quota, *models.Delegation, error) {
	if _, err := db.ensureQuotaTx(tx, profileAddress); err != nil {
		return nil, nil, err
	}

	var ownQuota models.Quota
	result := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("profile_address = ?", profileAddress).
		First(&ownQuota)
	if result.Error != nil {
		return nil, nil, fmt.Errorf("failed to lock quota for %s: %w", profileAddress, result.Error)
	}

	if ownQuota.Used+estimatedGas <= ownQuota.MonthlyAllowance {
		return &ownQuota, nil, nil
	}

	var delegations []models.Delegation
	result = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("approved_address = ?", profileAddress).
		Order("id ASC").
		Find(&delegations)
	if result.Error != nil {
		return nil, nil, fmt.Errorf("failed to load delegations for %s: %w", profileAddress, result.Error)
	}
	if len(delegations) == 0 {
		return nil, nil, types.ErrQuotaExceeded
	}

	for i := range delegations {
		delegation := &delegations[i]
		// The delegation itself must be able to cover the call.
		if delegation.Used+estimatedGas >= delegation.MonthlyAllowance {
			continue
		}

		var approverQuota models.Quota
		result = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("profile_address = ?", delegation.ApproverAddress).
			First(&approverQuota)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, nil, fmt.Errorf("failed to lock approver quota for %s: %w", delegation.ApproverAddress, result.Error)
		}

		if approverQuota.Used+estimatedGas <= approverQuota.MonthlyAllowance {
			return nil, delegation, nil
		}
	}

	return nil, nil, types.ErrQuotaExceeded
}

// ComputeAvailableQuota reports the aggregate monthly allowance view for a
// profile: its own allowance plus, for every delegation granted to it, the
// lesser of the delegation's allowance and the approver's remaining headroom.
// Spent delegated gas counts toward used even when the approver is already
// over budget.
func (db *DatabaseAdapter) ComputeAvailableQuota(ctx context.Context, profileAddress string) (*QuotaStatusResult, error) {
	ownQuota, err := db.EnsureQuota(ctx, profileAddress)
	if err != nil {
		return nil, err
	}

	var delegations []models.Delegation
	result := db.PostgresClient.WithContext(ctx).
		Where("approved_address = ?", profileAddress).
		Order("id ASC").
		Find(&delegations)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to load delegations for %s: %w", profileAddress, result.Error)
	}

	status := QuotaStatusResult{
		Used:  ownQuota.Used,
		Total: ownQuota.MonthlyAllowance,
	}

	for _, delegation := range delegations {
		status.Used += delegation.Used

		var approverQuota models.Quota
		result = db.PostgresClient.WithContext(ctx).
			Where("profile_address = ?", delegation.ApproverAddress).
			First(&approverQuota)
		if result.Error != nil {
			if errors.Is(result.Error, gorm.ErrRecordNotFound) {
				continue
			}
			return nil, fmt.Errorf("failed to load approver quota for %s: %w", delegation.ApproverAddress, result.Error)
		}

		var headroom uint64
		if approverQuota.MonthlyAllowance > approverQuota.Used {
			headroom = approverQuota.MonthlyAllowance - approverQuota.Used
		}
		if delegation.MonthlyAllowance < headroom {
			status.Total += delegation.MonthlyAllowance
		} else {
			status.Total += headroom
		}
	}

	return &status, nil
}
