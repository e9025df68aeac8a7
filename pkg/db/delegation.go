package db

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/profilerelay/relayer/pkg/db/models"
	"github.com/profilerelay/relayer/pkg/types"
)

// CreateDelegation records that approver covers up to monthlyAllowance gas
// units of calls made by approved. Both profiles get a quota row on first
// touch. At most one active delegation per ordered (approver, approved) pair.
func (db *DatabaseAdapter) CreateDelegation(ctx context.Context, approverAddress, approvedAddress string, monthlyAllowance uint64) (*models.Delegation, error) {
	var delegation models.Delegation
	err := db.PostgresClient.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := db.ensureQuotaTx(tx, approverAddress); err != nil {
			return err
		}
		if _, err := db.ensureQuotaTx(tx, approvedAddress); err != nil {
			return err
		}

		delegation = models.Delegation{
			ApproverAddress:  approverAddress,
			ApprovedAddress:  approvedAddress,
			MonthlyAllowance: monthlyAllowance,
		}
		if err := tx.Create(&delegation).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return types.ErrDelegationExists
			}
			return fmt.Errorf("failed to create delegation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &delegation, nil
}

// FindDelegationsForProfile returns all delegations granted to the profile,
// oldest grant first.
func (db *DatabaseAdapter) FindDelegationsForProfile(ctx context.Context, profileAddress string) ([]models.Delegation, error) {
	var delegations []models.Delegation
	result := db.PostgresClient.WithContext(ctx).
		Where("approved_address = ?", profileAddress).
		Order("id ASC").
		Find(&delegations)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find delegations for %s: %w", profileAddress, result.Error)
	}
	return delegations, nil
}
