package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/profilerelay/relayer/pkg/db/models"
	"github.com/profilerelay/relayer/pkg/types"
)

// CreateTransactionParams carries everything the request path resolved before
// touching the store. OnChainNonce is the relayer wallet's transaction count,
// read before the database transaction opens so no row lock is ever held
// across a network call.
type CreateTransactionParams struct {
	ID             string
	ProfileAddress string
	CallNonce      string
	ChannelID      int64
	Signature      string
	CallData       []byte
	SignerAddress  string
	RelayerAddress string
	EstimatedGas   uint64
	OnChainNonce   uint64
	SettledHash    string
}

// CreateRelayTransaction atomically resolves the payer, debits it, sequences
// the relayer wallet nonce and inserts the PENDING ledger row. A failure at
// any step rolls back every effect. Nonce sequencing for a relayer address is
// serialized with an advisory lock so two concurrent requests cannot compute
// the same next nonce.
func (db *DatabaseAdapter) CreateRelayTransaction(ctx context.Context, params CreateTransactionParams) (*models.RelayTransaction, error) {
	var record models.RelayTransaction
	err := db.PostgresClient.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", params.RelayerAddress).Error; err != nil {
			return fmt.Errorf("failed to acquire relayer lock: %w", err)
		}

		quota, delegation, err := db.resolvePayerTx(tx, params.ProfileAddress, params.EstimatedGas)
		if err != nil {
			return err
		}

		record = models.RelayTransaction{
			ID:             params.ID,
			ProfileAddress: params.ProfileAddress,
			CallNonce:      params.CallNonce,
			ChannelID:      params.ChannelID,
			Signature:      params.Signature,
			CallData:       params.CallData,
			SignerAddress:  params.SignerAddress,
			RelayerAddress: params.RelayerAddress,
			EstimatedGas:   params.EstimatedGas,
			SettledHash:    params.SettledHash,
			Status:         int(types.RelayStatusPending),
		}

		switch {
		case quota != nil:
			result := tx.Model(quota).Update("used", quota.Used+params.EstimatedGas)
			if result.Error != nil {
				return fmt.Errorf("failed to debit quota %d: %w", quota.ID, result.Error)
			}
			record.PayerQuotaID = &quota.ID
		case delegation != nil:
			result := tx.Model(delegation).Update("used", delegation.Used+params.EstimatedGas)
			if result.Error != nil {
				return fmt.Errorf("failed to debit delegation %d: %w", delegation.ID, result.Error)
			}
			record.PayerDelegationID = &delegation.ID
		}

		record.RelayerNonce, err = nextRelayerNonceTx(tx, params.RelayerAddress, params.OnChainNonce)
		if err != nil {
			return err
		}

		if err := tx.Create(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return types.ErrDuplicateAuthorization
			}
			return fmt.Errorf("failed to create relay transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("transactionId", record.ID).
		Str("profile", record.ProfileAddress).
		Uint64("relayerNonce", record.RelayerNonce).
		Msg("[DatabaseAdapter] created relay transaction")
	return &record, nil
}

// nextRelayerNonceTx derives the next relayer wallet nonce from ledger state:
// highest PENDING nonce for this relayer plus one, falling back to the
// on-chain transaction count when nothing is in flight. Never cached in
// process; always recomputed under the caller's transaction.
func nextRelayerNonceTx(tx *gorm.DB, relayerAddress string, onChainNonce uint64) (uint64, error) {
	var latest models.RelayTransaction
	result := tx.
		Where("relayer_address = ? AND status = ?", relayerAddress, int(types.RelayStatusPending)).
		Order("relayer_nonce DESC").
		First(&latest)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return onChainNonce, nil
		}
		return 0, fmt.Errorf("failed to find latest pending transaction: %w", result.Error)
	}
	return latest.RelayerNonce + 1, nil
}

// UpdateTransactionStatus transitions a PENDING row to its terminal state.
// Called by the settlement path once the broadcast outcome is known. Terminal
// states are final: the update is guarded on the current status, so a
// transition attempted on an already-settled row is a no-op. This is what
// makes redelivered work items safe to settle twice.
func (db *DatabaseAdapter) UpdateTransactionStatus(ctx context.Context, id string, status types.RelayStatus, gasUsed uint64, settledHash string) error {
	updates := map[string]interface{}{
		"status": int(status),
	}
	if gasUsed > 0 {
		updates["gas_used"] = gasUsed
	}
	if settledHash != "" {
		updates["settled_hash"] = settledHash
	}

	result := db.PostgresClient.WithContext(ctx).
		Model(&models.RelayTransaction{}).
		Where("id = ? AND status = ?", id, int(types.RelayStatusPending)).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update transaction %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		var existing models.RelayTransaction
		if err := db.PostgresClient.WithContext(ctx).Where("id = ?", id).First(&existing).Error; err != nil {
			return fmt.Errorf("transaction %s not found", id)
		}
		log.Debug().
			Str("transactionId", id).
			Str("status", types.RelayStatus(existing.Status).String()).
			Msg("[DatabaseAdapter] transaction already settled, ignoring status update")
		return nil
	}

	log.Debug().Str("transactionId", id).Str("status", status.String()).Msg("[DatabaseAdapter] updated transaction status")
	return nil
}

func (db *DatabaseAdapter) FindTransactionByID(ctx context.Context, id string) (*models.RelayTransaction, error) {
	var record models.RelayTransaction
	result := db.PostgresClient.WithContext(ctx).Where("id = ?", id).First(&record)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find transaction %s: %w", id, result.Error)
	}
	return &record, nil
}

// FindTransactionsByProfile returns the profile's relay attempts, newest
// first.
func (db *DatabaseAdapter) FindTransactionsByProfile(ctx context.Context, profileAddress string, limit int) ([]models.RelayTransaction, error) {
	var records []models.RelayTransaction
	query := db.PostgresClient.WithContext(ctx).
		Where("profile_address = ?", profileAddress).
		Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	result := query.Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find transactions for %s: %w", profileAddress, result.Error)
	}
	return records, nil
}
