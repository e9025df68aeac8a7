package relayer

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/profilerelay/relayer/pkg/chain"
	"github.com/profilerelay/relayer/pkg/db"
	"github.com/profilerelay/relayer/pkg/db/models"
	"github.com/profilerelay/relayer/pkg/types"
)

// freshnessWindow bounds how far a signed timestamp may drift from server
// time before a quota status attestation is rejected as stale.
const freshnessWindow = 5 * time.Second

// ExecuteRelay authorizes a signed relay call, resolves and debits the payer,
// sequences the relayer wallet nonce, records the PENDING transaction and
// hands it to the asynchronous executor. Authorization strictly precedes any
// mutation. Returns the settlement hash identifying the eventual broadcast.
func (s *Service) ExecuteRelay(ctx context.Context, req *ExecuteRelayRequest) (string, error) {
	if req.ProfileAddress == "" || !common.IsHexAddress(req.ProfileAddress) {
		return "", fmt.Errorf("%w: profile address", types.ErrInvalidArgument)
	}
	if req.CallNonce == nil {
		return "", fmt.Errorf("%w: call nonce", types.ErrInvalidArgument)
	}
	if len(req.CallData) == 0 {
		return "", fmt.Errorf("%w: call data", types.ErrInvalidArgument)
	}
	if len(req.Signature) == 0 {
		return "", fmt.Errorf("%w: signature", types.ErrInvalidArgument)
	}
	profile := common.HexToAddress(req.ProfileAddress)

	message := chain.RelayCallMessage(s.chainClient.ChainID(), profile, req.CallNonce, req.CallData)
	signer, err := s.chainClient.RecoverSigner(message, req.Signature)
	if err != nil {
		log.Debug().Err(err).Str("profile", profile.Hex()).Msg("[Relayer] signature recovery failed")
		return "", fmt.Errorf("%w: invalid signature", types.ErrUnauthorized)
	}

	allowed, err := s.chainClient.HasPermission(ctx, profile, signer)
	if err != nil {
		return "", err
	}
	if !allowed {
		log.Info().
			Str("profile", profile.Hex()).
			Str("signer", signer.Hex()).
			Msg("[Relayer] signer lacks permission")
		return "", fmt.Errorf("%w: signer %s has no permission for profile", types.ErrUnauthorized, signer.Hex())
	}

	estimatedGas, err := s.chainClient.EstimateGas(ctx, profile, req.CallNonce, req.CallData, req.Signature)
	if err != nil {
		return "", err
	}

	// Read the wallet's transaction count before the store transaction opens
	// so no row lock is held across a network call.
	onChainNonce, err := s.chainClient.GetOnChainNonce(ctx, s.chainClient.RelayerAddress())
	if err != nil {
		return "", err
	}

	settledHash := chain.ComputeSettlementHash(profile, req.CallNonce, req.CallData, req.Signature)
	record, err := s.store.CreateRelayTransaction(ctx, db.CreateTransactionParams{
		ID:             uuid.NewString(),
		ProfileAddress: profile.Hex(),
		CallNonce:      hexutil.EncodeBig(req.CallNonce),
		ChannelID:      types.ChannelFromCallNonce(req.CallNonce),
		Signature:      hexutil.Encode(req.Signature),
		CallData:       req.CallData,
		SignerAddress:  signer.Hex(),
		RelayerAddress: s.chainClient.RelayerAddress().Hex(),
		EstimatedGas:   estimatedGas,
		OnChainNonce:   onChainNonce,
		SettledHash:    settledHash,
	})
	if err != nil {
		return "", err
	}

	var item *types.WorkItem
	switch {
	case record.PayerDelegationID != nil:
		item = &types.WorkItem{TransactionID: record.ID, PayerKind: types.PayerKindDelegation, PayerID: *record.PayerDelegationID}
	case record.PayerQuotaID != nil:
		item = &types.WorkItem{TransactionID: record.ID, PayerKind: types.PayerKindQuota, PayerID: *record.PayerQuotaID}
	default:
		return "", fmt.Errorf("transaction %s was created without a payer", record.ID)
	}
	if err := s.publisher.Publish(ctx, item); err != nil {
		// The ledger row stays PENDING; redelivery is the sweeper's job.
		log.Error().Err(err).Str("transactionId", record.ID).Msg("[Relayer] failed to enqueue work item")
		return "", err
	}

	log.Info().
		Str("transactionId", record.ID).
		Str("profile", profile.Hex()).
		Uint64("estimatedGas", estimatedGas).
		Uint64("relayerNonce", record.RelayerNonce).
		Msg("[Relayer] accepted relay call")
	return settledHash, nil
}

// GetQuotaStatus answers "how much could this profile spend in total" from a
// self-signed attestation. The signed timestamp must be within the freshness
// window of server time regardless of signature validity.
func (s *Service) GetQuotaStatus(ctx context.Context, req *QuotaStatusRequest) (*QuotaStatusResponse, error) {
	if req.ProfileAddress == "" || !common.IsHexAddress(req.ProfileAddress) {
		return nil, fmt.Errorf("%w: profile address", types.ErrInvalidArgument)
	}
	if req.TimestampMillis <= 0 {
		return nil, fmt.Errorf("%w: timestamp", types.ErrInvalidArgument)
	}
	if len(req.Signature) == 0 {
		return nil, fmt.Errorf("%w: signature", types.ErrInvalidArgument)
	}
	profile := common.HexToAddress(req.ProfileAddress)

	drift := time.Since(time.UnixMilli(req.TimestampMillis))
	if drift > freshnessWindow || drift < -freshnessWindow {
		return nil, types.ErrStaleTimestamp
	}

	message := chain.QuotaStatusMessage(profile, req.TimestampMillis)
	signer, err := s.chainClient.RecoverSigner(message, req.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid signature", types.ErrUnauthorized)
	}
	allowed, err := s.chainClient.HasPermission(ctx, profile, signer)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, fmt.Errorf("%w: signer %s has no permission for profile", types.ErrUnauthorized, signer.Hex())
	}

	status, err := s.store.ComputeAvailableQuota(ctx, profile.Hex())
	if err != nil {
		return nil, err
	}

	return &QuotaStatusResponse{
		Used:      status.Used,
		Unit:      "gas",
		Total:     status.Total,
		ResetDate: firstOfNextMonthMillis(time.Now().UTC()),
	}, nil
}

// ListTransactions returns the profile's relay attempts, newest first.
func (s *Service) ListTransactions(ctx context.Context, profileAddress string, limit int) ([]models.RelayTransaction, error) {
	if profileAddress == "" || !common.IsHexAddress(profileAddress) {
		return nil, fmt.Errorf("%w: profile address", types.ErrInvalidArgument)
	}
	return s.store.FindTransactionsByProfile(ctx, common.HexToAddress(profileAddress).Hex(), limit)
}

// CreateDelegation grants approved the right to spend against approver's
// quota, up to monthlyAllowance gas units.
func (s *Service) CreateDelegation(ctx context.Context, approverAddress, approvedAddress string, monthlyAllowance uint64) (*models.Delegation, error) {
	if approverAddress == "" || !common.IsHexAddress(approverAddress) {
		return nil, fmt.Errorf("%w: approver address", types.ErrInvalidArgument)
	}
	if approvedAddress == "" || !common.IsHexAddress(approvedAddress) {
		return nil, fmt.Errorf("%w: approved address", types.ErrInvalidArgument)
	}
	if monthlyAllowance == 0 {
		return nil, fmt.Errorf("%w: monthly allowance", types.ErrInvalidArgument)
	}
	return s.store.CreateDelegation(ctx,
		common.HexToAddress(approverAddress).Hex(),
		common.HexToAddress(approvedAddress).Hex(),
		monthlyAllowance)
}

func firstOfNextMonthMillis(now time.Time) int64 {
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0).UnixMilli()
}
