package relayer

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog/log"

	"github.com/profilerelay/relayer/pkg/types"
)

// Consumer delivers queued work items to a handler.
type Consumer interface {
	Consume(handler func(item *types.WorkItem) error) error
}

// Broadcaster submits a signed relay call at a fixed relayer wallet nonce.
type Broadcaster interface {
	SubmitRelayCall(ctx context.Context, profile common.Address, callNonce *big.Int, callData []byte, signature []byte, relayerNonce uint64) (string, uint64, error)
}

// Executor consumes work items, broadcasts the corresponding relay calls and
// settles the ledger rows. Work items are redelivered at-least-once, so a row
// already in a terminal state is acked without re-broadcasting.
type Executor struct {
	store       Store
	broadcaster Broadcaster
	consumer    Consumer
}

func NewExecutor(store Store, broadcaster Broadcaster, consumer Consumer) *Executor {
	return &Executor{
		store:       store,
		broadcaster: broadcaster,
		consumer:    consumer,
	}
}

func (e *Executor) Start(ctx context.Context) error {
	return e.consumer.Consume(func(item *types.WorkItem) error {
		return e.handleWorkItem(ctx, item)
	})
}

func (e *Executor) handleWorkItem(ctx context.Context, item *types.WorkItem) error {
	record, err := e.store.FindTransactionByID(ctx, item.TransactionID)
	if err != nil {
		log.Error().Err(err).Str("transactionId", item.TransactionID).Msg("[Executor] failed to load transaction")
		return err
	}
	if types.RelayStatus(record.Status) != types.RelayStatusPending {
		log.Debug().Str("transactionId", record.ID).Msg("[Executor] transaction already settled, skipping redelivery")
		return nil
	}

	callNonce, err := hexutil.DecodeBig(record.CallNonce)
	if err != nil {
		log.Error().Err(err).Str("transactionId", record.ID).Msg("[Executor] malformed call nonce in ledger")
		return e.store.UpdateTransactionStatus(ctx, record.ID, types.RelayStatusFailed, 0, "")
	}
	signature, err := hexutil.Decode(record.Signature)
	if err != nil {
		log.Error().Err(err).Str("transactionId", record.ID).Msg("[Executor] malformed signature in ledger")
		return e.store.UpdateTransactionStatus(ctx, record.ID, types.RelayStatusFailed, 0, "")
	}

	hash, gasUsed, err := e.broadcaster.SubmitRelayCall(ctx,
		common.HexToAddress(record.ProfileAddress),
		callNonce,
		record.CallData,
		signature,
		record.RelayerNonce)
	if err != nil {
		if errors.Is(err, types.ErrUpstreamFailure) {
			// Transient: leave the row PENDING and let the queue redeliver.
			return err
		}
		log.Warn().Err(err).Str("transactionId", record.ID).Msg("[Executor] relay call failed")
		return e.store.UpdateTransactionStatus(ctx, record.ID, types.RelayStatusFailed, gasUsed, hash)
	}

	log.Info().
		Str("transactionId", record.ID).
		Str("txHash", hash).
		Uint64("gasUsed", gasUsed).
		Msg("[Executor] relay call confirmed")
	return e.store.UpdateTransactionStatus(ctx, record.ID, types.RelayStatusConfirmed, gasUsed, hash)
}
