package relayer_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"

	"github.com/profilerelay/relayer/internal/relayer"
	"github.com/profilerelay/relayer/pkg/db/models"
	"github.com/profilerelay/relayer/pkg/types"
)

type executorStore struct {
	fakeStore
	record        *models.RelayTransaction
	statusUpdates []statusUpdate
}

type statusUpdate struct {
	id          string
	status      types.RelayStatus
	gasUsed     uint64
	settledHash string
}

func (f *executorStore) FindTransactionByID(ctx context.Context, id string) (*models.RelayTransaction, error) {
	if f.record == nil || f.record.ID != id {
		return nil, fmt.Errorf("transaction %s not found", id)
	}
	return f.record, nil
}

func (f *executorStore) UpdateTransactionStatus(ctx context.Context, id string, status types.RelayStatus, gasUsed uint64, settledHash string) error {
	f.statusUpdates = append(f.statusUpdates, statusUpdate{id, status, gasUsed, settledHash})
	return nil
}

type fakeBroadcaster struct {
	hash    string
	gasUsed uint64
	err     error
	calls   int
}

func (f *fakeBroadcaster) SubmitRelayCall(ctx context.Context, profile common.Address, callNonce *big.Int, callData, signature []byte, relayerNonce uint64) (string, uint64, error) {
	f.calls++
	return f.hash, f.gasUsed, f.err
}

type fakeConsumer struct {
	items []*types.WorkItem
	errs  []error
}

func (f *fakeConsumer) Consume(handler func(item *types.WorkItem) error) error {
	for _, item := range f.items {
		f.errs = append(f.errs, handler(item))
	}
	return nil
}

func pendingRecord(id string) *models.RelayTransaction {
	return &models.RelayTransaction{
		ID:             id,
		ProfileAddress: testProfile.Hex(),
		CallNonce:      hexutil.EncodeBig(big.NewInt(1)),
		Signature:      "0x0102",
		CallData:       []byte{0xca, 0xfe},
		Status:         int(types.RelayStatusPending),
		RelayerNonce:   9,
	}
}

func TestExecutorConfirmsSuccessfulBroadcast(t *testing.T) {
	store := &executorStore{record: pendingRecord("tx-1")}
	broadcaster := &fakeBroadcaster{hash: "0xmined", gasUsed: 21_000}
	consumer := &fakeConsumer{items: []*types.WorkItem{{TransactionID: "tx-1", PayerKind: types.PayerKindQuota, PayerID: 1}}}

	executor := relayer.NewExecutor(store, broadcaster, consumer)
	require.NoError(t, executor.Start(context.Background()))

	require.Equal(t, 1, broadcaster.calls)
	require.Len(t, store.statusUpdates, 1)
	update := store.statusUpdates[0]
	require.Equal(t, "tx-1", update.id)
	require.Equal(t, types.RelayStatusConfirmed, update.status)
	require.Equal(t, uint64(21_000), update.gasUsed)
	require.Equal(t, "0xmined", update.settledHash)
}

func TestExecutorFailsRevertedBroadcast(t *testing.T) {
	store := &executorStore{record: pendingRecord("tx-2")}
	broadcaster := &fakeBroadcaster{hash: "0xreverted", gasUsed: 30_000, err: errors.New("relay transaction reverted")}
	consumer := &fakeConsumer{items: []*types.WorkItem{{TransactionID: "tx-2"}}}

	executor := relayer.NewExecutor(store, broadcaster, consumer)
	require.NoError(t, executor.Start(context.Background()))

	require.Len(t, store.statusUpdates, 1)
	require.Equal(t, types.RelayStatusFailed, store.statusUpdates[0].status)
}

func TestExecutorLeavesPendingOnTransientFailure(t *testing.T) {
	store := &executorStore{record: pendingRecord("tx-3")}
	broadcaster := &fakeBroadcaster{err: fmt.Errorf("%w: rpc down", types.ErrUpstreamFailure)}
	consumer := &fakeConsumer{items: []*types.WorkItem{{TransactionID: "tx-3"}}}

	executor := relayer.NewExecutor(store, broadcaster, consumer)
	require.NoError(t, executor.Start(context.Background()))

	require.Empty(t, store.statusUpdates, "transient failures must not settle the row")
	require.Len(t, consumer.errs, 1)
	require.ErrorIs(t, consumer.errs[0], types.ErrUpstreamFailure)
}

func TestExecutorSkipsSettledRedelivery(t *testing.T) {
	record := pendingRecord("tx-4")
	record.Status = int(types.RelayStatusConfirmed)
	store := &executorStore{record: record}
	broadcaster := &fakeBroadcaster{}
	consumer := &fakeConsumer{items: []*types.WorkItem{{TransactionID: "tx-4"}}}

	executor := relayer.NewExecutor(store, broadcaster, consumer)
	require.NoError(t, executor.Start(context.Background()))

	require.Zero(t, broadcaster.calls)
	require.Empty(t, store.statusUpdates)
	require.NoError(t, consumer.errs[0])
}
