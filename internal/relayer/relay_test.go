package relayer_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/profilerelay/relayer/internal/relayer"
	"github.com/profilerelay/relayer/pkg/chain"
	"github.com/profilerelay/relayer/pkg/db"
	"github.com/profilerelay/relayer/pkg/db/models"
	"github.com/profilerelay/relayer/pkg/types"
)

var (
	testProfile = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testSigner  = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testRelayer = common.HexToAddress("0x3333333333333333333333333333333333333333")
)

type fakeChainClient struct {
	signer       common.Address
	recoverErr   error
	allowed      bool
	permErr      error
	estimatedGas uint64
	estimateErr  error
	onChainNonce uint64
}

func (f *fakeChainClient) RecoverSigner(message, signature []byte) (common.Address, error) {
	return f.signer, f.recoverErr
}

func (f *fakeChainClient) HasPermission(ctx context.Context, profile, signer common.Address) (bool, error) {
	return f.allowed, f.permErr
}

func (f *fakeChainClient) EstimateGas(ctx context.Context, profile common.Address, callNonce *big.Int, callData, signature []byte) (uint64, error) {
	return f.estimatedGas, f.estimateErr
}

func (f *fakeChainClient) GetOnChainNonce(ctx context.Context, wallet common.Address) (uint64, error) {
	return f.onChainNonce, nil
}

func (f *fakeChainClient) RelayerAddress() common.Address { return testRelayer }

func (f *fakeChainClient) ChainID() int64 { return 42 }

type fakeStore struct {
	createParams   []db.CreateTransactionParams
	createErr      error
	payerQuota     *uint
	payerDelegated *uint
	quotaStatus    *db.QuotaStatusResult
	transactions   []models.RelayTransaction
}

func (f *fakeStore) CreateRelayTransaction(ctx context.Context, params db.CreateTransactionParams) (*models.RelayTransaction, error) {
	f.createParams = append(f.createParams, params)
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &models.RelayTransaction{
		ID:                params.ID,
		ProfileAddress:    params.ProfileAddress,
		RelayerNonce:      params.OnChainNonce,
		PayerQuotaID:      f.payerQuota,
		PayerDelegationID: f.payerDelegated,
	}, nil
}

func (f *fakeStore) ComputeAvailableQuota(ctx context.Context, profileAddress string) (*db.QuotaStatusResult, error) {
	return f.quotaStatus, nil
}

func (f *fakeStore) FindTransactionByID(ctx context.Context, id string) (*models.RelayTransaction, error) {
	return nil, errors.New("not found")
}

func (f *fakeStore) FindTransactionsByProfile(ctx context.Context, profileAddress string, limit int) ([]models.RelayTransaction, error) {
	return f.transactions, nil
}

func (f *fakeStore) UpdateTransactionStatus(ctx context.Context, id string, status types.RelayStatus, gasUsed uint64, settledHash string) error {
	return nil
}

func (f *fakeStore) CreateDelegation(ctx context.Context, approverAddress, approvedAddress string, monthlyAllowance uint64) (*models.Delegation, error) {
	return &models.Delegation{
		ApproverAddress:  approverAddress,
		ApprovedAddress:  approvedAddress,
		MonthlyAllowance: monthlyAllowance,
	}, nil
}

type fakePublisher struct {
	items      []*types.WorkItem
	publishErr error
}

func (f *fakePublisher) Publish(ctx context.Context, item *types.WorkItem) error {
	f.items = append(f.items, item)
	return f.publishErr
}

func newTestService(chainClient *fakeChainClient, store *fakeStore, publisher *fakePublisher) *relayer.Service {
	return relayer.NewServiceWithDeps(store, chainClient, publisher)
}

func validRelayRequest() *relayer.ExecuteRelayRequest {
	nonce := new(big.Int).Lsh(big.NewInt(2), 128)
	nonce.Or(nonce, big.NewInt(1))
	return &relayer.ExecuteRelayRequest{
		ProfileAddress: testProfile.Hex(),
		CallNonce:      nonce,
		CallData:       []byte{0xca, 0xfe},
		Signature:      make([]byte, 65),
	}
}

func TestExecuteRelayValidatesArguments(t *testing.T) {
	service := newTestService(&fakeChainClient{}, &fakeStore{}, &fakePublisher{})

	tests := []struct {
		name   string
		mutate func(req *relayer.ExecuteRelayRequest)
	}{
		{"empty profile", func(req *relayer.ExecuteRelayRequest) { req.ProfileAddress = "" }},
		{"malformed profile", func(req *relayer.ExecuteRelayRequest) { req.ProfileAddress = "not-an-address" }},
		{"nil nonce", func(req *relayer.ExecuteRelayRequest) { req.CallNonce = nil }},
		{"empty call data", func(req *relayer.ExecuteRelayRequest) { req.CallData = nil }},
		{"empty signature", func(req *relayer.ExecuteRelayRequest) { req.Signature = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRelayRequest()
			tt.mutate(req)
			_, err := service.ExecuteRelay(context.Background(), req)
			require.ErrorIs(t, err, types.ErrInvalidArgument)
		})
	}
}

func TestExecuteRelayRejectsUnrecoverableSignature(t *testing.T) {
	chainClient := &fakeChainClient{recoverErr: errors.New("bad signature")}
	store := &fakeStore{}
	service := newTestService(chainClient, store, &fakePublisher{})

	_, err := service.ExecuteRelay(context.Background(), validRelayRequest())
	require.ErrorIs(t, err, types.ErrUnauthorized)
	require.Empty(t, store.createParams, "no mutation before authorization")
}

func TestExecuteRelayRejectsSignerWithoutPermission(t *testing.T) {
	chainClient := &fakeChainClient{signer: testSigner, allowed: false}
	store := &fakeStore{}
	service := newTestService(chainClient, store, &fakePublisher{})

	_, err := service.ExecuteRelay(context.Background(), validRelayRequest())
	require.ErrorIs(t, err, types.ErrUnauthorized)
	require.Empty(t, store.createParams)
}

func TestExecuteRelayPropagatesGasEstimationFailure(t *testing.T) {
	chainClient := &fakeChainClient{
		signer:      testSigner,
		allowed:     true,
		estimateErr: types.ErrGasEstimationFailed,
	}
	store := &fakeStore{}
	service := newTestService(chainClient, store, &fakePublisher{})

	_, err := service.ExecuteRelay(context.Background(), validRelayRequest())
	require.ErrorIs(t, err, types.ErrGasEstimationFailed)
	require.Empty(t, store.createParams)
}

func TestExecuteRelayHappyPath(t *testing.T) {
	quotaID := uint(11)
	chainClient := &fakeChainClient{
		signer:       testSigner,
		allowed:      true,
		estimatedGas: 21_000,
		onChainNonce: 5,
	}
	store := &fakeStore{payerQuota: &quotaID}
	publisher := &fakePublisher{}
	service := newTestService(chainClient, store, publisher)

	req := validRelayRequest()
	hash, err := service.ExecuteRelay(context.Background(), req)
	require.NoError(t, err)

	expectedHash := chain.ComputeSettlementHash(testProfile, req.CallNonce, req.CallData, req.Signature)
	require.Equal(t, expectedHash, hash)

	require.Len(t, store.createParams, 1)
	params := store.createParams[0]
	require.Equal(t, testProfile.Hex(), params.ProfileAddress)
	require.Equal(t, testSigner.Hex(), params.SignerAddress)
	require.Equal(t, testRelayer.Hex(), params.RelayerAddress)
	require.Equal(t, int64(2), params.ChannelID)
	require.Equal(t, uint64(21_000), params.EstimatedGas)
	require.Equal(t, uint64(5), params.OnChainNonce)

	require.Len(t, publisher.items, 1)
	require.Equal(t, types.PayerKindQuota, publisher.items[0].PayerKind)
	require.Equal(t, quotaID, publisher.items[0].PayerID)
}

func TestExecuteRelayPublishesDelegationPayer(t *testing.T) {
	delegationID := uint(7)
	chainClient := &fakeChainClient{signer: testSigner, allowed: true, estimatedGas: 100}
	store := &fakeStore{payerDelegated: &delegationID}
	publisher := &fakePublisher{}
	service := newTestService(chainClient, store, publisher)

	_, err := service.ExecuteRelay(context.Background(), validRelayRequest())
	require.NoError(t, err)
	require.Len(t, publisher.items, 1)
	require.Equal(t, types.PayerKindDelegation, publisher.items[0].PayerKind)
	require.Equal(t, delegationID, publisher.items[0].PayerID)
}

func TestExecuteRelayRejectsRecordWithoutPayer(t *testing.T) {
	chainClient := &fakeChainClient{signer: testSigner, allowed: true, estimatedGas: 100}
	store := &fakeStore{} // neither payer field set
	publisher := &fakePublisher{}
	service := newTestService(chainClient, store, publisher)

	_, err := service.ExecuteRelay(context.Background(), validRelayRequest())
	require.Error(t, err)
	require.Empty(t, publisher.items)
}

func TestExecuteRelaySurfacesQuotaExceeded(t *testing.T) {
	chainClient := &fakeChainClient{signer: testSigner, allowed: true, estimatedGas: 100}
	store := &fakeStore{createErr: types.ErrQuotaExceeded}
	publisher := &fakePublisher{}
	service := newTestService(chainClient, store, publisher)

	_, err := service.ExecuteRelay(context.Background(), validRelayRequest())
	require.ErrorIs(t, err, types.ErrQuotaExceeded)
	require.Empty(t, publisher.items)
}

func TestGetQuotaStatusRejectsStaleTimestamp(t *testing.T) {
	chainClient := &fakeChainClient{signer: testSigner, allowed: true}
	service := newTestService(chainClient, &fakeStore{}, &fakePublisher{})

	req := &relayer.QuotaStatusRequest{
		ProfileAddress:  testProfile.Hex(),
		TimestampMillis: time.Now().Add(-6 * time.Second).UnixMilli(),
		Signature:       make([]byte, 65),
	}
	_, err := service.GetQuotaStatus(context.Background(), req)
	require.ErrorIs(t, err, types.ErrStaleTimestamp)

	req.TimestampMillis = time.Now().Add(6 * time.Second).UnixMilli()
	_, err = service.GetQuotaStatus(context.Background(), req)
	require.ErrorIs(t, err, types.ErrStaleTimestamp)
}

func TestGetQuotaStatusHappyPath(t *testing.T) {
	chainClient := &fakeChainClient{signer: testSigner, allowed: true}
	store := &fakeStore{quotaStatus: &db.QuotaStatusResult{Used: 1_000, Total: 660_000}}
	service := newTestService(chainClient, store, &fakePublisher{})

	req := &relayer.QuotaStatusRequest{
		ProfileAddress:  testProfile.Hex(),
		TimestampMillis: time.Now().UnixMilli(),
		Signature:       make([]byte, 65),
	}
	status, err := service.GetQuotaStatus(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), status.Used)
	require.Equal(t, uint64(660_000), status.Total)
	require.Equal(t, "gas", status.Unit)
	require.Greater(t, status.ResetDate, time.Now().UnixMilli())
}

func TestGetQuotaStatusRejectsUnauthorizedSigner(t *testing.T) {
	chainClient := &fakeChainClient{signer: testSigner, allowed: false}
	service := newTestService(chainClient, &fakeStore{}, &fakePublisher{})

	req := &relayer.QuotaStatusRequest{
		ProfileAddress:  testProfile.Hex(),
		TimestampMillis: time.Now().UnixMilli(),
		Signature:       make([]byte, 65),
	}
	_, err := service.GetQuotaStatus(context.Background(), req)
	require.ErrorIs(t, err, types.ErrUnauthorized)
}

func TestListTransactionsValidatesAddress(t *testing.T) {
	service := newTestService(&fakeChainClient{}, &fakeStore{}, &fakePublisher{})
	_, err := service.ListTransactions(context.Background(), "nope", 10)
	require.ErrorIs(t, err, types.ErrInvalidArgument)
}

func TestCreateDelegationValidatesInputs(t *testing.T) {
	service := newTestService(&fakeChainClient{}, &fakeStore{}, &fakePublisher{})

	_, err := service.CreateDelegation(context.Background(), "bad", testProfile.Hex(), 100)
	require.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = service.CreateDelegation(context.Background(), testProfile.Hex(), "bad", 100)
	require.ErrorIs(t, err, types.ErrInvalidArgument)

	_, err = service.CreateDelegation(context.Background(), testProfile.Hex(), testSigner.Hex(), 0)
	require.ErrorIs(t, err, types.ErrInvalidArgument)
}
