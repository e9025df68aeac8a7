package relayer

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/profilerelay/relayer/pkg/db"
	"github.com/profilerelay/relayer/pkg/db/models"
	"github.com/profilerelay/relayer/pkg/types"
)

// ChainClient is the crypto/chain adapter the orchestrator consumes. It is
// treated as an external cryptographic primitive.
type ChainClient interface {
	RecoverSigner(message []byte, signature []byte) (common.Address, error)
	HasPermission(ctx context.Context, profile, signer common.Address) (bool, error)
	EstimateGas(ctx context.Context, profile common.Address, callNonce *big.Int, callData []byte, signature []byte) (uint64, error)
	GetOnChainNonce(ctx context.Context, wallet common.Address) (uint64, error)
	RelayerAddress() common.Address
	ChainID() int64
}

// Store is the durable quota/delegation/transaction ledger.
type Store interface {
	CreateRelayTransaction(ctx context.Context, params db.CreateTransactionParams) (*models.RelayTransaction, error)
	ComputeAvailableQuota(ctx context.Context, profileAddress string) (*db.QuotaStatusResult, error)
	FindTransactionByID(ctx context.Context, id string) (*models.RelayTransaction, error)
	FindTransactionsByProfile(ctx context.Context, profileAddress string, limit int) ([]models.RelayTransaction, error)
	UpdateTransactionStatus(ctx context.Context, id string, status types.RelayStatus, gasUsed uint64, settledHash string) error
	CreateDelegation(ctx context.Context, approverAddress, approvedAddress string, monthlyAllowance uint64) (*models.Delegation, error)
}

// Publisher hands work items to the asynchronous executor, at-least-once.
type Publisher interface {
	Publish(ctx context.Context, item *types.WorkItem) error
}

type ExecuteRelayRequest struct {
	ProfileAddress string
	CallNonce      *big.Int
	CallData       []byte
	Signature      []byte
}

type QuotaStatusRequest struct {
	ProfileAddress  string
	TimestampMillis int64
	Signature       []byte
}

type QuotaStatusResponse struct {
	Used      uint64
	Unit      string
	Total     uint64
	ResetDate int64
}
