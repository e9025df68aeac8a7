package api

import (
	"github.com/profilerelay/relayer/pkg/db/models"
	"github.com/profilerelay/relayer/pkg/types"
)

type ExecuteRelayRequest struct {
	Address   string `json:"address" validate:"required"`
	Nonce     string `json:"nonce" validate:"required"`
	CallData  string `json:"callData" validate:"required"`
	Signature string `json:"signature" validate:"required"`
}

type ExecuteRelayResponse struct {
	SettlementHash string `json:"settlementHash"`
}

type CreateDelegationRequest struct {
	ApproverAddress  string `json:"approverAddress" validate:"required"`
	ApprovedAddress  string `json:"approvedAddress" validate:"required"`
	MonthlyAllowance uint64 `json:"monthlyAllowance" validate:"required,gt=0"`
}

type QuotaStatusResponse struct {
	Used      uint64 `json:"used"`
	Unit      string `json:"unit"`
	Total     uint64 `json:"total"`
	ResetDate int64  `json:"resetDate"`
}

type TransactionResponse struct {
	ID             string `json:"id"`
	ProfileAddress string `json:"profileAddress"`
	CallNonce      string `json:"nonce"`
	ChannelID      int64  `json:"channelId"`
	Status         string `json:"status"`
	RelayerNonce   uint64 `json:"relayerNonce"`
	EstimatedGas   uint64 `json:"estimatedGas"`
	GasUsed        uint64 `json:"gasUsed"`
	SettledHash    string `json:"settledHash"`
	CreatedAt      int64  `json:"createdAt"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func toTransactionResponse(record *models.RelayTransaction) TransactionResponse {
	return TransactionResponse{
		ID:             record.ID,
		ProfileAddress: record.ProfileAddress,
		CallNonce:      record.CallNonce,
		ChannelID:      record.ChannelID,
		Status:         types.RelayStatus(record.Status).String(),
		RelayerNonce:   record.RelayerNonce,
		EstimatedGas:   record.EstimatedGas,
		GasUsed:        record.GasUsed,
		SettledHash:    record.SettledHash,
		CreatedAt:      record.CreatedAt.UnixMilli(),
	}
}
