package types

import (
	"math/big"
)

type RelayStatus int

const (
	RelayStatusPending RelayStatus = iota
	RelayStatusConfirmed
	RelayStatusFailed
)

func (s RelayStatus) String() string {
	switch s {
	case RelayStatusPending:
		return "PENDING"
	case RelayStatusConfirmed:
		return "CONFIRMED"
	case RelayStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

type PayerKind string

const (
	PayerKindQuota      PayerKind = "quota"
	PayerKindDelegation PayerKind = "delegation"
)

// WorkItem is the hand-off unit between the request path and the asynchronous
// executor. Delivery is at-least-once; the executor must tolerate redelivery.
type WorkItem struct {
	TransactionID string    `json:"transactionId"`
	PayerKind     PayerKind `json:"payerKind"`
	PayerID       uint      `json:"payerId"`
}

// ChannelFromCallNonce extracts the logical channel identifier encoded in the
// high 128 bits of a 256-bit call nonce. The low 64 bits of the shifted value
// are kept; anything wider is truncated.
func ChannelFromCallNonce(callNonce *big.Int) int64 {
	shifted := new(big.Int).Rsh(callNonce, 128)
	return int64(shifted.Uint64())
}
