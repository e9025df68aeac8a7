package models

import (
	"gorm.io/gorm"
)

// Quota is a profile's own monthly gas allowance and usage counter. Rows are
// created lazily with the configured default allowance on first touch; the
// profile address doubles as the profile registry.
type Quota struct {
	gorm.Model
	ProfileAddress   string `gorm:"type:varchar(255);uniqueIndex"`
	MonthlyAllowance uint64 `gorm:"type:bigint"`
	Used             uint64 `gorm:"type:bigint;default:0"`
}

// Delegation grants approved_address the right to spend up to
// monthly_allowance gas units against the approver. At most one active
// delegation per ordered (approver, approved) pair.
type Delegation struct {
	gorm.Model
	ApproverAddress  string `gorm:"type:varchar(255);uniqueIndex:idx_approver_approved"`
	ApprovedAddress  string `gorm:"type:varchar(255);uniqueIndex:idx_approver_approved;index"`
	MonthlyAllowance uint64 `gorm:"type:bigint"`
	Used             uint64 `gorm:"type:bigint;default:0"`
}

// RelayTransaction records one relay attempt: the signed authorization, the
// resolved payer, the relayer wallet nonce it was sequenced at and its
// lifecycle state. (call_nonce, channel_id, signer_address) is unique to
// prevent replay of the same signed authorization.
type RelayTransaction struct {
	gorm.Model
	ID                string `gorm:"primaryKey;type:varchar(255)"`
	ProfileAddress    string `gorm:"type:varchar(255);index"`
	CallNonce         string `gorm:"type:varchar(255);uniqueIndex:idx_call_nonce_channel_signer"`
	ChannelID         int64  `gorm:"uniqueIndex:idx_call_nonce_channel_signer"`
	SignerAddress     string `gorm:"type:varchar(255);uniqueIndex:idx_call_nonce_channel_signer"`
	Signature         string `gorm:"type:text"`
	CallData          []byte
	Status            int    `gorm:"default:0"`
	RelayerAddress    string `gorm:"type:varchar(255);index"`
	RelayerNonce      uint64 `gorm:"type:bigint"`
	EstimatedGas      uint64 `gorm:"type:bigint"`
	GasUsed           uint64 `gorm:"type:bigint;default:0"`
	SettledHash       string `gorm:"type:varchar(255)"`
	PayerQuotaID      *uint
	PayerQuota        *Quota `gorm:"foreignKey:PayerQuotaID"`
	PayerDelegationID *uint
	PayerDelegation   *Delegation `gorm:"foreignKey:PayerDelegationID"`
}
