package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// RecoverSigner recovers the address that produced an EIP-191 personal-sign
// signature over message. The recovery id is accepted in both raw (0/1) and
// legacy (27/28) form.
func RecoverSigner(message []byte, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(signature))
	}

	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pubKey, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// RelayCallMessage builds the canonical byte string a profile key signs to
// authorize a relayed call: chain id, profile address, call nonce and the
// call payload, in fixed-width encoding.
func RelayCallMessage(chainID int64, profile common.Address, callNonce *big.Int, callData []byte) []byte {
	message := make([]byte, 0, 32+common.AddressLength+32+len(callData))
	message = append(message, common.LeftPadBytes(big.NewInt(chainID).Bytes(), 32)...)
	message = append(message, profile.Bytes()...)
	message = append(message, common.LeftPadBytes(callNonce.Bytes(), 32)...)
	message = append(message, callData...)
	return message
}

// QuotaStatusMessage builds the self-signed attestation a profile key signs
// when querying its quota: profile address and a millisecond timestamp.
func QuotaStatusMessage(profile common.Address, timestampMillis int64) []byte {
	message := make([]byte, 0, common.AddressLength+32)
	message = append(message, profile.Bytes()...)
	message = append(message, common.LeftPadBytes(big.NewInt(timestampMillis).Bytes(), 32)...)
	return message
}

// ComputeSettlementHash deterministically identifies the eventual on-chain
// broadcast of a relay request.
func ComputeSettlementHash(profile common.Address, callNonce *big.Int, callData []byte, signature []byte) string {
	hash := crypto.Keccak256(
		profile.Bytes(),
		common.LeftPadBytes(callNonce.Bytes(), 32),
		callData,
		signature,
	)
	return hexutil.Encode(hash)
}
