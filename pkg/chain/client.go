package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog/log"

	"github.com/profilerelay/relayer/config"
	"github.com/profilerelay/relayer/pkg/types"
)

const authorizerABI = `[{"name":"hasPermission","type":"function","stateMutability":"view","inputs":[{"name":"profile","type":"address"},{"name":"signer","type":"address"}],"outputs":[{"name":"","type":"bool"}]}]`

const profileABI = `[{"name":"executeRelayCall","type":"function","stateMutability":"payable","inputs":[{"name":"signature","type":"bytes"},{"name":"nonce","type":"uint256"},{"name":"payload","type":"bytes"}],"outputs":[{"name":"","type":"bytes"}]}]`

// EvmClient is the crypto/chain adapter: it recovers signers, answers the
// permission predicate, estimates gas, reads the relayer wallet's on-chain
// transaction count and broadcasts relayed calls.
type EvmClient struct {
	cfg               *config.ChainConfig
	Client            *ethclient.Client
	chainID           *big.Int
	privateKey        *ecdsa.PrivateKey
	relayerAddress    common.Address
	authorizerAddress common.Address
	authorizerAbi     abi.ABI
	profileAbi        abi.ABI
}

func NewEvmClient(cfg *config.ChainConfig) (*EvmClient, error) {
	if cfg == nil || cfg.RPCUrl == "" {
		return nil, fmt.Errorf("chain rpc url is not set")
	}

	ctx := context.Background()
	rpcClient, err := rpc.DialContext(ctx, cfg.RPCUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain rpc %s: %w", cfg.RPCUrl, err)
	}
	client := ethclient.NewClient(rpcClient)

	privateKeyHex, err := cfg.GetRelayerPrivateKey()
	if err != nil {
		return nil, err
	}
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse relayer private key: %w", err)
	}

	authorizerAbi, err := abi.JSON(strings.NewReader(authorizerABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse authorizer abi: %w", err)
	}
	profileAbi, err := abi.JSON(strings.NewReader(profileABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse profile abi: %w", err)
	}

	relayerAddress := crypto.PubkeyToAddress(privateKey.PublicKey)
	log.Info().
		Str("relayer", relayerAddress.Hex()).
		Str("rpc", cfg.RPCUrl).
		Msg("[EvmClient] connected to chain")

	return &EvmClient{
		cfg:               cfg,
		Client:            client,
		chainID:           big.NewInt(cfg.ChainID),
		privateKey:        privateKey,
		relayerAddress:    relayerAddress,
		authorizerAddress: common.HexToAddress(cfg.Authorizer),
		authorizerAbi:     authorizerAbi,
		profileAbi:        profileAbi,
	}, nil
}

func (c *EvmClient) RelayerAddress() common.Address {
	return c.relayerAddress
}

func (c *EvmClient) ChainID() int64 {
	return c.cfg.ChainID
}

// RecoverSigner recovers the signing address of an EIP-191 signature.
func (c *EvmClient) RecoverSigner(message []byte, signature []byte) (common.Address, error) {
	return RecoverSigner(message, signature)
}

// HasPermission asks the authorizer contract whether signer may execute calls
// on behalf of profile.
func (c *EvmClient) HasPermission(ctx context.Context, profile, signer common.Address) (bool, error) {
	input, err := c.authorizerAbi.Pack("hasPermission", profile, signer)
	if err != nil {
		return false, fmt.Errorf("failed to pack hasPermission call: %w", err)
	}

	output, err := c.Client.CallContract(ctx, ethereum.CallMsg{
		To:   &c.authorizerAddress,
		Data: input,
	}, nil)
	if err != nil {
		return false, fmt.Errorf("%w: hasPermission call failed: %v", types.ErrUpstreamFailure, err)
	}

	results, err := c.authorizerAbi.Unpack("hasPermission", output)
	if err != nil {
		return false, fmt.Errorf("failed to unpack hasPermission result: %w", err)
	}
	allowed, ok := results[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected hasPermission result type %T", results[0])
	}
	return allowed, nil
}

// EstimateGas estimates the gas cost of relaying callData to the profile.
func (c *EvmClient) EstimateGas(ctx context.Context, profile common.Address, callNonce *big.Int, callData []byte, signature []byte) (uint64, error) {
	input, err := c.profileAbi.Pack("executeRelayCall", signature, callNonce, callData)
	if err != nil {
		return 0, fmt.Errorf("failed to pack executeRelayCall: %w", err)
	}

	gas, err := c.Client.EstimateGas(ctx, ethereum.CallMsg{
		From: c.relayerAddress,
		To:   &profile,
		Data: input,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", types.ErrGasEstimationFailed, err)
	}
	return gas, nil
}

// GetOnChainNonce reads the wallet's pending transaction count. Used as the
// sequencer fallback when no relay is in flight.
func (c *EvmClient) GetOnChainNonce(ctx context.Context, wallet common.Address) (uint64, error) {
	nonce, err := c.Client.PendingNonceAt(ctx, wallet)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to read on-chain nonce: %v", types.ErrUpstreamFailure, err)
	}
	return nonce, nil
}

// SubmitRelayCall broadcasts the relayed call at the sequenced relayer wallet
// nonce and waits for it to be mined. Returns the broadcast hash, the gas
// actually consumed and whether the call reverted.
func (c *EvmClient) SubmitRelayCall(ctx context.Context, profile common.Address, callNonce *big.Int, callData []byte, signature []byte, relayerNonce uint64) (string, uint64, error) {
	input, err := c.profileAbi.Pack("executeRelayCall", signature, callNonce, callData)
	if err != nil {
		return "", 0, fmt.Errorf("failed to pack executeRelayCall: %w", err)
	}

	gasPrice, err := c.Client.SuggestGasPrice(ctx)
	if err != nil {
		return "", 0, fmt.Errorf("%w: failed to suggest gas price: %v", types.ErrUpstreamFailure, err)
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    relayerNonce,
		To:       &profile,
		Gas:      c.cfg.GasLimit,
		GasPrice: gasPrice,
		Data:     input,
	})
	signedTx, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(c.chainID), c.privateKey)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign relay transaction: %w", err)
	}

	if err := c.Client.SendTransaction(ctx, signedTx); err != nil {
		return "", 0, fmt.Errorf("%w: failed to broadcast relay transaction: %v", types.ErrUpstreamFailure, err)
	}
	log.Info().
		Str("txHash", signedTx.Hash().Hex()).
		Uint64("relayerNonce", relayerNonce).
		Str("profile", profile.Hex()).
		Msg("[EvmClient] broadcast relay call")

	receipt, err := bind.WaitMined(ctx, c.Client, signedTx)
	if err != nil {
		return signedTx.Hash().Hex(), 0, fmt.Errorf("%w: failed waiting for receipt: %v", types.ErrUpstreamFailure, err)
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return signedTx.Hash().Hex(), receipt.GasUsed, fmt.Errorf("relay transaction %s reverted", signedTx.Hash().Hex())
	}
	return signedTx.Hash().Hex(), receipt.GasUsed, nil
}
