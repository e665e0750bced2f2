package signer

import (
	"context"

	"github.com/chapool/custody-engine/internal/wallet"
	"github.com/pkg/errors"
)

var (
	ErrSigningDisabled  = errors.New("signing is disabled")
	ErrUnsupportedChain = errors.New("chain not supported by this signer")
	ErrInvalidRequest   = errors.New("invalid signing request")
	ErrAddressMismatch  = errors.New("stored address does not match the decrypted key")
)

// KeySource resolves a wallet and its decrypted private key.
type KeySource interface {
	GetWallet(ctx context.Context, userID string, currency string) (*wallet.Wallet, error)
	ExportPrivateKey(ctx context.Context, userID string, currency string) ([]byte, error)
}

// Service signs with custodied keys. Keys are decrypted per call and zeroed
// before returning.
type Service interface {
	// SignEVMTransaction signs an EIP-1559 transaction
	SignEVMTransaction(ctx context.Context, req *SignEVMRequest) (*SignEVMResponse, error)

	// SignMessage signs an off-chain message: EIP-191 personal_sign on EVM
	// chains, plain ed25519 on Solana.
	SignMessage(ctx context.Context, req *SignMessageRequest) (*SignMessageResponse, error)
}

// SignEVMRequest represents a request to sign an EVM transaction
type SignEVMRequest struct {
	UserID               string
	Currency             string // any tag served by the ethereum chain, e.g. ETH or USDT
	ChainID              int64  // 1 for Ethereum mainnet, 11155111 for Sepolia, etc.
	To                   string // hex string with 0x prefix
	Value                string // wei, base 10
	GasLimit             uint64
	MaxFeePerGas         string // wei, base 10
	MaxPriorityFeePerGas string // wei, base 10
	Nonce                uint64
	Data                 []byte
}

// SignEVMResponse represents a signed EVM transaction
type SignEVMResponse struct {
	From           string `json:"from"`
	RawTransaction []byte `json:"rawTransaction"` // RLP / typed envelope
	TxHash         string `json:"txHash"`
}

type SignMessageRequest struct {
	UserID   string
	Currency string
	Message  []byte
}

type SignMessageResponse struct {
	Address   string `json:"address"`
	Signature []byte `json:"signature"`
}
