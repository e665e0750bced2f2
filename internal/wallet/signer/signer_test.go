package signer_test

import (
	"context"
	"crypto/ed25519"
	"math/big"
	"strings"
	"testing"

	"github.com/chapool/custody-engine/internal/wallet"
	"github.com/chapool/custody-engine/internal/wallet/account/store/memory"
	"github.com/chapool/custody-engine/internal/wallet/address"
	"github.com/chapool/custody-engine/internal/wallet/keystore"
	"github.com/chapool/custody-engine/internal/wallet/seed"
	"github.com/chapool/custody-engine/internal/wallet/signer"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const keyOneAddress = "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"

func newWallets(t *testing.T) wallet.Service {
	t.Helper()

	cipher, err := keystore.NewCipher(make([]byte, keystore.KeySize))
	require.NoError(t, err)

	svc, err := wallet.NewService(memory.New(), seed.NewManager(), address.NewService(nil), cipher, nil, 0)
	require.NoError(t, err)

	_, err = svc.ImportWallet(context.Background(), "u1", wallet.ImportRequest{
		Currency:   "USDT",
		PrivateKey: strings.Repeat("0", 63) + "1",
	})
	require.NoError(t, err)

	return svc
}

func evmRequest() *signer.SignEVMRequest {
	return &signer.SignEVMRequest{
		UserID:               "u1",
		Currency:             "USDT",
		ChainID:              1,
		To:                   "0x2B5AD5c4795c026514f8317c7a215E218DcCD6cF",
		Value:                "1000000000000000",
		GasLimit:             21000,
		MaxFeePerGas:         "30000000000",
		MaxPriorityFeePerGas: "1000000000",
		Nonce:                7,
	}
}

func TestSignEVMTransaction(t *testing.T) {
	s := signer.NewService(newWallets(t), true)

	res, err := s.SignEVMTransaction(context.Background(), evmRequest())
	require.NoError(t, err)
	assert.Equal(t, keyOneAddress, res.From)

	var tx types.Transaction
	require.NoError(t, tx.UnmarshalBinary(res.RawTransaction))
	assert.Equal(t, res.TxHash, tx.Hash().Hex())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, 0, big.NewInt(1000000000000000).Cmp(tx.Value()))

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), &tx)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(keyOneAddress), sender)
}

func TestSignEVMTransactionErrors(t *testing.T) {
	ctx := context.Background()
	wallets := newWallets(t)

	_, err := signer.NewService(wallets, false).SignEVMTransaction(ctx, evmRequest())
	require.ErrorIs(t, err, signer.ErrSigningDisabled)

	s := signer.NewService(wallets, true)

	req := evmRequest()
	req.Value = "-1"
	_, err = s.SignEVMTransaction(ctx, req)
	require.ErrorIs(t, err, signer.ErrInvalidRequest)

	req = evmRequest()
	req.To = "not-an-address"
	_, err = s.SignEVMTransaction(ctx, req)
	require.ErrorIs(t, err, signer.ErrInvalidRequest)

	req = evmRequest()
	req.ChainID = 0
	_, err = s.SignEVMTransaction(ctx, req)
	require.ErrorIs(t, err, signer.ErrInvalidRequest)

	_, err = wallets.ImportWallet(ctx, "u1", wallet.ImportRequest{Currency: "TRX", PrivateKey: strings.Repeat("0", 63) + "1"})
	require.NoError(t, err)

	req = evmRequest()
	req.Currency = "TRX"
	_, err = s.SignEVMTransaction(ctx, req)
	require.ErrorIs(t, err, signer.ErrUnsupportedChain)
}

func TestSignMessageEVM(t *testing.T) {
	s := signer.NewService(newWallets(t), true)
	msg := []byte("custody proof of ownership")

	res, err := s.SignMessage(context.Background(), &signer.SignMessageRequest{UserID: "u1", Currency: "USDT", Message: msg})
	require.NoError(t, err)
	require.Len(t, res.Signature, crypto.SignatureLength)
	assert.Equal(t, keyOneAddress, res.Address)

	sig := append([]byte(nil), res.Signature...)
	sig[crypto.RecoveryIDOffset] -= 27

	pub, err := crypto.SigToPub(accounts.TextHash(msg), sig)
	require.NoError(t, err)
	assert.Equal(t, keyOneAddress, crypto.PubkeyToAddress(*pub).Hex())
}

func TestSignMessageSolana(t *testing.T) {
	ctx := context.Background()
	wallets := newWallets(t)

	seedBytes := make([]byte, ed25519.SeedSize)
	seedBytes[31] = 9
	priv := ed25519.NewKeyFromSeed(seedBytes)

	w, err := wallets.ImportWallet(ctx, "u1", wallet.ImportRequest{Currency: "SOL", PrivateKey: common.Bytes2Hex(seedBytes)})
	require.NoError(t, err)

	s := signer.NewService(wallets, true)
	msg := []byte("hello solana")

	res, err := s.SignMessage(ctx, &signer.SignMessageRequest{UserID: "u1", Currency: "SOL", Message: msg})
	require.NoError(t, err)
	assert.Equal(t, w.Address, res.Address)
	assert.True(t, ed25519.Verify(priv.Public().(ed25519.PublicKey), msg, res.Signature))
}

func TestSignMessageUnsupportedChain(t *testing.T) {
	ctx := context.Background()
	wallets := newWallets(t)

	_, err := wallets.ImportWallet(ctx, "u1", wallet.ImportRequest{Currency: "BTC", PrivateKey: strings.Repeat("0", 63) + "1"})
	require.NoError(t, err)

	_, err = signer.NewService(wallets, true).SignMessage(ctx, &signer.SignMessageRequest{UserID: "u1", Currency: "BTC", Message: []byte("x")})
	require.ErrorIs(t, err, signer.ErrUnsupportedChain)
}
