package signer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

func parseWei(name string, s string) (*big.Int, error) {
	const base10 = 10

	v, ok := new(big.Int).SetString(s, base10)
	if !ok || v.Sign() < 0 {
		return nil, errors.Wrapf(ErrInvalidRequest, "invalid %s %q", name, s)
	}

	return v, nil
}

// signEIP1559Transaction signs an EIP-1559 transaction
func signEIP1559Transaction(req *SignEVMRequest, fromAddress string, privateKey []byte) (*SignEVMResponse, error) {
	if req.ChainID <= 0 {
		return nil, errors.Wrap(ErrInvalidRequest, "chain id must be positive")
	}

	if !common.IsHexAddress(req.To) {
		return nil, errors.Wrapf(ErrInvalidRequest, "invalid recipient %q", req.To)
	}

	ecdsaPrivateKey, err := crypto.ToECDSA(privateKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert private key to ECDSA")
	}

	// the stored address must belong to the decrypted key
	from := crypto.PubkeyToAddress(ecdsaPrivateKey.PublicKey)
	if from != common.HexToAddress(fromAddress) {
		return nil, ErrAddressMismatch
	}

	value, err := parseWei("value", req.Value)
	if err != nil {
		return nil, err
	}

	maxFeePerGas, err := parseWei("maxFeePerGas", req.MaxFeePerGas)
	if err != nil {
		return nil, err
	}

	maxPriorityFeePerGas, err := parseWei("maxPriorityFeePerGas", req.MaxPriorityFeePerGas)
	if err != nil {
		return nil, err
	}

	toAddress := common.HexToAddress(req.To)
	chainID := big.NewInt(req.ChainID)

	//nolint:varnamelen // tx is a common abbreviation for transaction
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     req.Nonce,
		GasTipCap: maxPriorityFeePerGas,
		GasFeeCap: maxFeePerGas,
		Gas:       req.GasLimit,
		To:        &toAddress,
		Value:     value,
		Data:      req.Data,
	})

	signedTx, err := types.SignTx(tx, types.NewLondonSigner(chainID), ecdsaPrivateKey)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}

	txBytes, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal transaction")
	}

	return &SignEVMResponse{
		From:           from.Hex(),
		RawTransaction: txBytes,
		TxHash:         signedTx.Hash().Hex(),
	}, nil
}
