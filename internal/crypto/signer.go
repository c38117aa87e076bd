package crypto

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/convbot/internal/domain"
)

// TxSigner signs dynamic-fee transactions with a local key.
type TxSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	signer     types.Signer
}

var _ domain.Signer = (*TxSigner)(nil)

// NewTxSigner creates a TxSigner for chainID.
func NewTxSigner(pk *ecdsa.PrivateKey, chainID *big.Int) *TxSigner {
	return &TxSigner{
		privateKey: pk,
		address:    ethcrypto.PubkeyToAddress(pk.PublicKey),
		signer:     types.LatestSignerForChainID(chainID),
	}
}

// Address returns the sender address.
func (s *TxSigner) Address() common.Address { return s.address }

// Sign builds, signs and encodes req.
func (s *TxSigner) Sign(_ context.Context, req domain.UnsignedRequest) (domain.SignedRequest, error) {
	if req.From != (common.Address{}) && req.From != s.address {
		return domain.SignedRequest{}, fmt.Errorf("crypto/signer: request from %s, key is %s: %w", req.From.Hex(), s.address.Hex(), domain.ErrSigningFailed)
	}
	to := req.To
	tx, err := types.SignNewTx(s.privateKey, s.signer, &types.DynamicFeeTx{
		ChainID:   req.ChainID,
		Nonce:     req.Nonce,
		GasTipCap: req.MaxPriorityFeePerGas,
		GasFeeCap: req.MaxFeePerGas,
		Gas:       req.Gas,
		To:        &to,
		Value:     new(big.Int),
		Data:      req.Data,
	})
	if err != nil {
		return domain.SignedRequest{}, fmt.Errorf("crypto/signer: %w: %v", domain.ErrSigningFailed, err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return domain.SignedRequest{}, fmt.Errorf("crypto/signer: encode: %w", err)
	}
	return domain.SignedRequest{Raw: raw, Hash: tx.Hash(), Nonce: req.Nonce}, nil
}
