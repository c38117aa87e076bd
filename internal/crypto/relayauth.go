package crypto

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// RelayAuth signs relay request bodies for the X-Flashbots-Signature header.
// The key only identifies the searcher to the relay and holds no funds.
type RelayAuth struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewRelayAuth wraps key. A nil key generates a fresh one.
func NewRelayAuth(key *ecdsa.PrivateKey) (*RelayAuth, error) {
	if key == nil {
		var err error
		key, err = ethcrypto.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("crypto/relayauth: generate key: %w", err)
		}
	}
	return &RelayAuth{key: key, address: ethcrypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the searcher identity address.
func (a *RelayAuth) Address() common.Address { return a.address }

// Header returns "address:signature" where the signature is an EIP-191
// personal signature over the hex encoded keccak256 of body.
func (a *RelayAuth) Header(body []byte) (string, error) {
	digest := hexutil.Encode(ethcrypto.Keccak256(body))
	sig, err := ethcrypto.Sign(accounts.TextHash([]byte(digest)), a.key)
	if err != nil {
		return "", fmt.Errorf("crypto/relayauth: sign: %w", err)
	}
	return a.address.Hex() + ":" + hexutil.Encode(sig), nil
}
