// Package target binds the contract the bot acts on.
package target

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Contract is the target address and the encoded state-changing call.
type Contract struct {
	Address  common.Address
	Method   string
	calldata []byte
}

// New binds method on address. The method takes no arguments; "buy" and
// "buy()" are equivalent.
func New(address, method string) (*Contract, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("target: invalid address %q", address)
	}
	name := strings.TrimSuffix(strings.TrimSpace(method), "()")
	if name == "" || strings.ContainsAny(name, "(), ") {
		return nil, fmt.Errorf("target: method %q must be a bare name without arguments", method)
	}
	m := abi.NewMethod(name, name, abi.Function, "nonpayable", false, false, abi.Arguments{}, abi.Arguments{})
	return &Contract{
		Address:  common.HexToAddress(address),
		Method:   m.Sig,
		calldata: m.ID,
	}, nil
}

// Calldata returns a copy of the encoded call.
func (c *Contract) Calldata() []byte {
	return append([]byte(nil), c.calldata...)
}
