// Package errdecode maps revert payloads to named failure signatures.
package errdecode

import (
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Selector is the first four bytes of keccak256 of a canonical signature.
type Selector [4]byte

func (s Selector) String() string { return fmt.Sprintf("0x%x", s[:]) }

// FailureSignature describes one custom error a contract can revert with.
type FailureSignature struct {
	Name     string
	Selector Selector
	Inputs   abi.Arguments
}

// Canonical returns the signature in the form used to derive the selector.
func (s FailureSignature) Canonical() string {
	types := make([]string, len(s.Inputs))
	for i, in := range s.Inputs {
		types[i] = in.Type.String()
	}
	return s.Name + "(" + strings.Join(types, ",") + ")"
}

// ParseSignature parses "Name(type1,type2)" into a FailureSignature.
// Tuple parameters are not supported.
func ParseSignature(sig string) (FailureSignature, error) {
	sig = strings.ReplaceAll(strings.TrimSpace(sig), " ", "")
	open := strings.IndexByte(sig, '(')
	if open <= 0 || !strings.HasSuffix(sig, ")") {
		return FailureSignature{}, fmt.Errorf("errdecode: malformed signature %q", sig)
	}
	name := sig[:open]
	params := sig[open+1 : len(sig)-1]

	var inputs abi.Arguments
	if params != "" {
		for i, raw := range strings.Split(params, ",") {
			if strings.ContainsAny(raw, "()") {
				return FailureSignature{}, fmt.Errorf("errdecode: %s: tuple parameters are not supported", name)
			}
			typ, err := abi.NewType(raw, "", nil)
			if err != nil {
				return FailureSignature{}, fmt.Errorf("errdecode: %s: parameter %d: %w", name, i, err)
			}
			inputs = append(inputs, abi.Argument{Name: fmt.Sprintf("arg%d", i), Type: typ})
		}
	}

	fs := FailureSignature{Name: name, Inputs: inputs}
	copy(fs.Selector[:], ethcrypto.Keccak256([]byte(fs.Canonical()))[:4])
	return fs, nil
}

// MustParseSignature is like ParseSignature but panics on error. Intended for
// package-level tables.
func MustParseSignature(sig string) FailureSignature {
	fs, err := ParseSignature(sig)
	if err != nil {
		panic(err)
	}
	return fs
}

// SignaturesFromABI extracts every error entry of a JSON ABI.
func SignaturesFromABI(r io.Reader) ([]FailureSignature, error) {
	parsed, err := abi.JSON(r)
	if err != nil {
		return nil, fmt.Errorf("errdecode: parse abi: %w", err)
	}
	out := make([]FailureSignature, 0, len(parsed.Errors))
	for _, e := range parsed.Errors {
		var sel Selector
		copy(sel[:], e.ID[:4])
		out = append(out, FailureSignature{Name: e.Name, Selector: sel, Inputs: e.Inputs})
	}
	return out, nil
}

// Standard failures emitted by the Solidity compiler.
var (
	StandardError = MustParseSignature("Error(string)")
	StandardPanic = MustParseSignature("Panic(uint256)")
)
