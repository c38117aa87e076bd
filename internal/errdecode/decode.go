package errdecode

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/convbot/internal/domain"
)

// GenericReason is reported for failures without structured revert data.
const GenericReason = "generic"

// DecodedFailure is a matched failure with its unpacked parameters.
type DecodedFailure struct {
	Name   string
	Params []any
}

// String renders the failure as name(param1,param2,...).
func (d DecodedFailure) String() string {
	parts := make([]string, len(d.Params))
	for i, p := range d.Params {
		parts[i] = formatParam(p)
	}
	return d.Name + "(" + strings.Join(parts, ",") + ")"
}

// Decode matches the selector of raw against reg and unpacks the rest of the
// payload. It reports false for short, unknown or malformed payloads and
// never panics.
func Decode(raw []byte, reg *Registry) (df DecodedFailure, ok bool) {
	if len(raw) < 4 {
		return DecodedFailure{}, false
	}
	var sel Selector
	copy(sel[:], raw[:4])
	sig, found := reg.Lookup(sel)
	if !found {
		return DecodedFailure{}, false
	}

	defer func() {
		if recover() != nil {
			df, ok = DecodedFailure{}, false
		}
	}()

	params, err := sig.Inputs.Unpack(raw[4:])
	if err != nil {
		return DecodedFailure{}, false
	}
	return DecodedFailure{Name: sig.Name, Params: params}, true
}

// DecodeHex is Decode for a hex string with or without the 0x prefix, in any
// letter case.
func DecodeHex(s string, reg *Registry) (DecodedFailure, bool) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return DecodedFailure{}, false
	}
	return Decode(raw, reg)
}

// Encode builds the revert payload sig would produce for args.
func Encode(sig FailureSignature, args ...any) ([]byte, error) {
	packed, err := sig.Inputs.Pack(args...)
	if err != nil {
		return nil, fmt.Errorf("errdecode: pack %s: %w", sig.Name, err)
	}
	return append(append([]byte{}, sig.Selector[:]...), packed...), nil
}

// Reason turns a call failure into a human readable reason. structured is
// true when err carried revert data. Unknown selectors fall back to the
// node's message, then to the raw payload.
func Reason(err error, reg *Registry) (reason string, structured bool) {
	var callErr *domain.CallError
	if !errors.As(err, &callErr) || !callErr.Structured() {
		return GenericReason, false
	}
	if df, ok := Decode(callErr.Data, reg); ok {
		return df.String(), true
	}
	if callErr.Message != "" {
		return callErr.Message, true
	}
	return "0x" + hex.EncodeToString(callErr.Data), true
}

// IsStandard reports whether raw starts with the compiler's Error(string) or
// Panic(uint256) selector rather than a contract defined failure.
func IsStandard(raw []byte) bool {
	if len(raw) < 4 {
		return false
	}
	return bytes.Equal(raw[:4], StandardError.Selector[:]) || bytes.Equal(raw[:4], StandardPanic.Selector[:])
}

func formatParam(p any) string {
	switch v := p.(type) {
	case *big.Int:
		return v.String()
	case common.Address:
		return v.Hex()
	case []byte:
		return "0x" + hex.EncodeToString(v)
	case [32]byte:
		return "0x" + hex.EncodeToString(v[:])
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
