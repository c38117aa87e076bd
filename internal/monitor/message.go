package monitor

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/convbot/internal/domain"
)

type headFields struct {
	Number *hexutil.Uint64 `json:"number"`
}

type headMessage struct {
	headFields
	Method string `json:"method"`
	Params *struct {
		Subscription string     `json:"subscription"`
		Result       headFields `json:"result"`
	} `json:"params"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// DecodeHeight extracts the block number from an eth_subscription newHeads
// notification or from a bare header object. ok is false for messages that
// carry no height, such as subscription confirmations.
func DecodeHeight(raw []byte) (h domain.ChainHeight, ok bool, err error) {
	var msg headMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return 0, false, fmt.Errorf("monitor: decode head: %w", err)
	}
	if msg.Error != nil {
		return 0, false, fmt.Errorf("monitor: node error %d: %s", msg.Error.Code, msg.Error.Message)
	}
	switch {
	case msg.Params != nil && msg.Params.Result.Number != nil:
		return domain.ChainHeight(*msg.Params.Result.Number), true, nil
	case msg.Params != nil:
		return 0, false, errors.New("monitor: notification without block number")
	case msg.Number != nil:
		return domain.ChainHeight(*msg.Number), true, nil
	}
	return 0, false, nil
}

// EncodeHeight renders h as a bare header object understood by DecodeHeight.
func EncodeHeight(h domain.ChainHeight) []byte {
	b, _ := json.Marshal(headFields{Number: (*hexutil.Uint64)(&h)})
	return b
}
