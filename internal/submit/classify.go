// Package submit delivers signed transactions through the public mempool or a
// private relay.
package submit

import (
	"strings"

	"github.com/alanyoungcy/convbot/internal/domain"
)

// txpoolRejections are node responses that share the -32000 code with outages
// but prove the node is serving requests.
var txpoolRejections = []string{
	"already known",
	"nonce too low",
	"replacement transaction underpriced",
	"transaction underpriced",
	"insufficient funds",
	"max fee per gas less than block base fee",
}

func isTxPoolRejection(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, r := range txpoolRejections {
		if strings.Contains(msg, r) {
			return true
		}
	}
	return false
}

// classify wraps err as fatal when the endpoint reports itself unavailable.
func classify(strategy domain.Strategy, err error) error {
	if domain.IsServiceUnavailable(err) && !isTxPoolRejection(err) {
		return &domain.RelayUnavailableError{Strategy: strategy, Err: err}
	}
	return err
}
