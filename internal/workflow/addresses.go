package workflow

import (
	"github.com/btcsuite/btcd/btcutil"

	"github.com/rawblock/mixcore/internal/netcfg"
	"github.com/rawblock/mixcore/internal/wire"
)

// activeParams is the network whose address prefixes this package decodes
// against. Set once at process start via SetNetwork.
var activeParams = netcfg.MainNetParams

// SetNetwork selects which network's address encoding workflow-built
// scripts use. Call once during startup before building any workflow.
func SetNetwork(p netcfg.Params) {
	activeParams = p
}

func decodeAddress(address string) (btcutil.Address, error) {
	return btcutil.DecodeAddress(address, activeParams.Chain)
}

func txidOf(tx *wire.Tx) (string, error) {
	h, err := tx.TxHash()
	if err != nil {
		return "", err
	}
	return h.String(), nil
}
