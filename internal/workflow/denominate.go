package workflow

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/rawblock/mixcore/internal/denomstore"
	"github.com/rawblock/mixcore/pkg/mixtypes"
)

// ErrNoSuitableDenoms is returned when no eligible denom of the requested
// value exists to start a denominate workflow.
var ErrNoSuitableDenoms = fmt.Errorf("workflow: %w: no suitable denoms for denominate session", ErrNotEnoughFunds)

// SelectDenominateInputs implements spec §4.6.4's selection rule: up to
// PrivateSendEntryMaxSize denoms of exactly value, each from a distinct
// parent transaction, each confirmed or InstantSend-locked, each with
// rounds < mixRounds, each with an address present in the keypair cache.
// On a hardware-keystore wallet, denoms whose address lives on the main
// keystore (never moved to the PS keystore) are skipped — the mixing
// session only spends PS-keystore coins.
func SelectDenominateInputs(store *denomstore.Store, value mixtypes.Amount, isHWKeystore bool, isPSKeystoreAddr func(address string) bool, inKeypairCache func(address string) bool) []mixtypes.Denom {
	candidates := store.DenomsToMix()

	keys := make([]string, 0, len(candidates))
	for k := range candidates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seenParent := make(map[chainhash.Hash]bool)
	var selected []mixtypes.Denom
	for _, k := range keys {
		d := candidates[k]
		if d.Value != value {
			continue
		}
		if !d.Confirmed && !d.IsLocked {
			continue
		}
		if isHWKeystore && isPSKeystoreAddr != nil && !isPSKeystoreAddr(d.Address) {
			continue
		}
		if inKeypairCache != nil && !inKeypairCache(d.Address) {
			continue
		}
		if seenParent[d.Outpoint.Hash] {
			continue
		}
		selected = append(selected, d)
		seenParent[d.Outpoint.Hash] = true
		if len(selected) == mixtypes.PrivateSendEntryMaxSize {
			break
		}
	}
	return selected
}

// DenominateReserver reserves a fresh output address, routing to the main
// keystore instead of the PS keystore when mainKeystore is true.
type DenominateReserver interface {
	Reserve(tag string, mainKeystore bool) (address string, err error)
}

// DenominateOutputs pairs each reserved output address with whether it was
// forced onto the main keystore, positionally corresponding to Inputs.
type DenominateOutputs struct {
	Addresses []string
	MainKS    []bool
}

// BuildDenominateWorkflow implements spec §4.6.4: locks every selected
// input to a new workflow and reserves one output address per input. An
// input on its last mixing round (rounds == mixRounds-1) is forced onto
// the main keystore on hardware-keystore wallets, since it is about to
// exit PS tracking rather than continue mixing.
func BuildDenominateWorkflow(store *denomstore.Store, inputs []mixtypes.Denom, mixRounds int, isHWKeystore bool, reserver DenominateReserver) (*Workflow, DenominateOutputs, error) {
	if len(inputs) == 0 {
		return nil, DenominateOutputs{}, ErrNoSuitableDenoms
	}

	wf := New(KindDenominate)
	out := DenominateOutputs{
		Addresses: make([]string, len(inputs)),
		MainKS:    make([]bool, len(inputs)),
	}

	for i, d := range inputs {
		if err := store.MarkSpendingDenom(d.Outpoint.String(), wf.UUID); err != nil {
			return nil, DenominateOutputs{}, err
		}
		wf.LockOutpoint(d.Outpoint.String())

		mainKS := isHWKeystore && d.Rounds == mixRounds-1
		addr, err := reserver.Reserve(d.Outpoint.String(), mainKS)
		if err != nil {
			return nil, DenominateOutputs{}, err
		}
		wf.ReserveAddress(store, mixtypes.ReservedAddress{Address: addr, ForChange: false, DataTag: d.Outpoint.String()})
		out.Addresses[i] = addr
		out.MainKS[i] = mainKS
	}

	return wf, out, nil
}

// CalcRoundsForDenominateTx implements spec §4.6.4's round counter rule:
// each output's round is its positionally-corresponding input's round
// plus one. On a hardware-keystore wallet where min and max output rounds
// differ, the highest round values are redirected onto the main-keystore
// output positions (those are exiting PS tracking, so only they should
// carry the session's top round count); positions beyond the number of
// main-keystore outputs keep their computed round via the usual
// positional order.
func CalcRoundsForDenominateTx(isHWKeystore bool, outputMainKS []bool, inputRounds []int) []int {
	outputRounds := make([]int, len(inputRounds))
	for i, r := range inputRounds {
		outputRounds[i] = r + 1
	}
	if !isHWKeystore || len(outputRounds) == 0 {
		return outputRounds
	}

	maxRound, minRound := outputRounds[0], outputRounds[0]
	for _, r := range outputRounds {
		if r > maxRound {
			maxRound = r
		}
		if r < minRound {
			minRound = r
		}
	}
	if minRound >= maxRound {
		return outputRounds
	}

	var mainKSIdxs []int
	for i, main := range outputMainKS {
		if main {
			mainKSIdxs = append(mainKSIdxs, i)
		}
	}
	if len(mainKSIdxs) == 0 {
		return outputRounds
	}

	var maxRoundIdxs []int
	for i, r := range outputRounds {
		if r == maxRound {
			maxRoundIdxs = append(maxRoundIdxs, i)
		}
	}

	res := make([]int, 0, len(outputRounds))
	for _, r := range outputRounds {
		if r < maxRound {
			res = append(res, r)
		}
	}

	for len(maxRoundIdxs) > 0 {
		r := outputRounds[maxRoundIdxs[0]]
		maxRoundIdxs = maxRoundIdxs[1:]
		if len(mainKSIdxs) > 0 {
			i := mainKSIdxs[0]
			mainKSIdxs = mainKSIdxs[1:]
			if i > len(res) {
				i = len(res)
			}
			res = append(res[:i], append([]int{r}, res[i:]...)...)
		} else {
			res = append(res, r)
		}
	}
	return res
}
