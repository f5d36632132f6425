package db

import (
	"encoding/json"
	"testing"

	"github.com/rawblock/mixcore/pkg/mixtypes"
)

func TestPSDataRoundTripsThroughJSON(t *testing.T) {
	op := mixtypes.Outpoint{Vout: 0}
	want := PSData{
		PSTxs:        map[string]string{"deadbeef": "NEW_DENOMS"},
		PSTxsRemoved: []string{"oldtx"},
		PSDenoms: map[string]mixtypes.Denom{
			op.String(): {Outpoint: op, Address: "addr1", Value: mixtypes.MinDenomVal, Rounds: 2, Confirmed: true},
		},
		PSSpendingDenoms:    map[string]string{},
		DenominateWorkflows: map[string]json.RawMessage{"wfl-1": json.RawMessage(`{"uuid":"wfl-1"}`)},
		KeepAmount:          1000000000,
		MixRounds:           4,
		MaxSessions:         4,
		PSEnabled:           true,
	}

	raw, err := json.Marshal(want)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var got PSData
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if got.PSTxs["deadbeef"] != "NEW_DENOMS" {
		t.Fatalf("got ps_txs %v", got.PSTxs)
	}
	if got.PSDenoms[op.String()].Value != mixtypes.MinDenomVal {
		t.Fatalf("got denom value %v, want MinDenomVal", got.PSDenoms[op.String()].Value)
	}
	if string(got.DenominateWorkflows["wfl-1"]) != `{"uuid":"wfl-1"}` {
		t.Fatalf("got denominate workflow blob %s", got.DenominateWorkflows["wfl-1"])
	}
	if !got.PSEnabled || got.MixRounds != 4 {
		t.Fatalf("got PSEnabled=%v MixRounds=%v", got.PSEnabled, got.MixRounds)
	}
}
