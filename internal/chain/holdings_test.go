package chain

import (
	"context"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"

	"offset-rewards/internal/telemetry"
	"offset-rewards/internal/voting"
)

func TestRegistryABIRoundTrip(t *testing.T) {
	codes := []uint8{0, 2}
	capacities := []*big.Int{big.NewInt(50000), big.NewInt(120000)}

	packed, err := registryABI.Methods["holdingsOf"].Outputs.Pack(codes, capacities)
	if err != nil {
		t.Fatalf("pack outputs: %v", err)
	}

	outputs, err := registryABI.Unpack("holdingsOf", packed)
	if err != nil {
		t.Fatalf("unpack outputs: %v", err)
	}
	if len(outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(outputs))
	}

	gotCodes, ok := outputs[0].([]uint8)
	if !ok || len(gotCodes) != 2 || gotCodes[0] != 0 || gotCodes[1] != 2 {
		t.Fatalf("unexpected energy codes: %#v", outputs[0])
	}
	gotCaps, ok := outputs[1].([]*big.Int)
	if !ok || len(gotCaps) != 2 || gotCaps[1].Int64() != 120000 {
		t.Fatalf("unexpected capacities: %#v", outputs[1])
	}
}

func TestEnergyCodesCoverKnownTypes(t *testing.T) {
	seen := make(map[telemetry.EnergyType]bool)
	for _, energy := range energyTypeCodes {
		seen[energy] = true
	}
	for _, energy := range telemetry.KnownEnergyTypes() {
		if !seen[energy] {
			t.Fatalf("energy type %s has no registry code", energy)
		}
	}
}

func TestStaticHoldings(t *testing.T) {
	fixed := []voting.AssetHolding{
		{Energy: telemetry.Solar, CapacityKW: decimal.NewFromInt(50)},
	}
	source := &StaticHoldings{Holdings: fixed}

	got, err := source.FetchHoldings(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("FetchHoldings: %v", err)
	}
	if len(got) != 1 || got[0].Energy != telemetry.Solar || !got[0].CapacityKW.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("unexpected holdings: %+v", got)
	}
}
