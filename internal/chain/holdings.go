package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"offset-rewards/internal/telemetry"
	"offset-rewards/internal/voting"
)

const (
	registryABIJSON = `[{"inputs":[{"internalType":"address","name":"owner","type":"address"}],"name":"holdingsOf","outputs":[{"internalType":"uint8[]","name":"energyTypes","type":"uint8[]"},{"internalType":"uint256[]","name":"capacities","type":"uint256[]"}],"stateMutability":"view","type":"function"}]`
)

var registryABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(registryABIJSON))
	if err != nil {
		panic("failed to parse asset registry ABI: " + err.Error())
	}
	registryABI = parsed
}

// Capacities come back in watts; holdings are expressed in kW.
var wattsPerKW = decimal.NewFromInt(1000)

// energyTypeCodes maps the registry contract's enum to telemetry tags.
var energyTypeCodes = map[uint8]telemetry.EnergyType{
	0: telemetry.Solar,
	1: telemetry.Wind,
	2: telemetry.Geothermal,
	3: telemetry.Hydroelectric,
	4: telemetry.Battery,
}

// HoldingsSource supplies the current asset holdings for a user on
// demand. Staleness is the caller's responsibility.
type HoldingsSource interface {
	FetchHoldings(ctx context.Context, userAddress string) ([]voting.AssetHolding, error)
}

// RegistryOptions parameterise the on-chain holdings fetcher.
type RegistryOptions struct {
	RPCURL          string
	RegistryAddress string
	Timeout         time.Duration
}

// Registry reads asset holdings from the marketplace registry contract.
type Registry struct {
	opts      RegistryOptions
	logger    zerolog.Logger
	client    *ethclient.Client
	clientMux sync.Mutex
}

// NewRegistry builds an on-chain holdings fetcher.
func NewRegistry(opts RegistryOptions, logger zerolog.Logger) *Registry {
	return &Registry{opts: opts, logger: logger.With().Str("component", "holdings_registry").Logger()}
}

// FetchHoldings calls the registry's holdingsOf view for the address.
// Holdings with an unrecognised energy code are dropped with a warning.
func (r *Registry) FetchHoldings(ctx context.Context, userAddress string) ([]voting.AssetHolding, error) {
	if r.opts.RPCURL == "" {
		return nil, errors.New("ethereum rpc url not configured")
	}
	if r.opts.RegistryAddress == "" {
		return nil, errors.New("asset registry address not configured")
	}

	timeout := r.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	var cancel context.CancelFunc
	ctx, cancel = context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := r.getClient(ctx)
	if err != nil {
		return nil, err
	}

	contractAddr := common.HexToAddress(r.opts.RegistryAddress)
	owner := common.HexToAddress(userAddress)

	payload, err := registryABI.Pack("holdingsOf", owner)
	if err != nil {
		return nil, err
	}

	res, err := client.CallContract(ctx, ethereum.CallMsg{To: &contractAddr, Data: payload}, nil)
	if err != nil {
		return nil, err
	}

	outputs, err := registryABI.Unpack("holdingsOf", res)
	if err != nil {
		return nil, err
	}
	if len(outputs) != 2 {
		return nil, errors.New("unexpected holdingsOf response shape")
	}

	codes, ok := outputs[0].([]uint8)
	if !ok {
		return nil, errors.New("failed to decode holdingsOf energy types")
	}
	capacities, ok := outputs[1].([]*big.Int)
	if !ok {
		return nil, errors.New("failed to decode holdingsOf capacities")
	}
	if len(codes) != len(capacities) {
		return nil, fmt.Errorf("holdingsOf arrays disagree: %d types vs %d capacities", len(codes), len(capacities))
	}

	holdings := make([]voting.AssetHolding, 0, len(codes))
	for i, code := range codes {
		energy, known := energyTypeCodes[code]
		if !known {
			r.logger.Warn().Uint8("code", code).Str("owner", userAddress).Msg("dropping holding with unknown energy code")
			continue
		}
		holdings = append(holdings, voting.AssetHolding{
			Energy:     energy,
			CapacityKW: decimal.NewFromBigInt(capacities[i], 0).Div(wattsPerKW),
		})
	}
	return holdings, nil
}

func (r *Registry) getClient(ctx context.Context) (*ethclient.Client, error) {
	r.clientMux.Lock()
	defer r.clientMux.Unlock()

	if r.client != nil {
		return r.client, nil
	}

	client, err := ethclient.DialContext(ctx, r.opts.RPCURL)
	if err != nil {
		return nil, err
	}
	r.client = client
	return client, nil
}

var _ HoldingsSource = (*Registry)(nil)

// StaticHoldings serves a fixed holdings list, used by simulations and
// tests.
type StaticHoldings struct {
	Holdings []voting.AssetHolding
}

// FetchHoldings returns the fixed list regardless of address.
func (s *StaticHoldings) FetchHoldings(ctx context.Context, userAddress string) ([]voting.AssetHolding, error) {
	return s.Holdings, nil
}

var _ HoldingsSource = (*StaticHoldings)(nil)
