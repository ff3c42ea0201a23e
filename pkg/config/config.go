// Package config loads the engine's network and filter manifest: which
// chains to talk to, and which sources (filter + network pairing) to
// sync. Generalized from the teacher's single-chain, single-contract-pair
// chains.json into the multi-network, multi-contract, multi-filter-kind
// shape the sync engine's filter model supports (spec.md §6).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/chainindex/syncengine/internal/rawstore"
	"github.com/chainindex/syncengine/pkg/models"
)

// NetworkConfig holds per-network RPC and sync tuning.
type NetworkConfig struct {
	ChainID                  uint64   `json:"chainId"`
	RPCUrls                  []string `json:"rpcUrls"`
	WSUrls                   []string `json:"wsUrls"`
	Confirmations            int      `json:"confirmations"`
	FinalityDepth            uint64   `json:"finalityDepth"`
	PollInterval             Duration `json:"pollInterval"`
	MaxRpcRequestConcurrency int      `json:"maxRpcRequestConcurrency"`
}

// DatabaseConfig selects the raw store backend.
type DatabaseConfig struct {
	Backend        rawstore.Backend `json:"backend"`
	DSN            string           `json:"dsn"`
	LocalCachePath string           `json:"localCachePath"` // bbolt RPC memo, dev/single-node fallback
}

// AddressConfig models `Address | [Address] | Factory` at the config
// layer; exactly one of Single, List or Factory should be set.
type AddressConfig struct {
	Single  string         `json:"address,omitempty"`
	List    []string       `json:"addresses,omitempty"`
	Factory *FactoryConfig `json:"factory,omitempty"`
}

// FactoryConfig configures a dynamic address set sourced from a prior
// log's decoded child address.
type FactoryConfig struct {
	Address              string `json:"address"`
	EventSelector        string `json:"eventSelector"`
	ChildAddressLocation string `json:"childAddressLocation"`
}

// FilterConfig is the JSON form of models.Filter's tagged union.
type FilterConfig struct {
	Kind      models.FilterKind `json:"kind"`
	FromBlock uint64            `json:"fromBlock"`
	ToBlock   *uint64           `json:"toBlock,omitempty"`

	// log
	Address         *AddressConfig `json:"address,omitempty"`
	Topics          [][]string     `json:"topics,omitempty"`
	IncludeReceipts bool           `json:"includeReceipts,omitempty"`

	// block
	Interval uint64 `json:"interval,omitempty"`
	Offset   uint64 `json:"offset,omitempty"`

	// callTrace
	FromAddress       []string       `json:"fromAddress,omitempty"`
	ToAddress         *AddressConfig `json:"toAddress,omitempty"`
	FunctionSelectors []string       `json:"functionSelectors,omitempty"`
}

// SourceConfig names a filter within a network.
type SourceConfig struct {
	Name    string       `json:"name"`
	Network string       `json:"network"`
	Filter  FilterConfig `json:"filter"`
}

// Config is the full manifest: every configured network and source.
type Config struct {
	Networks map[string]NetworkConfig `json:"networks"`
	Database DatabaseConfig           `json:"database"`
	Sources  []SourceConfig           `json:"sources"`
}

// LoadConfig reads and parses the manifest at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Network looks up a configured network by name.
func (c *Config) Network(name string) (NetworkConfig, error) {
	n, ok := c.Networks[name]
	if !ok {
		return NetworkConfig{}, fmt.Errorf("config: network %q not configured", name)
	}
	return n, nil
}

// BuildSources resolves every configured source into its models.Source
// form, assigning each a stable FilterIndex by declaration order (spec.md
// §4.6's ordering tie-breaker).
func (c *Config) BuildSources() ([]models.Source, error) {
	sources := make([]models.Source, 0, len(c.Sources))
	for i, sc := range c.Sources {
		network, err := c.Network(sc.Network)
		if err != nil {
			return nil, fmt.Errorf("config: source %q: %w", sc.Name, err)
		}
		filter, err := sc.Filter.build(network.ChainID)
		if err != nil {
			return nil, fmt.Errorf("config: source %q: %w", sc.Name, err)
		}
		sources = append(sources, models.Source{
			FilterIndex: i,
			Name:        sc.Name,
			Network:     sc.Network,
			Filter:      filter,
		})
	}
	return sources, nil
}

func (fc FilterConfig) build(chainID uint64) (models.Filter, error) {
	switch fc.Kind {
	case models.FilterKindLog:
		addr, err := fc.Address.build()
		if err != nil {
			return nil, err
		}
		var topics [4]models.TopicSlot
		for i := 0; i < len(fc.Topics) && i < 4; i++ {
			hashes := make([]common.Hash, len(fc.Topics[i]))
			for j, h := range fc.Topics[i] {
				hashes[j] = common.HexToHash(h)
			}
			topics[i] = models.NewTopicSlot(hashes...)
		}
		return &models.LogFilter{
			ChainID: chainID, FromBlock: fc.FromBlock, ToBlock: fc.ToBlock,
			Address: addr, Topics: topics, IncludeReceipts: fc.IncludeReceipts,
		}, nil

	case models.FilterKindBlock:
		return &models.BlockFilter{
			ChainID: chainID, FromBlock: fc.FromBlock, ToBlock: fc.ToBlock,
			Interval: fc.Interval, Offset: fc.Offset,
		}, nil

	case models.FilterKindCallTrace:
		toAddr, err := fc.ToAddress.build()
		if err != nil {
			return nil, err
		}
		from := make([]common.Address, len(fc.FromAddress))
		for i, a := range fc.FromAddress {
			from[i] = common.HexToAddress(a)
		}
		return &models.CallTraceFilter{
			ChainID: chainID, FromBlock: fc.FromBlock, ToBlock: fc.ToBlock,
			FromAddress: from, ToAddress: toAddr, FunctionSelectors: fc.FunctionSelectors,
		}, nil

	default:
		return nil, fmt.Errorf("unknown filter kind %q", fc.Kind)
	}
}

func (ac *AddressConfig) build() (models.AddressSpec, error) {
	if ac == nil {
		return models.AddressSpec{}, nil
	}
	switch {
	case ac.Factory != nil:
		loc, err := models.ParseChildAddressLocation(ac.Factory.ChildAddressLocation)
		if err != nil {
			return models.AddressSpec{}, err
		}
		return models.AddressSpec{Factory: &models.Factory{
			Address:              common.HexToAddress(ac.Factory.Address),
			EventSelector:        common.HexToHash(ac.Factory.EventSelector),
			ChildAddressLocation: loc,
		}}, nil
	case len(ac.List) > 0:
		list := make([]common.Address, len(ac.List))
		for i, a := range ac.List {
			list[i] = common.HexToAddress(a)
		}
		return models.AddressSpec{List: list}, nil
	case ac.Single != "":
		addr := common.HexToAddress(ac.Single)
		return models.AddressSpec{Single: &addr}, nil
	default:
		return models.AddressSpec{}, nil
	}
}

// Duration unmarshals JSON duration strings ("2s", "500ms") into a
// time.Duration, matching koanf's own duration parsing elsewhere in the
// ambient stack.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
