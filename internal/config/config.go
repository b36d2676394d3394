// Package config loads the closed set of environment variables named in
// SPEC_FULL.md §6 into a typed, validated Config.
package config

import (
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kelseyhightower/envconfig"
)

// Config is the fully validated process configuration. Each environment-read
// field names its environment variable in an explicit envconfig struct tag.
type Config struct {
	L1RPCURL   string `envconfig:"L1_RPC_URL" required:"true"`
	L1ChainIDHex string `envconfig:"L1_CHAIN_ID" required:"true"`
	PrivateKey string `envconfig:"PRIVATE_KEY"`
	L2RPCURL   string `envconfig:"L2_RPC_URL" required:"true"`
	L2ChainIDHex string `envconfig:"L2_CHAIN_ID" required:"true"`

	FacetMagicPrefixHex string `envconfig:"FACET_MAGIC_PREFIX" default:"0x0000000000012345"`

	MaxTxPerBatch      int `envconfig:"MAX_TX_PER_BATCH" default:"500"`
	MaxBatchSizeBytes  int `envconfig:"MAX_BATCH_SIZE" default:"131072"`
	BatchIntervalMS    int `envconfig:"BATCH_INTERVAL_MS" default:"3000"`
	MaxPerSender       int `envconfig:"MAX_PER_SENDER" default:"10"`

	MinGasPriceGwei float64 `envconfig:"MIN_GAS_PRICE" default:"0"`

	BaseFeeMultiplier float64 `envconfig:"BASE_FEE_MULTIPLIER" default:"2"`
	EscalationRate    float64 `envconfig:"ESCALATION_RATE" default:"1.125"`

	MaxPendingTxs int `envconfig:"MAX_PENDING_TXS" default:"10000"`

	DBPath string `envconfig:"DB_PATH" default:"facet-sequencer.db"`
	Port   int    `envconfig:"PORT" default:"8545"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	MetricsEnabled bool `envconfig:"METRICS_ENABLED" default:"true"`
	MetricsPort    int  `envconfig:"METRICS_PORT" default:"6060"`

	UseDABuilder    bool   `envconfig:"USE_DA_BUILDER" default:"false"`
	DABuilderURL    string `envconfig:"DA_BUILDER_URL"`
	ProposerAddress string `envconfig:"PROPOSER_ADDRESS"`

	// Derived/constant fields not read directly from the environment but
	// fixed by spec.md; kept here so every component reads one struct.
	BlockGasLimit uint64 `envconfig:"-"`
	MaxBatchGas   uint64 `envconfig:"-"`
	MaxBatchCount int    `envconfig:"-"`
	OptimalBatchSize int `envconfig:"-"`
	PosterGraceWindow time.Duration `envconfig:"-"`
	PosterTickInterval time.Duration `envconfig:"-"`
	FinalityDepth uint64 `envconfig:"-"`
	StoreBusyTimeout time.Duration `envconfig:"-"`
	RPCTimeout time.Duration `envconfig:"-"`
	UnhealthyConfirmationAge time.Duration `envconfig:"-"`

	L1ChainID *big.Int `envconfig:"-"`
	L2ChainID *big.Int `envconfig:"-"`
	FacetMagicPrefix [8]byte `envconfig:"-"`
}

// Load reads environment variables into a Config, applying the fixed
// defaults from spec.md that are not independently tunable, and validates
// the result. A load failure is fatal at process start-up.
func Load() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	c.BlockGasLimit = 100_000_000
	c.MaxBatchGas = 30_000_000
	c.MaxBatchCount = c.MaxTxPerBatch
	c.OptimalBatchSize = 200
	c.PosterGraceWindow = 45 * time.Second
	c.PosterTickInterval = 10 * time.Second
	c.FinalityDepth = 64
	c.StoreBusyTimeout = 5 * time.Second
	c.RPCTimeout = 30 * time.Second
	c.UnhealthyConfirmationAge = 5 * time.Minute

	if err := c.parseDerived(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &c, nil
}

func (c *Config) parseDerived() error {
	l1, ok := new(big.Int).SetString(strings.TrimPrefix(c.L1ChainIDHex, "0x"), 16)
	if !ok {
		return fmt.Errorf("invalid L1_CHAIN_ID %q", c.L1ChainIDHex)
	}
	c.L1ChainID = l1

	l2, ok := new(big.Int).SetString(strings.TrimPrefix(c.L2ChainIDHex, "0x"), 16)
	if !ok {
		return fmt.Errorf("invalid L2_CHAIN_ID %q", c.L2ChainIDHex)
	}
	c.L2ChainID = l2

	prefix := common.FromHex(c.FacetMagicPrefixHex)
	if len(prefix) != 8 {
		return fmt.Errorf("FACET_MAGIC_PREFIX must be 8 bytes, got %d", len(prefix))
	}
	copy(c.FacetMagicPrefix[:], prefix)
	return nil
}

func (c *Config) validate() error {
	if c.MaxTxPerBatch <= 0 {
		return fmt.Errorf("MAX_TX_PER_BATCH must be positive")
	}
	if c.MaxBatchSizeBytes <= 1000 {
		return fmt.Errorf("MAX_BATCH_SIZE must exceed the 1000-byte framing reserve")
	}
	if c.BatchIntervalMS <= 0 {
		return fmt.Errorf("BATCH_INTERVAL_MS must be positive")
	}
	if c.EscalationRate <= 1.0 {
		return fmt.Errorf("ESCALATION_RATE must exceed 1.0")
	}
	if c.UseDABuilder {
		if c.DABuilderURL == "" {
			return fmt.Errorf("DA_BUILDER_URL is required when USE_DA_BUILDER is set")
		}
		if c.ProposerAddress == "" {
			return fmt.Errorf("PROPOSER_ADDRESS is required when USE_DA_BUILDER is set")
		}
	} else if c.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY is required for direct L1 posting")
	}
	return nil
}

// MaxBatchBytes is the byte budget selection must respect: the configured
// max batch size less the fixed 1000-byte framing reserve (spec.md §4.3).
func (c *Config) MaxBatchBytes() int {
	return c.MaxBatchSizeBytes - 1000
}

// MinBaseFee is MIN_GAS_PRICE expressed in wei.
func (c *Config) MinBaseFee() *big.Int {
	gwei := new(big.Float).SetFloat64(c.MinGasPriceGwei)
	gwei.Mul(gwei, big.NewFloat(1e9))
	wei, _ := gwei.Int(nil)
	return wei
}

// BatchTickInterval is the period of the batch tick, per the Open Question
// in spec.md §9: this implementation ties the tick period and the
// "time since last batch" trigger threshold to the same BATCH_INTERVAL_MS
// value rather than exposing them independently.
func (c *Config) BatchTickInterval() time.Duration {
	return time.Duration(c.BatchIntervalMS) * time.Millisecond
}
