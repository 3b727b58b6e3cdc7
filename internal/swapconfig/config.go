// Package swapconfig centralizes the parameters the swap core needs that
// are not negotiated over the wire: the protocol fee destination, the base
// locktime the Maker/Taker CLTV expiries are derived from, and the
// confirmation/timeout budgets. Every tunable used by the core lives here,
// not hardcoded at its point of use.
package swapconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFeeAddressPubKeyHex is the protocol fee destination used in the
// current deployment.
const DefaultFeeAddressPubKeyHex = "03bc2c7ba671bae4a6fc835244c9762b41647b9827d4780a89a949b984a8ddcc06"

// Timing constants fixed by the protocol.
const (
	BasicCommTimeout = 90 * time.Second
	TakerFeeTimeout  = 600 * time.Second
	PaymentTimeout   = 600 * time.Second
	MaxClockSkew     = 60 * time.Second
	TakerFeeDivisor  = 777
)

// ConfirmationWaitBudget is the wall-clock deadline for
// WaitForConfirmations/WaitForTxSpend. A var, not a const, so tests can
// shrink it rather than waiting out the real deadline.
var ConfirmationWaitBudget = 1000 * time.Second

// Config holds the deployment-tunable parameters of the swap core.
type Config struct {
	// FeeAddressPubKeyHex is the hex-encoded 33-byte compressed public key
	// the Taker's dust fee is paid to.
	FeeAddressPubKeyHex string `yaml:"fee_address_pubkey"`

	// LockTimeSeconds is the base lock duration: the Taker's payment lock
	// is StartedAt + LockTimeSeconds, the Maker's StartedAt + 2*LockTimeSeconds.
	LockTimeSeconds uint64 `yaml:"locktime_seconds"`

	// MakerConfirmations/TakerConfirmations are the confirmation counts the
	// counterparty's payment must reach before the payer moves on.
	MakerConfirmations uint32 `yaml:"maker_confirmations"`
	TakerConfirmations uint32 `yaml:"taker_confirmations"`
}

// Default returns the configuration matching the current deployment.
func Default() *Config {
	return &Config{
		FeeAddressPubKeyHex: DefaultFeeAddressPubKeyHex,
		LockTimeSeconds:     3600,
		MakerConfirmations:  1,
		TakerConfirmations:  1,
	}
}

// Load reads a YAML config file, filling any unset field from Default.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.FeeAddressPubKeyHex == "" {
		cfg.FeeAddressPubKeyHex = DefaultFeeAddressPubKeyHex
	}
	if cfg.LockTimeSeconds == 0 {
		cfg.LockTimeSeconds = 3600
	}
	return cfg, nil
}

// TakerFeeAmount computes the integer-division dust fee.
func TakerFeeAmount(takerAmount uint64) uint64 {
	return takerAmount / TakerFeeDivisor
}
