// Package config loads the environment-supplied runtime configuration.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration. All values come from the
// environment (PAYGATE_ prefix, dots become underscores), optionally seeded
// from a config file for local development.
type Config struct {
	ListenAddr    string `mapstructure:"listen_addr" validate:"required"`
	DatabasePath  string `mapstructure:"database_path" validate:"required"`
	Merchant      string `mapstructure:"merchant_address" validate:"required"`
	FeeRecipient  string `mapstructure:"fee_recipient"`
	FeePercentage int    `mapstructure:"fee_percentage" validate:"min=0,max=100"`

	EVM    EVMConfig    `mapstructure:"evm"`
	Solana SolanaConfig `mapstructure:"solana"`
}

// EVMConfig configures the Base payment path. The facilitator URL is
// required; there is deliberately no baked-in production default.
type EVMConfig struct {
	FacilitatorURL string `mapstructure:"facilitator_url" validate:"required,url"`
	APIKeyID       string `mapstructure:"api_key_id"`
	APIKeySecret   string `mapstructure:"api_key_secret"`
	ChainID        int64  `mapstructure:"chain_id"`
}

// SolanaConfig configures the Solana payment path. An empty facilitator URL
// falls back to the documented public default; the RPC endpoint may be
// supplied directly or fetched at runtime from RPCConfigURL so it can rotate
// without a redeploy.
type SolanaConfig struct {
	FacilitatorURL string `mapstructure:"facilitator_url" validate:"omitempty,url"`
	RPCURL         string `mapstructure:"rpc_url" validate:"omitempty,url"`
	RPCConfigURL   string `mapstructure:"rpc_config_url" validate:"omitempty,url"`
}

// Load reads configuration from the environment and validates it.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAYGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("database_path", "paygate.db")
	v.SetDefault("fee_percentage", 5)
	v.SetDefault("evm.chain_id", 8453)

	// viper's AutomaticEnv does not surface env-only keys through Unmarshal
	// unless they are bound explicitly
	for _, key := range []string{
		"listen_addr", "database_path", "merchant_address",
		"fee_recipient", "fee_percentage",
		"evm.facilitator_url", "evm.api_key_id", "evm.api_key_secret", "evm.chain_id",
		"solana.facilitator_url", "solana.rpc_url", "solana.rpc_config_url",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
