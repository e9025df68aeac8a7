package config

import (
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
	"github.com/spf13/viper"
)

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type ChainConfig struct {
	ChainID     int64  `mapstructure:"chain_id"`
	RPCUrl      string `mapstructure:"rpc_url"`
	Authorizer  string `mapstructure:"authorizer"`
	PrivateKey  string `mapstructure:"private_key"`
	Mnemonic    string `mapstructure:"mnemonic"`
	WalletIndex uint32 `mapstructure:"wallet_index"`
	GasLimit    uint64 `mapstructure:"gas_limit"`
}

type QueueConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	User       string `mapstructure:"user"`
	Password   string `mapstructure:"password"`
	Queue      string `mapstructure:"queue"`
	RoutingKey string `mapstructure:"routing_key"`
}

type QuotaConfig struct {
	DefaultMonthlyAllowance uint64 `mapstructure:"default_monthly_allowance"`
}

type ApiConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Chain    ChainConfig    `mapstructure:"chain"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Quota    QuotaConfig    `mapstructure:"quota"`
	Api      ApiConfig      `mapstructure:"api"`
}

var GlobalConfig *Config

// LoadEnv loads environment variables into viper. Values from the process
// environment always win over the config file.
func LoadEnv() error {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()

	// A missing .env file is fine outside local development.
	_ = viper.ReadInConfig()
	return nil
}

func Load(configFile string) error {
	var cfg Config

	viper.SetConfigFile(configFile)
	viper.SetConfigType("json")

	if err := viper.MergeInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("error unmarshaling config from %s: %w", configFile, err)
	}

	// DATABASE_URL from the environment overrides the file value.
	if url := viper.GetString("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}

	if cfg.Quota.DefaultMonthlyAllowance == 0 {
		cfg.Quota.DefaultMonthlyAllowance = 650_000
	}
	if cfg.Chain.GasLimit == 0 {
		cfg.Chain.GasLimit = 3_000_000
	}
	if cfg.Api.ListenAddr == "" {
		cfg.Api.ListenAddr = ":8080"
	}

	GlobalConfig = &cfg
	return nil
}

// GetRelayerPrivateKey returns the hex-encoded private key of the relayer
// wallet, either directly from config or derived from a mnemonic.
func (c *ChainConfig) GetRelayerPrivateKey() (string, error) {
	if c.PrivateKey != "" {
		return c.PrivateKey, nil
	}

	if c.Mnemonic != "" {
		wallet, err := hdwallet.NewFromMnemonic(c.Mnemonic)
		if err != nil {
			return "", fmt.Errorf("failed to create wallet from mnemonic: %w", err)
		}

		path := hdwallet.MustParseDerivationPath(fmt.Sprintf("m/44'/60'/0'/0/%d", c.WalletIndex))
		account, err := wallet.Derive(path, true)
		if err != nil {
			return "", fmt.Errorf("failed to derive account: %w", err)
		}

		privateKeyECDSA, err := wallet.PrivateKey(account)
		if err != nil {
			return "", fmt.Errorf("failed to get private key: %w", err)
		}

		return "0x" + hex.EncodeToString(crypto.FromECDSA(privateKeyECDSA)), nil
	}

	return "", fmt.Errorf("no relayer private key configured")
}
