package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// LoadConfig loads .env and config.json, creating the latter with defaults when missing.
func LoadConfig() error {
	// A missing .env is normal.
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("SUITE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createDefaultConfig()
		}
		return fmt.Errorf("error reading config file: %w", err)
	}

	setDefaults()

	return nil
}

// setDefaults sets default configuration values based on the environment
func setDefaults() {
	env := viper.GetString("ENV")
	if env == "" {
		env = "development"
		viper.Set("ENV", env)
	}

	if env == "production" {
		viper.SetDefault("allowed_origin", "https://community.example.org")
		viper.SetDefault("db_path", "/var/lib/cardano-suite/suite.db")
		viper.SetDefault("log_level", "info")
		viper.SetDefault("network", "mainnet")
	} else {
		viper.SetDefault("allowed_origin", "http://localhost:3000")
		viper.SetDefault("db_path", "./data/suite.db")
		viper.SetDefault("log_level", "debug")
		viper.SetDefault("network", "testnet")
	}

	viper.SetDefault("challenge_ttl", "1h")
	viper.SetDefault("default_action", "verify_membership")
	viper.SetDefault("signature_scheme", "ed25519")
	viper.SetDefault("address_binding", true)
	viper.SetDefault("store_backend", "sqlite")
	viper.SetDefault("api_port", 9004)
	viper.SetDefault("use_https", false)
	viper.SetDefault("cert_file", "server.crt")
	viper.SetDefault("key_file", "server.key")
	viper.SetDefault("jwt_keys_dir", "./jwtkeys")
	viper.SetDefault("admin_token_ttl", "24h")
	viper.SetDefault("sweep_interval", "10m")
	viper.SetDefault("sweep_grace", "24h")
	viper.SetDefault("oracle_url", "https://api.koios.rest/api/v0")
	viper.SetDefault("oracle_timeout", "10s")
	viper.SetDefault("oracle_cache_size", 1024)
	viper.SetDefault("oracle_cache_ttl", "5m")
	viper.SetDefault("ipc_socket", "/tmp/cardano-suite.sock")
	viper.SetDefault("nostr_relays", []string{})
	viper.SetDefault("nostr_private_key", "")
	viper.SetDefault("log_file", "")
}

// createDefaultConfig creates a new configuration file if it doesn't exist
func createDefaultConfig() error {
	setDefaults()

	err := viper.SafeWriteConfig()
	if err != nil {
		if os.IsExist(err) {
			if err = viper.WriteConfig(); err != nil {
				return fmt.Errorf("error writing config file: %w", err)
			}
		} else {
			return fmt.Errorf("error creating config file: %w", err)
		}
	}

	fmt.Println("Created default configuration file")
	return nil
}

// Path returns the configured path for key with "~" expanded.
func Path(key string) string {
	p := viper.GetString(key)
	expanded, err := homedir.Expand(p)
	if err != nil {
		return p
	}
	return expanded
}

// Duration parses key as a duration, falling back to def when unset or malformed.
func Duration(key string, def time.Duration) time.Duration {
	d := viper.GetDuration(key)
	if d <= 0 {
		return def
	}
	return d
}
