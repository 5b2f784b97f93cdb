package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load overlays a .env file and prefixed environment variables onto target.
// prefix is the environment variable prefix (e.g. "RELIC_"); RELIC_WAL_FSYNC
// becomes wal.fsync. Keys not present in either source keep whatever target
// already holds, so callers pass DefaultConfig() in.
func Load(prefix string, target *Config) error {
	v := viper.New()

	// 1. Load from .env file (if exists)
	v.SetConfigFile(".env")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Optional file; parse problems surface during Unmarshal if
			// the same keys arrive via the environment.
		}
	}

	// 2. Load from environment variables. Viper's AutomaticEnv does not
	// cooperate with Unmarshal when keys are not pre-registered, so the
	// environment is walked directly.
	prefixUpper := strings.ToUpper(prefix)
	for _, envStr := range os.Environ() {
		pair := strings.SplitN(envStr, "=", 2)
		key, value := pair[0], pair[1]

		if strings.HasPrefix(key, prefixUpper) {
			// RELIC_WAL_MAXSEGMENTMB -> wal.maxsegmentmb
			propKey := strings.TrimPrefix(key, prefixUpper)
			propKey = strings.ToLower(strings.ReplaceAll(propKey, "_", "."))
			propKey = strings.TrimPrefix(propKey, ".")

			v.Set(propKey, value)
		}
	}

	// 3. Unmarshal into struct
	if err := v.Unmarshal(target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}
