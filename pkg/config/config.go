package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load fills target from, in increasing priority:
//  1. file (YAML, JSON or TOML, picked by extension), when non-empty
//  2. a .env file in the working directory, when present
//  3. process environment variables starting with prefix
//
// Variables map to nested keys by lower-casing and turning "_" into ".":
// with prefix "CATOPUS_", CATOPUS_WAREHOUSE_HOST sets warehouse.host.
func Load(prefix, file string, target interface{}) error {
	v := viper.New()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	if err := loadDotEnv(v, prefix, ".env"); err != nil {
		return err
	}

	for _, envStr := range os.Environ() {
		key, value, ok := strings.Cut(envStr, "=")
		if !ok {
			continue
		}
		setPrefixed(v, prefix, key, value)
	}

	if err := v.Unmarshal(target); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}

// loadDotEnv applies prefixed entries of an optional dotenv file.
func loadDotEnv(v *viper.Viper, prefix, path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	env := viper.New()
	env.SetConfigFile(path)
	env.SetConfigType("env")
	if err := env.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	// viper lower-cases dotenv keys
	for _, key := range env.AllKeys() {
		setPrefixed(v, prefix, strings.ToUpper(key), env.GetString(key))
	}
	return nil
}

func setPrefixed(v *viper.Viper, prefix, key, value string) {
	prefixUpper := strings.ToUpper(prefix)
	if !strings.HasPrefix(key, prefixUpper) {
		return
	}
	propKey := strings.TrimPrefix(key, prefixUpper)
	propKey = strings.ToLower(strings.ReplaceAll(propKey, "_", "."))
	propKey = strings.TrimPrefix(propKey, ".")
	if propKey == "" {
		return
	}
	v.Set(propKey, value)
}
