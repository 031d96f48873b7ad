package wasmbridge

import (
	"errors"
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"

	"github.com/CosmWasm/wasmbridge/internal/gas"
	"github.com/CosmWasm/wasmbridge/marshal"
)

// maxMemoryPages is the 4GiB ceiling of a 32-bit linear memory.
const maxMemoryPages = 65536

// GasConfig holds the instrumentation costs.
type GasConfig = gas.Config

// Config holds the settings of a Bridge. The zero value is not usable; start
// from DefaultConfig.
type Config struct {
	// MemoryLimitPages caps the linear memory of every contract instance, in
	// 64KiB pages.
	MemoryLimitPages uint32 `toml:"memory_limit_pages"`
	// CacheSize is the number of compiled modules kept in memory.
	CacheSize int `toml:"cache_size"`
	// PrintDebug logs contract debug output in addition to forwarding it to
	// the environment. This should be false in production environments.
	PrintDebug bool `toml:"print_debug"`
	// Codec names the marshalling codec: "json", "msgpack" or "cbor".
	Codec string `toml:"codec"`
	// LogLevel is a zerolog level name. Only the CLI reads it.
	LogLevel string    `toml:"log_level"`
	Gas      GasConfig `toml:"gas"`
}

// DefaultConfig returns a 32MiB memory limit, a cache of 100 modules and the
// JSON codec.
func DefaultConfig() Config {
	return Config{
		MemoryLimitPages: 512,
		CacheSize:        100,
		Codec:            "json",
		LogLevel:         "info",
		Gas:              gas.DefaultConfig(),
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("load config %s: unknown key %q", path, undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.MemoryLimitPages == 0 || c.MemoryLimitPages > maxMemoryPages {
		return fmt.Errorf("memory_limit_pages must be in [1, %d], got %d", maxMemoryPages, c.MemoryLimitPages)
	}
	if c.CacheSize <= 0 {
		return fmt.Errorf("cache_size must be positive, got %d", c.CacheSize)
	}
	if _, err := marshal.ByName(c.Codec); err != nil {
		return err
	}
	if c.LogLevel != "" {
		if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
			return fmt.Errorf("log_level: %w", err)
		}
	}
	if c.Gas.InstructionCost == 0 {
		return errors.New("gas.instruction_cost must be positive")
	}
	return nil
}

// Level returns the configured log level, info when unset.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}
