package params

import (
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Config struct {
	// BaseAsset is the quote asset every price is denominated in.
	BaseAsset common.Address
	// Owner is the privileged address allowed to pause, migrate, and
	// sweep the ledger.
	Owner common.Address

	DBPath  string
	APIAddr string
	LogFile string
}

func Default() Config {
	return Config{
		BaseAsset: common.HexToAddress("0x0000000000000000000000000000000000000001"),
		Owner:     common.HexToAddress("0x0000000000000000000000000000000000000002"),
		DBPath:    "data/book.db",
		APIAddr:   ":8080",
		LogFile:   "data/bookd.log",
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("BASE_ASSET"); common.IsHexAddress(v) {
		cfg.BaseAsset = common.HexToAddress(v)
	}
	if v := os.Getenv("OWNER_ADDRESS"); common.IsHexAddress(v) {
		cfg.Owner = common.HexToAddress(v)
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.APIAddr = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	return cfg
}
