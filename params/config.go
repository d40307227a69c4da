// Package params holds node configuration with env-file overrides.
package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Node configures the ledger loop and matching engine.
type Node struct {
	DataDir       string
	APIAddr       string
	BlockInterval time.Duration
	// BookCapacity bounds resting orders per book side; 0 = unbounded.
	BookCapacity int
	// EventSkipBound is how many times the queue head may be skipped
	// before a crank that cannot service it reports the queue stuck.
	EventSkipBound int
	// RequireSignatures makes every owner-bound transaction verify its
	// EIP-712 or message signature. Devnet runs with this off.
	RequireSignatures bool
}

// Market is one market created at startup.
type Market struct {
	Symbol       string
	BaseAsset    string
	QuoteAsset   string
	BaseLotSize  int64
	QuoteLotSize int64
	MakerFeeBps  int64
	TakerFeeBps  int64
}

// Kafka configures the trade feed publisher.
type Kafka struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type Config struct {
	Node    Node
	Markets []Market
	Kafka   Kafka
}

func Default() Config {
	return Config{
		Node: Node{
			DataDir:        "data",
			APIAddr:        ":8080",
			BlockInterval:  200 * time.Millisecond,
			BookCapacity:   1024,
			EventSkipBound: 64,
		},
		Markets: []Market{
			{
				Symbol:       "SOL-USDC",
				BaseAsset:    "SOL",
				QuoteAsset:   "USDC",
				BaseLotSize:  100,
				QuoteLotSize: 10,
				MakerFeeBps:  2,
				TakerFeeBps:  0,
			},
		},
		Kafka: Kafka{
			Brokers: []string{"localhost:9092"},
			Topic:   "trades",
		},
	}
}

// LoadFromEnv loads configuration from an .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.Node.APIAddr = v
	}
	if v := os.Getenv("BLOCK_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.Node.BlockInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("BOOK_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Node.BookCapacity = n
		}
	}
	if v := os.Getenv("EVENT_SKIP_BOUND"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Node.EventSkipBound = n
		}
	}
	if v := os.Getenv("REQUIRE_SIGNATURES"); v != "" {
		cfg.Node.RequireSignatures = v == "true"
	}

	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		cfg.Kafka.Enabled = v == "true"
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topic = v
	}

	return cfg
}
