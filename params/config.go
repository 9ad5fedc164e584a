package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Decimals is a price/volume precision pair used when rendering fixed-point
// strings.
type Decimals struct {
	Price  int32
	Volume int32
}

type Book struct {
	// Order and Trade precision applies at serialization boundaries only.
	// Trade precision is handed to every trade the book executes.
	Order Decimals
	Trade Decimals
	// Display precision for the aggregated depth view; prices that render
	// the same share a level.
	Display Decimals

	// PriceStep is informational; prices are not snapped to it.
	PriceStep decimal.Decimal
	// MaxOrdersPerSide sizes the order index. It is a hint, not a limit.
	MaxOrdersPerSide int
	// MaxLockWait bounds how long a submit waits for the book.
	MaxLockWait time.Duration
	// Fee is reserved for a settlement layer; the book never applies it.
	Fee decimal.Decimal
}

type Node struct {
	APIAddr  string
	DataDir  string // empty keeps the journal in memory
	LogFile  string
	LogLevel string
	// EventLog, when set, receives every announcement as a JSON line.
	EventLog string

	// Kafka publishing is disabled when Brokers is empty.
	KafkaBrokers []string
	KafkaTopic   string

	EnableFeeder bool
	FeederMode   string // "default" or "high"
}

type Config struct {
	Book Book
	Node Node
}

func DefaultBook() Book {
	return Book{
		Order:            Decimals{Price: 8, Volume: 8},
		Trade:            Decimals{Price: 8, Volume: 8},
		Display:          Decimals{Price: 2, Volume: 8},
		PriceStep:        decimal.RequireFromString("0.01"),
		MaxOrdersPerSide: 10000,
		MaxLockWait:      4000 * time.Millisecond,
		Fee:              decimal.RequireFromString("0.002"),
	}
}

func Default() Config {
	return Config{
		Book: DefaultBook(),
		Node: Node{
			APIAddr:    ":8080",
			DataDir:    "data",
			LogFile:    "data/node.log",
			LogLevel:   "info",
			KafkaTopic: "limitbook.events",
			FeederMode: "default",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if ms := getEnvInt("BOOK_MAX_LOCK_WAIT_MS"); ms > 0 {
		cfg.Book.MaxLockWait = time.Duration(ms) * time.Millisecond
	}
	if n := getEnvInt("BOOK_MAX_ORDERS_PER_SIDE"); n > 0 {
		cfg.Book.MaxOrdersPerSide = n
	}
	if n := getEnvInt("ORDER_PRICE_DECIMALS"); n > 0 {
		cfg.Book.Order.Price = int32(n)
	}
	if n := getEnvInt("ORDER_VOLUME_DECIMALS"); n > 0 {
		cfg.Book.Order.Volume = int32(n)
	}
	if n := getEnvInt("TRADE_PRICE_DECIMALS"); n > 0 {
		cfg.Book.Trade.Price = int32(n)
	}
	if n := getEnvInt("TRADE_VOLUME_DECIMALS"); n > 0 {
		cfg.Book.Trade.Volume = int32(n)
	}
	if n := getEnvInt("DISPLAY_PRICE_DECIMALS"); n > 0 {
		cfg.Book.Display.Price = int32(n)
	}
	if n := getEnvInt("DISPLAY_VOLUME_DECIMALS"); n > 0 {
		cfg.Book.Display.Volume = int32(n)
	}
	if fee := os.Getenv("BOOK_FEE"); fee != "" {
		if d, err := decimal.NewFromString(fee); err == nil {
			cfg.Book.Fee = d
		}
	}

	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	if dir, ok := os.LookupEnv("DATA_DIR"); ok {
		cfg.Node.DataDir = dir
	}
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.EventLog = getEnv("EVENT_LOG_FILE", cfg.Node.EventLog)
	cfg.Node.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Node.KafkaTopic)
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		// Example: "kafka1:9092,kafka2:9092"
		cfg.Node.KafkaBrokers = strings.Split(brokers, ",")
	}
	cfg.Node.EnableFeeder = os.Getenv("ENABLE_FEEDER") == "true"
	cfg.Node.FeederMode = getEnv("FEEDER_MODE", cfg.Node.FeederMode)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
