package models

import "time"

// Config represents the application configuration
type Config struct {
	Mirror     MirrorConfig
	Database   DatabaseConfig
	Ledger     LedgerConfig
	Ethereum   EthereumConfig
	Formance   FormanceConfig
	Notify     NotifyConfig
	Server     ServerConfig
	Controller ControllerConfig
}

// MirrorConfig selects the mirror store backend
type MirrorConfig struct {
	Backend       string // sqlite, file, postgres, http
	ContractsFile string
	PostgresURL   string
	URL           string
	Timeout       time.Duration
}

// DatabaseConfig holds SQLite connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// LedgerConfig selects the ledger backend and its event polling cadence
type LedgerConfig struct {
	Backend         string // memory, ethereum, formance
	PollingInterval time.Duration
	AccountsFile    string
}

// EthereumConfig holds JSON-RPC and contract artifact settings
type EthereumConfig struct {
	RpcUrl       string
	ChainId      int64
	ArtifactPath string
}

// FormanceConfig holds Formance Stack credentials
type FormanceConfig struct {
	StackURL     string
	ClientID     string
	ClientSecret string
	LedgerName   string
	Asset        string
}

// NotifyConfig holds optional out-of-process notification sinks
type NotifyConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	RedisURL     string
	RedisChannel string
	QueueSize    int
}

// ServerConfig holds listen ports
type ServerConfig struct {
	MirrorPort int
	ApiPort    int
}

// ControllerConfig holds lifecycle controller settings
type ControllerConfig struct {
	ReconcileInterval time.Duration
	LogDevelopment    bool
}
