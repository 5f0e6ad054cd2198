/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"escrow-sync-go/internal/models"
)

func Load() (*models.Config, error) {
	pollingInterval, err := getEnvDuration("LEDGER_POLLING_INTERVAL", 5*time.Second)
	if err != nil {
		return nil, err
	}

	reconcileInterval, err := getEnvDuration("RECONCILE_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}

	mirrorTimeout, err := getEnvDuration("MIRROR_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	chainId, err := getEnvInt64("ETH_CHAIN_ID", 31337)
	if err != nil {
		return nil, err
	}

	mirrorBackend := strings.ToLower(getEnvString("MIRROR_BACKEND", "sqlite"))
	switch mirrorBackend {
	case "sqlite", "file", "postgres", "http":
	default:
		return nil, fmt.Errorf("invalid MIRROR_BACKEND: %q", mirrorBackend)
	}

	ledgerBackend := strings.ToLower(getEnvString("LEDGER_BACKEND", "memory"))
	switch ledgerBackend {
	case "memory", "ethereum", "formance":
	default:
		return nil, fmt.Errorf("invalid LEDGER_BACKEND: %q", ledgerBackend)
	}

	return &models.Config{
		Mirror: models.MirrorConfig{
			Backend:       mirrorBackend,
			ContractsFile: getEnvString("CONTRACTS_FILE", "contracts.json"),
			PostgresURL:   getEnvString("POSTGRES_URL", ""),
			URL:           getEnvString("MIRROR_URL", "http://localhost:3001"),
			Timeout:       mirrorTimeout,
		},
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "contracts.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Ledger: models.LedgerConfig{
			Backend:         ledgerBackend,
			PollingInterval: pollingInterval,
			AccountsFile:    getEnvString("ACCOUNTS_FILE", "accounts.yaml"),
		},
		Ethereum: models.EthereumConfig{
			RpcUrl:       getEnvString("ETH_RPC_URL", ""),
			ChainId:      chainId,
			ArtifactPath: getEnvString("ESCROW_ARTIFACT", "artifacts/contracts/Escrow.sol/Escrow.json"),
		},
		Formance: models.FormanceConfig{
			StackURL:     getEnvString("FORMANCE_STACK_URL", ""),
			ClientID:     getEnvString("FORMANCE_CLIENT_ID", ""),
			ClientSecret: getEnvString("FORMANCE_CLIENT_SECRET", ""),
			LedgerName:   getEnvString("FORMANCE_LEDGER", "escrow-agreements"),
			Asset:        getEnvString("FORMANCE_ASSET", "ETH/18"),
		},
		Notify: models.NotifyConfig{
			KafkaBrokers: getEnvList("NOTIFY_KAFKA_BROKERS"),
			KafkaTopic:   getEnvString("NOTIFY_KAFKA_TOPIC", "escrow.agreements"),
			RedisURL:     getEnvString("NOTIFY_REDIS_URL", ""),
			RedisChannel: getEnvString("NOTIFY_REDIS_CHANNEL", "escrow:agreements"),
			QueueSize:    getEnvInt("NOTIFY_QUEUE_SIZE", 256),
		},
		Server: models.ServerConfig{
			MirrorPort: getEnvInt("MIRROR_PORT", getEnvInt("PORT", 3001)),
			ApiPort:    getEnvInt("API_PORT", 8080),
		},
		Controller: models.ControllerConfig{
			ReconcileInterval: reconcileInterval,
			LogDevelopment:    getEnvBool("LOG_DEVELOPMENT", false),
		},
	}, nil
}

// RequireSharedLedger rejects the in-memory ledger for tools that run once and
// exit, since each process would start from an empty ledger.
func RequireSharedLedger(cfg *models.Config, tool string) error {
	if cfg.Ledger.Backend == "memory" {
		return fmt.Errorf("%s needs a ledger shared between processes; set LEDGER_BACKEND to ethereum or formance, or use the escrowd API", tool)
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer for %s: %q (%w)", key, value, err)
		}
		return intValue, nil
	}
	return defaultValue, nil
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty entries.
func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
