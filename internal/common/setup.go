package common

import (
	"context"
	"fmt"
	"log"
	"strings"

	"escrow-sync-go/internal/database"
	"escrow-sync-go/internal/escrow"
	"escrow-sync-go/internal/ethereum"
	"escrow-sync-go/internal/filestore"
	"escrow-sync-go/internal/formance"
	"escrow-sync-go/internal/ledger"
	"escrow-sync-go/internal/mirror"
	"escrow-sync-go/internal/models"
	"escrow-sync-go/internal/notify"
	"escrow-sync-go/internal/postgres"
	"escrow-sync-go/internal/store"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// A missing .env is fine; variables can come from the shell or docker.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
		log.Println("Make sure to set environment variables via export or other means")
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	Mirror      store.MirrorStore
	Ledger      ledger.Client
	Broadcaster *notify.Broadcaster
	Notifier    notify.Notifier
	Accounts    *Accounts
	Controller  *escrow.Controller
}

func InitializeLogger(development bool) (*zap.Logger, func()) {
	build := zap.NewProduction
	if development {
		build = zap.NewDevelopment
	}
	logger, err := build()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// InitializeServices wires the mirror, ledger, notifiers and controller.
// Anything opened before a failure is closed again.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	svcs := &Services{}

	accounts, err := LoadAccounts(cfg.Ledger.AccountsFile)
	if err != nil {
		return nil, err
	}
	svcs.Accounts = accounts

	mirrorStore, err := InitializeMirror(ctx, cfg)
	if err != nil {
		return nil, err
	}
	svcs.Mirror = mirrorStore

	ledgerClient, err := InitializeLedger(ctx, cfg)
	if err != nil {
		svcs.Close()
		return nil, err
	}
	svcs.Ledger = ledgerClient

	svcs.Broadcaster = notify.NewBroadcaster(64)
	notifier, err := initializeNotifier(ctx, cfg.Notify, svcs.Broadcaster)
	if err != nil {
		svcs.Close()
		return nil, err
	}
	svcs.Notifier = notifier

	svcs.Controller, err = escrow.NewController(escrow.Config{
		Ledger:   svcs.Ledger,
		Mirror:   svcs.Mirror,
		Notifier: svcs.Notifier,
	})
	if err != nil {
		svcs.Close()
		return nil, err
	}

	return svcs, nil
}

// InitializeMirror opens the configured mirror store backend.
func InitializeMirror(ctx context.Context, cfg *models.Config) (store.MirrorStore, error) {
	zap.L().Info("Opening mirror store", zap.String("backend", cfg.Mirror.Backend))

	switch cfg.Mirror.Backend {
	case "sqlite":
		return database.NewService(ctx, cfg.Database)
	case "file":
		return filestore.New(cfg.Mirror.ContractsFile)
	case "postgres":
		return postgres.New(ctx, cfg.Mirror.PostgresURL)
	case "http":
		httpClient, err := NewHttpClient(cfg.Mirror.Timeout)
		if err != nil {
			return nil, fmt.Errorf("unable to create http client: %w", err)
		}
		return mirror.NewClient(cfg.Mirror.URL, httpClient)
	default:
		return nil, fmt.Errorf("unsupported mirror backend: %q", cfg.Mirror.Backend)
	}
}

// InitializeLedger connects to the configured ledger backend.
func InitializeLedger(ctx context.Context, cfg *models.Config) (ledger.Client, error) {
	zap.L().Info("Connecting to ledger", zap.String("backend", cfg.Ledger.Backend))

	switch cfg.Ledger.Backend {
	case "memory":
		zap.L().Warn("Using the in-memory ledger; agreements do not survive a restart")
		return ledger.NewMemory(ctx, cfg.Ledger.PollingInterval)
	case "ethereum":
		httpClient, err := NewHttpClient(0)
		if err != nil {
			return nil, fmt.Errorf("unable to create http client: %w", err)
		}
		return ethereum.NewClient(ctx, cfg.Ethereum, cfg.Ledger.PollingInterval, httpClient)
	case "formance":
		return formance.NewService(ctx, cfg.Formance, cfg.Ledger.PollingInterval)
	default:
		return nil, fmt.Errorf("unsupported ledger backend: %q", cfg.Ledger.Backend)
	}
}

// initializeNotifier fans out to the broadcaster plus any configured sinks,
// behind a queue so a slow sink never holds up the controller.
func initializeNotifier(ctx context.Context, cfg models.NotifyConfig, broadcaster *notify.Broadcaster) (notify.Notifier, error) {
	notifiers := notify.Multi{broadcaster}

	if len(cfg.KafkaBrokers) > 0 {
		k, err := notify.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, k)
		zap.L().Info("Kafka notifications enabled",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic))
	}

	if cfg.RedisURL != "" {
		r, err := notify.NewRedis(ctx, cfg.RedisURL, cfg.RedisChannel)
		if err != nil {
			for _, n := range notifiers[1:] {
				n.Close()
			}
			return nil, err
		}
		notifiers = append(notifiers, r)
		zap.L().Info("Redis notifications enabled", zap.String("channel", cfg.RedisChannel))
	}

	return notify.NewAsync(notifiers, cfg.QueueSize), nil
}

func (cs *Services) Close() {
	if cs.Controller != nil {
		cs.Controller.Close()
	}
	if cs.Notifier != nil {
		if err := cs.Notifier.Close(); err != nil {
			zap.L().Warn("Failed to close notifiers", zap.Error(err))
		}
	} else if cs.Broadcaster != nil {
		cs.Broadcaster.Close()
	}
	if cs.Ledger != nil {
		cs.Ledger.Close()
	}
	if cs.Mirror != nil {
		cs.Mirror.Close()
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
