package formance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrow-sync-go/internal/ledger"
	"escrow-sync-go/internal/models"

	v3 "github.com/formancehq/formance-sdk-go/v3"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/operations"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/sdkerrors"
	"github.com/formancehq/formance-sdk-go/v3/pkg/models/shared"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy ledger.Client.
var _ ledger.Client = (*Service)(nil)

const (
	defaultLedgerName = "escrow-sync"
	defaultAsset      = "ETH/18"
)

// Service implements ledger.Client on top of a Formance Stack ledger. Each
// agreement is an @escrows:<id> account; funding and release are Numscript
// transactions whose metadata carries the parties.
type Service struct {
	client  *v3.Formance
	ledger  string
	asset   string
	watcher *ledger.Watcher
}

// NewService connects to the stack, creates the ledger if it doesn't already
// exist and starts watching for approval transactions.
func NewService(ctx context.Context, cfg models.FormanceConfig, pollingInterval time.Duration) (*Service, error) {
	if cfg.StackURL == "" || cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("formance config requires StackURL, ClientID, and ClientSecret")
	}
	if cfg.LedgerName == "" {
		cfg.LedgerName = defaultLedgerName
	}
	if cfg.Asset == "" {
		cfg.Asset = defaultAsset
	}

	zap.L().Info("Connecting to Formance Stack",
		zap.String("stack_url", cfg.StackURL),
		zap.String("ledger", cfg.LedgerName),
		zap.String("asset", cfg.Asset))

	client := v3.New(
		v3.WithServerURL(cfg.StackURL),
		v3.WithSecurity(shared.Security{
			ClientID:     v3.Pointer(cfg.ClientID),
			ClientSecret: v3.Pointer(cfg.ClientSecret),
		}),
	)

	svc := &Service{client: client, ledger: cfg.LedgerName, asset: cfg.Asset}

	if err := svc.ensureLedger(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure ledger exists: %w", err)
	}

	svc.watcher = ledger.NewWatcher(ledger.WatcherConfig{
		Source:          &approvalSource{svc: svc},
		PollingInterval: pollingInterval,
	})
	if err := svc.watcher.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start approval watcher: %w", err)
	}

	zap.L().Info("Formance service initialized", zap.String("ledger", cfg.LedgerName))
	return svc, nil
}

// ensureLedger creates the ledger if it does not already exist.
func (s *Service) ensureLedger(ctx context.Context) error {
	_, err := s.client.Ledger.V2.CreateLedger(ctx, operations.V2CreateLedgerRequest{
		Ledger: s.ledger,
		V2CreateLedgerRequest: shared.V2CreateLedgerRequest{
			Metadata: map[string]string{
				"application": "escrow-sync",
			},
		},
	})
	if err != nil {
		var apiErr *sdkerrors.V2ErrorResponse
		if errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumLedgerAlreadyExists {
			zap.L().Info("Ledger already exists", zap.String("ledger", s.ledger))
			return nil
		}
		return err
	}
	zap.L().Info("Ledger created", zap.String("ledger", s.ledger))
	return nil
}

func (s *Service) Subscribe(address, event string, cb ledger.Callback) (ledger.Subscription, error) {
	return s.watcher.Subscribe(address, event, cb)
}

// Close stops the watcher. The HTTP client needs no teardown.
func (s *Service) Close() {
	if s.watcher != nil {
		s.watcher.Stop()
	}
}

// ---------- helpers ----------

// isConflictError checks whether a Formance SDK error is a CONFLICT (duplicate reference).
func isConflictError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumConflict
}

// isInsufficientFundError checks whether the Numscript failed on balance.
func isInsufficientFundError(err error) bool {
	var apiErr *sdkerrors.V2ErrorResponse
	return errors.As(err, &apiErr) && apiErr.ErrorCode == shared.V2ErrorsEnumInsufficientFund
}

func strPtr(s string) *string  { return &s }
func ptrInt64(v int64) *int64 { return &v }
