package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"escrow-sync-go/internal/common"
	"escrow-sync-go/internal/config"
	"escrow-sync-go/internal/escrow"
	"escrow-sync-go/internal/models"

	"go.uber.org/zap"
)

// waitForApproval polls the controller until the ledger confirmation has been
// applied, falling back to a reconcile pass on timeout.
func waitForApproval(ctx context.Context, controller *escrow.Controller, address string, timeout time.Duration) (models.Agreement, bool) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if a, ok := controller.Agreement(address); ok && a.IsApproved {
			return a, true
		}
		time.Sleep(250 * time.Millisecond)
	}

	if _, err := controller.Reconcile(ctx); err != nil {
		zap.L().Warn("Reconcile after timeout failed", zap.Error(err))
	}
	a, ok := controller.Agreement(address)
	return a, ok && a.IsApproved
}

func main() {
	ctx := context.Background()

	addressFlag := flag.String("address", "", "Agreement address (required)")
	approverFlag := flag.String("approver", "", "Arbiter account name or address (required)")
	waitFlag := flag.Duration("wait", 2*time.Minute, "How long to wait for the ledger confirmation")
	kindFlag := flag.String("kind", escrow.UnitEther, "Unit used to display the value")
	flag.Parse()

	if *addressFlag == "" || *approverFlag == "" {
		fmt.Println("all flags are required: --address, --approver")
		flag.Usage()
		return
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	logger, loggerCleanup := common.InitializeLogger(cfg.Controller.LogDevelopment)
	defer loggerCleanup()

	if err := config.RequireSharedLedger(cfg, "approve"); err != nil {
		logger.Fatal("Unsupported ledger backend", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	signer, err := services.Accounts.Signer(*approverFlag)
	if err != nil {
		logger.Fatal("Failed to resolve approver", zap.Error(err))
	}

	ack, err := services.Controller.RequestApproval(ctx, signer, *addressFlag)
	if err != nil {
		logger.Fatal("Approval failed", zap.Error(err))
	}

	if !ack.Submitted {
		common.PrintHeader("AGREEMENT ALREADY APPROVED", common.DefaultWidth)
		common.PrintAgreement(ack.Agreement, *kindFlag)
		return
	}

	logger.Info("Approval included, waiting for confirmation",
		zap.String("address", ack.Address),
		zap.String("tx_hash", ack.TxHash))

	agreement, approved := waitForApproval(ctx, services.Controller, ack.Address, *waitFlag)
	if !approved {
		logger.Warn("Approval submitted but not yet reflected in the mirror; escrowd will reconcile it",
			zap.String("address", ack.Address))
		return
	}

	common.PrintHeader("AGREEMENT APPROVED", common.DefaultWidth)
	common.PrintAgreement(agreement, *kindFlag)
	common.PrintFooter("Tx: "+ack.TxHash, common.DefaultWidth)
}
