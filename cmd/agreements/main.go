package main

import (
	"context"
	"flag"
	"fmt"

	"escrow-sync-go/internal/common"
	"escrow-sync-go/internal/config"
	"escrow-sync-go/internal/escrow"

	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	pendingFlag := flag.Bool("pending", false, "Only list agreements awaiting approval")
	kindFlag := flag.String("kind", escrow.UnitEther, "Unit used to display values: wei, gwei or ether")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	logger, loggerCleanup := common.InitializeLogger(cfg.Controller.LogDevelopment)
	defer loggerCleanup()

	// Read-only: the mirror is enough, no ledger connection needed.
	mirrorStore, err := common.InitializeMirror(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to open mirror store", zap.Error(err))
	}
	defer mirrorStore.Close()

	agreements, err := mirrorStore.ListAll(ctx)
	if err != nil {
		logger.Fatal("Failed to list agreements", zap.Error(err))
	}

	common.PrintHeader("ESCROW AGREEMENTS", common.WideWidth)

	shown, approved := 0, 0
	for _, a := range agreements {
		a.Normalize()
		if a.IsApproved {
			approved++
			if *pendingFlag {
				continue
			}
		}
		common.PrintAgreement(a, *kindFlag)
		shown++
	}

	common.PrintFooter(fmt.Sprintf("SUMMARY: %d shown (%d total, %d approved, %d pending)",
		shown, len(agreements), approved, len(agreements)-approved), common.WideWidth)
}
