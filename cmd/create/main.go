package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"escrow-sync-go/internal/common"
	"escrow-sync-go/internal/config"
	"escrow-sync-go/internal/escrow"

	"go.uber.org/zap"
)

type createRequest struct {
	depositor   string
	arbiter     string
	beneficiary string
	value       string
	kind        string
}

func parseAndValidateFlags() (*createRequest, error) {
	depositorFlag := flag.String("depositor", "", "Depositor account name or address (required)")
	arbiterFlag := flag.String("arbiter", "", "Arbiter account name or address (required)")
	beneficiaryFlag := flag.String("beneficiary", "", "Beneficiary account name or address (required)")
	valueFlag := flag.String("value", "", "Amount to deposit (required)")
	kindFlag := flag.String("kind", escrow.UnitEther, "Unit of --value: wei, gwei or ether")
	flag.Parse()

	if *depositorFlag == "" || *arbiterFlag == "" || *beneficiaryFlag == "" || *valueFlag == "" {
		return nil, fmt.Errorf("all flags are required: --depositor, --arbiter, --beneficiary, --value")
	}

	return &createRequest{
		depositor:   *depositorFlag,
		arbiter:     *arbiterFlag,
		beneficiary: *beneficiaryFlag,
		value:       *valueFlag,
		kind:        *kindFlag,
	}, nil
}

func main() {
	ctx := context.Background()

	req, err := parseAndValidateFlags()
	if err != nil {
		fmt.Println(err)
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

	if err := config.RequireSharedLedger(cfg, "create"); err != nil {
		logger.Fatal("Unsupported ledger backend", zap.Error(err))
	}

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	signer, err := services.Accounts.Signer(req.depositor)
	if err != nil {
		logger.Fatal("Failed to resolve depositor", zap.Error(err))
	}

	agreement, err := services.Controller.CreateAgreement(ctx, signer, escrow.CreateAgreementParams{
		Arbiter:     services.Accounts.Address(req.arbiter),
		Beneficiary: services.Accounts.Address(req.beneficiary),
		Value:       req.value,
		Kind:        req.kind,
	})

	var persistenceErr *escrow.PersistenceError
	if errors.As(err, &persistenceErr) && persistenceErr.Agreement != nil {
		logger.Warn("Agreement funded but not recorded, retrying mirror write once",
			zap.String("address", persistenceErr.Address))
		agreement, err = services.Controller.PersistAgreement(ctx, *persistenceErr.Agreement)
	}
	if err != nil {
		logger.Fatal("Failed to create agreement", zap.Error(err))
	}

	common.PrintHeader("AGREEMENT CREATED", common.DefaultWidth)
	common.PrintAgreement(*agreement, req.kind)
	common.PrintFooter(fmt.Sprintf("Arbiter %s can now approve %s", agreement.Arbiter, agreement.Address), common.DefaultWidth)
}
