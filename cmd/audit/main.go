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

package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"credit-ledger-go/internal/common"
	"credit-ledger-go/internal/config"
	"credit-ledger-go/internal/ledger"

	"go.uber.org/zap"
)

func main() {
	userId := flag.String("user", "", "User id to audit (required)")
	verify := flag.Bool("verify", false, "Verify the user's ledger hash chain")
	repair := flag.Bool("repair", false, "Repair the user's ledger hash chain (takes a backup first)")
	fromTx := flag.String("from-tx", "", "Optional transaction id to start the repair from")
	report := flag.Bool("report", false, "Generate an audit report for the last 30 days")
	flag.Parse()

	if *userId == "" {
		fmt.Println("Usage: audit -user <user-id> [-verify] [-repair [-from-tx <tx-id>]] [-report]")
		return
	}
	if !*verify && !*repair && !*report {
		*verify = true
	}

	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx := context.Background()

	dbService, err := common.InitializeDatabaseOnly(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize database", zap.Error(err))
	}
	defer dbService.Close()

	ledgerService, err := ledger.NewService(dbService, ledger.Config{
		SigningKey:       []byte(cfg.Ledger.SigningKey),
		MaxTimestampSkew: cfg.Ledger.MaxTimestampSkew,
	})
	if err != nil {
		zap.L().Fatal("Failed to initialize ledger service", zap.Error(err))
	}

	if *verify {
		runVerify(ctx, ledgerService, *userId)
	}
	if *repair {
		runRepair(ctx, ledgerService, *userId, *fromTx)
	}
	if *report {
		runReport(ctx, ledgerService, *userId)
	}
}

func runVerify(ctx context.Context, ledgerService *ledger.Service, userId string) {
	common.PrintHeader(fmt.Sprintf("Chain verification: %s", userId), common.DefaultWidth)

	result, err := ledgerService.ValidateHashChain(ctx, userId)
	if err != nil {
		zap.L().Fatal("Chain validation failed", zap.Error(err))
	}

	fmt.Printf("Entries:    %d\n", result.TotalTransactions)
	fmt.Printf("Valid:      %v\n", result.IsValid)
	if !result.IsValid {
		fmt.Printf("Broken at:  block %d\n", result.BrokenAt)
		fmt.Printf("Last valid: %s\n", result.LastValidHash)
		common.PrintBoxSeparator(common.DefaultWidth - 2)
		for i, chainErr := range result.Errors {
			prefix := common.BoxPrefix(i == len(result.Errors)-1)
			fmt.Printf("%s[%s] block %d: %s\n", prefix, chainErr.Code, chainErr.BlockIndex, chainErr.Detail)
		}
	}
	common.PrintFooter("Verification complete", common.DefaultWidth)
}

func runRepair(ctx context.Context, ledgerService *ledger.Service, userId, fromTx string) {
	common.PrintHeader(fmt.Sprintf("Chain repair: %s", userId), common.DefaultWidth)

	result, err := ledgerService.RepairHashChain(ctx, userId, fromTx)
	if err != nil {
		zap.L().Fatal("Chain repair failed", zap.Error(err))
	}

	fmt.Printf("Backup id:     %s\n", result.BackupId)
	fmt.Printf("Repaired:      %d\n", result.EntriesRepaired)
	fmt.Printf("Unrepairable:  %d\n", len(result.Unrepairable))
	for i, entryId := range result.Unrepairable {
		fmt.Printf("%s%s\n", common.BoxPrefix(i == len(result.Unrepairable)-1), entryId)
	}
	common.PrintFooter("Repair complete", common.DefaultWidth)
}

func runReport(ctx context.Context, ledgerService *ledger.Service, userId string) {
	common.PrintHeader(fmt.Sprintf("Audit report: %s", userId), common.DefaultWidth)

	now := time.Now().UTC()
	report, err := ledgerService.GenerateAuditReport(ctx, userId, now.AddDate(0, 0, -30), now)
	if err != nil {
		zap.L().Fatal("Audit report failed", zap.Error(err))
	}

	fmt.Printf("Window:          %s .. %s\n", report.From.Format("2006-01-02"), report.To.Format("2006-01-02"))
	fmt.Printf("Transactions:    %d (%d valid)\n", report.TotalTransactions, report.ValidTransactions)
	fmt.Printf("Integrity score: %.1f%%\n", report.IntegrityScore)
	fmt.Printf("Total volume:    %s\n", report.TotalVolume.String())

	if len(report.Anomalies) > 0 {
		fmt.Printf("\nAnomalies (%d):\n", len(report.Anomalies))
		for i, anomaly := range report.Anomalies {
			prefix := common.BoxPrefix(i == len(report.Anomalies)-1)
			fmt.Printf("%s[%s/%s] %s\n", prefix, anomaly.Type, anomaly.Severity, anomaly.Detail)
		}
	}
	if len(report.Recommendations) > 0 {
		fmt.Printf("\nRecommendations:\n")
		for _, recommendation := range report.Recommendations {
			fmt.Printf("  %d. %s\n", recommendation.Priority, recommendation.Action)
		}
	}
	common.PrintFooter("Report complete", common.DefaultWidth)
}
