// familyflow is the ledger CLI: create and edit transactions, close due
// invoices once, and print the balance summary.
//
//	familyflow -tenant 1 add -title "Mercado" -amount "-123,45" -date 2026-08-15 -installments 3
//	familyflow -tenant 1 summary
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/brunotrinchao/familyflow-sub001/internal/backend"
	"github.com/brunotrinchao/familyflow-sub001/internal/config"
	"github.com/brunotrinchao/familyflow-sub001/internal/core"
	"github.com/brunotrinchao/familyflow-sub001/internal/ledger"
	"github.com/brunotrinchao/familyflow-sub001/internal/log"
	"github.com/brunotrinchao/familyflow-sub001/internal/services"
)

func main() {
	_ = godotenv.Load()

	logger := log.New(log.Config{
		Component: "familyflow",
		Handler: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		}),
	})
	log.SetDefault(logger)

	tenant := flag.Int64("tenant", 0, "tenant scope (required)")
	flag.Parse()
	args := flag.Args()
	if *tenant == 0 || len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}
	store, err := backend.Open(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open backend:", err)
		os.Exit(1)
	}
	defer store.Close()

	scope := core.TenantID(*tenant)
	ctx := context.Background()

	var cmdErr error
	switch args[0] {
	case "add":
		cmdErr = runAdd(ctx, store, scope, args[1:])
	case "close-due":
		processor := services.NewInvoiceProcessor(store, nil)
		var closed int
		closed, cmdErr = processor.CloseDue(ctx, time.Now().UTC())
		if cmdErr == nil {
			fmt.Printf("%d invoice(s) closed\n", closed)
		}
	case "summary":
		cmdErr = runSummary(ctx, store, scope)
	default:
		usage()
		os.Exit(2)
	}
	if cmdErr != nil {
		fmt.Fprintln(os.Stderr, "error:", cmdErr)
		os.Exit(1)
	}
}

func runAdd(ctx context.Context, store ledger.Store, scope core.TenantID, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	title := fs.String("title", "", "transaction title")
	amount := fs.String("amount", "", "localized amount, e.g. \"-1.234,56\"")
	date := fs.String("date", time.Now().Format("2006-01-02"), "transaction date")
	txType := fs.String("type", "", "expense|income|transfer (default from amount sign)")
	installments := fs.Int("installments", 1, "installment count")
	cardID := fs.Int64("card", 0, "credit card id (0 = not card-bound)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cents, err := core.ParseAmount(*amount)
	if err != nil {
		return fmt.Errorf("amount %q: %w", *amount, err)
	}
	when, err := time.Parse("2006-01-02", *date)
	if err != nil {
		return fmt.Errorf("date %q: %w", *date, err)
	}
	typ := core.TransactionType(*txType)
	if typ == "" {
		typ = core.Expense
		if cents > 0 {
			typ = core.Income
		}
	}

	tx := &core.Transaction{
		Type:             typ,
		Title:            *title,
		Date:             when,
		AmountCents:      cents,
		InstallmentTotal: *installments,
	}

	engine := services.NewSeriesEngine(store)
	resolver := services.NewInvoiceResolver(store)
	svc := services.NewTransactionService(store, engine, resolver)
	if err := svc.Create(ctx, scope, tx, *cardID); err != nil {
		return err
	}
	fmt.Printf("transaction %d created (%s)\n", tx.ID, core.FormatAmount(tx.AmountCents))
	return nil
}

func runSummary(ctx context.Context, store ledger.Store, scope core.TenantID) error {
	balances := services.NewBalanceService(store)
	summary, err := balances.Summarize(ctx, scope, nil)
	if err != nil {
		return err
	}
	fmt.Printf("account balance:   %s\n", core.FormatAmount(summary.AccountBalance))
	fmt.Printf("realized income:   %s\n", core.FormatAmount(summary.RealizedIncome))
	fmt.Printf("realized expense:  %s\n", core.FormatAmount(summary.RealizedExpense))
	fmt.Printf("projected income:  %s\n", core.FormatAmount(summary.ProjectedIncome))
	fmt.Printf("projected expense: %s\n", core.FormatAmount(summary.ProjectedExpense))
	fmt.Printf("final projection:  %s\n", core.FormatAmount(summary.FinalProjection))
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: familyflow -tenant <id> <command>

commands:
  add        create a transaction (see -h for flags)
  close-due  close every open invoice whose closing date passed
  summary    print the balance summary`)
}
