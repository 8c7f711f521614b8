// Command kelpd is kelp's wallet daemon: it opens or creates a wallet
// directory, scans a Neptune full node for payments, and serves an
// interactive console for checking balances and sending transactions.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kelp-wallet/kelp/internal/console"
	"github.com/kelp-wallet/kelp/internal/logging"
	"github.com/kelp-wallet/kelp/internal/prover"
	"github.com/kelp-wallet/kelp/internal/rpc"
	"github.com/kelp-wallet/kelp/internal/wallet"
)

// exit codes, inspired by sysexits.h the way the pack's CLI tooling is.
const (
	exitCodeGeneral = 1
	exitCodeUsage   = 64
)

func die(args ...interface{}) {
	fmt.Fprintln(os.Stderr, args...)
	os.Exit(exitCodeGeneral)
}

func main() {
	// A panic anywhere below this point (including inside a library that
	// calls build.Critical) should exit 1, not dump a bare stack trace and
	// leave the terminal in an ambiguous state.
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintln(os.Stderr, "fatal:", r)
			os.Exit(exitCodeGeneral)
		}
	}()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		die("failed to load .env:", err)
	}

	root := newRootCommand()
	if err := root.Execute(); err != nil {
		os.Exit(exitCodeUsage)
	}
}

func newRootCommand() *cobra.Command {
	var (
		mnemonic    string
		storagePath string
		nodeURL     string
		proverURL   string
	)

	cmd := &cobra.Command{
		Use:   "kelpd",
		Short: "kelp is a light-client wallet for Neptune",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), mnemonic, storagePath, nodeURL, proverURL)
		},
	}

	cmd.Flags().StringVar(&mnemonic, "mnemonic", "", "seed phrase to initialize a fresh wallet with")
	cmd.Flags().StringVar(&storagePath, "storage", "./wallet.db", "path to the wallet's database file")
	cmd.Flags().StringVar(&nodeURL, "node", "http://127.0.0.1:9799/rpc", "full node JSON-RPC endpoint")
	cmd.Flags().StringVar(&proverURL, "prover", "http://127.0.0.1:9899/rpc", "proving service JSON-RPC endpoint")

	return cmd
}

func run(ctx context.Context, mnemonic, storagePath, nodeURL, proverURL string) error {
	log := logging.NewFromEnv()
	defer log.Close()

	client, err := rpc.NewHTTPClient(nodeURL, 30*time.Second)
	if err != nil {
		return fmt.Errorf("construct node client: %w", err)
	}
	provingClient := prover.New(proverURL, 10*time.Minute)

	w, err := wallet.New(wallet.Config{
		StoragePath: storagePath,
		Mnemonic:    mnemonic,
		Client:      client,
		Prover:      provingClient,
		Log:         log,
	})
	if err != nil {
		return fmt.Errorf("initialize wallet: %w", err)
	}
	defer w.Close()

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt)
	defer cancel()

	go func() {
		if err := w.MainLoop(ctx); err != nil {
			log.Severe("main loop exited:", err)
		}
	}()

	repl := console.New(w, log, os.Stdin, os.Stdout)
	repl.Run(ctx)
	return nil
}
