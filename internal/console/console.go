// Package console implements kelp's interactive line-based REPL, the Go
// counterpart to the reference wallet's rustyline loop: read a line, parse
// a command, print the result, repeat. Commands that can block for a long
// time (send) are dispatched onto their own goroutine instead of blocking
// the prompt.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/kelp-wallet/kelp/internal/logging"
	"github.com/kelp-wallet/kelp/internal/neptune"
)

// Wallet is the subset of *wallet.Wallet the console drives. It is defined
// here, not imported, so console never depends on wallet's full surface
// (and so a fake is trivial to write in tests).
type Wallet interface {
	Height() (neptune.BlockHeight, error)
	Balance() neptune.NativeCurrencyAmount
	ReceivingAddress() neptune.ReceivingAddress
	Send(ctx context.Context, recipient neptune.ReceivingAddress, amount, fee neptune.NativeCurrencyAmount) error
}

// Console is kelp's interactive command prompt.
type Console struct {
	wallet Wallet
	log    *logging.Logger
	in     *bufio.Scanner
	out    io.Writer
}

// New constructs a Console reading commands from in and writing its prompt
// to out. Command results and errors are reported through log.
func New(wallet Wallet, log *logging.Logger, in io.Reader, out io.Writer) *Console {
	return &Console{
		wallet: wallet,
		log:    log.WithComponent("console"),
		in:     bufio.NewScanner(in),
		out:    out,
	}
}

// Run reads and dispatches commands until ctx is canceled or the input
// stream is exhausted.
func (c *Console) Run(ctx context.Context) {
	for {
		fmt.Fprint(c.out, "kelp> ")
		if !c.in.Scan() {
			return
		}
		line := strings.TrimSpace(c.in.Text())
		if line == "" {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		c.dispatch(ctx, line)
	}
}

func (c *Console) dispatch(ctx context.Context, line string) {
	fields := strings.Fields(line)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "height":
		c.runHeight()
	case "balance":
		c.runBalance()
	case "address":
		c.runAddress()
	case "send":
		c.runSend(ctx, args)
	default:
		c.log.Severe("unknown command:", cmd)
	}
}

func (c *Console) runHeight() {
	height, err := c.wallet.Height()
	if err != nil {
		c.log.Severe("failed to read height:", err)
		return
	}
	c.log.Printf("Height: %d.", height)
}

func (c *Console) runBalance() {
	c.log.Printf("Balance: %s.", c.wallet.Balance())
}

func (c *Console) runAddress() {
	c.log.Printf("Receiving address: %s.", c.wallet.ReceivingAddress())
}

// runSend parses "send <address> <amount-nau> <fee-nau>" and runs the
// transaction build/prove/submit sequence on a background goroutine,
// tagged with a correlation ID so its log lines can be told apart from a
// second concurrent send.
func (c *Console) runSend(ctx context.Context, args []string) {
	if len(args) != 3 {
		c.log.Severe("usage: send <address> <amount-nau> <fee-nau>")
		return
	}

	recipient, err := neptune.ParseReceivingAddress(args[0])
	if err != nil {
		c.log.Severe("invalid address:", err)
		return
	}
	amountNau, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		c.log.Severe("invalid amount:", err)
		return
	}
	feeNau, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		c.log.Severe("invalid fee:", err)
		return
	}

	amount := neptune.AmountFromNau(amountNau)
	fee := neptune.AmountFromNau(feeNau)
	taskID := uuid.New()

	go func() {
		log := c.log.WithComponent("send-" + taskID.String()[:8])
		log.Println("submitting transaction...")
		if err := c.wallet.Send(ctx, recipient, amount, fee); err != nil {
			log.Severe("send failed:", err)
			return
		}
		log.Println("send complete")
	}()
}
