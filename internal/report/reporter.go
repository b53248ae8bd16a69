package report

import (
	"fmt"
	"io"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/fatih/color"

	"txsubmit/internal/txbuilder"
)

// Reporter prints human-readable progress lines for submission runs. It is
// safe for concurrent use; reporters derived with ForJob share one writer.
type Reporter struct {
	mu     *sync.Mutex
	out    io.Writer
	prefix string

	start   *color.Color
	info    *color.Color
	success *color.Color
	fail    *color.Color
	link    *color.Color
}

var _ txbuilder.Observer = (*Reporter)(nil)

func New(out io.Writer, noColor bool) *Reporter {
	r := &Reporter{
		mu:      &sync.Mutex{},
		out:     out,
		start:   color.New(color.FgYellow),
		info:    color.New(color.FgCyan),
		success: color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
		link:    color.New(color.FgBlue),
	}
	for _, c := range []*color.Color{r.start, r.info, r.success, r.fail, r.link} {
		if noColor {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
	}
	return r
}

// ForJob returns a reporter that tags every line with the job name.
func (r *Reporter) ForJob(name string) *Reporter {
	cp := *r
	cp.prefix = "[" + name + "] "
	return &cp
}

// Start prints the request summary before the first stage runs.
func (r *Reporter) Start(from, to common.Address, value *big.Int, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.colored(r.start, "🚀", "Starting transaction run...")
	r.plain("Account address: %s", from.Hex())
	r.plain("Contract address: %s", to.Hex())
	r.plain("Data HEX: %s", hexutil.Encode(data))
	r.plain("Value to send: %s ETH", txbuilder.FormatUnits(value, 18))
}

func (r *Reporter) Skipped(hash common.Hash, block uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.colored(r.success, "⏭", fmt.Sprintf("Already confirmed in block %d: %s", block, hash.Hex()))
}

func (r *Reporter) Resuming(hash common.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.colored(r.start, "🔁", fmt.Sprintf("Resuming receipt wait for %s", hash.Hex()))
}

func (r *Reporter) Estimated(fees txbuilder.FeeEnvelope, gas uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fee := new(big.Int).Mul(fees.MaxFeePerGas, new(big.Int).SetUint64(gas))
	r.colored(r.info, "🧮", fmt.Sprintf("Worst-case fee: %s ETH", txbuilder.FormatUnits(fee, 18)))
}

func (r *Reporter) FeeComputed(fees txbuilder.FeeEnvelope) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.colored(r.info, "📊", "Gas info:")
	r.plain("  Base fee per gas: %s GWEI", gwei(fees.BaseFeePerGas))
	r.plain("  Max priority fee per gas: %s GWEI", gwei(fees.PriorityFeePerGas))
	r.plain("  Max fee per gas: %s GWEI", gwei(fees.MaxFeePerGas))
}

func (r *Reporter) GasEstimated(gasLimit uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.colored(r.success, "✅", fmt.Sprintf("Simulation successful. Estimated gas: %d", gasLimit))
}

func (r *Reporter) NonceResolved(account common.Address, nonce uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plain("Nonce: %d", nonce)
	r.colored(r.start, "🚀", "Starting to send transaction...")
}

func (r *Reporter) BroadcastAccepted(hash common.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.colored(r.link, "🔗", "Transaction hash: "+hash.Hex())
}

func (r *Reporter) BroadcastConfirmed(receipt *types.Receipt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if receipt.Status == types.ReceiptStatusFailed {
		r.colored(r.fail, "❌", "Transaction reverted")
	} else {
		r.colored(r.success, "🎉", "Transaction successful!")
	}
	r.plain("Block number: %s", receipt.BlockNumber)
	r.plain("Gas used: %d", receipt.GasUsed)
}

func (r *Reporter) SubmissionFailed(kind txbuilder.ErrorKind, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.colored(r.fail, "❌", fmt.Sprintf("Transaction failed (%s): %v", kind, err))
}

func (r *Reporter) Retrying(stage txbuilder.Stage, attempt int, err error, wait time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch stage {
	case txbuilder.StageFee:
		r.colored(r.fail, "❌", fmt.Sprintf("Reading latest block failed: %v", err))
	case txbuilder.StageGas:
		r.colored(r.fail, "❌", fmt.Sprintf("Simulation failed: %v", err))
	case txbuilder.StageSubmit:
		r.colored(r.fail, "❌", fmt.Sprintf("Rate limit hit, retrying in %s...", wait))
		return
	default:
		// receipt polling is expected to miss for a few blocks
		return
	}
	r.plain("Retrying in %s...", wait)
}

func (r *Reporter) colored(c *color.Color, emoji, msg string) {
	c.Fprintf(r.out, "%s%s %s\n", r.prefix, emoji, msg)
}

func (r *Reporter) plain(format string, args ...any) {
	fmt.Fprint(r.out, r.prefix)
	fmt.Fprintf(r.out, format+"\n", args...)
}

func gwei(v *big.Int) string {
	return txbuilder.FormatUnits(v, 9)
}
