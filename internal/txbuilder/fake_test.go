package txbuilder

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"txsubmit/internal/util"
)

const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

var (
	testChainID = big.NewInt(31337)
	testTo      = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
)

// fakeClient is a scripted ChainClient. Each *Fn receives the 1-based call
// number for its method; nil functions fall back to healthy defaults.
type fakeClient struct {
	mu sync.Mutex

	baseFee     *big.Int
	gasEstimate uint64
	nonce       uint64
	latestNonce uint64

	headerFn   func(call int) (*types.Header, error)
	estimateFn func(call int, msg ethereum.CallMsg) (uint64, error)
	nonceErr   error
	sendFn     func(call int, tx *types.Transaction) error
	receiptFn  func(call int, hash common.Hash) (*types.Receipt, error)

	headerCalls   int
	estimateCalls int
	nonceCalls    int
	latestCalls   int
	sendCalls     int
	receiptCalls  int

	calls    []string
	sent     [][]byte
	lastCall ethereum.CallMsg
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		baseFee:     big.NewInt(5),
		gasEstimate: 21000,
	}
}

func (f *fakeClient) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(testChainID), nil
}

func (f *fakeClient) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.headerCalls++
	f.calls = append(f.calls, "header")
	if f.headerFn != nil {
		return f.headerFn(f.headerCalls)
	}
	return &types.Header{Number: big.NewInt(100), BaseFee: new(big.Int).Set(f.baseFee)}, nil
}

func (f *fakeClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimateCalls++
	f.calls = append(f.calls, "estimate")
	f.lastCall = msg
	if f.estimateFn != nil {
		return f.estimateFn(f.estimateCalls, msg)
	}
	return f.gasEstimate, nil
}

func (f *fakeClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nonceCalls++
	f.calls = append(f.calls, "nonce")
	if f.nonceErr != nil {
		return 0, f.nonceErr
	}
	return f.nonce, nil
}

func (f *fakeClient) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.latestCalls++
	f.calls = append(f.calls, "nonce_latest")
	if f.nonceErr != nil {
		return 0, f.nonceErr
	}
	return f.latestNonce, nil
}

func (f *fakeClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	f.calls = append(f.calls, "send")
	raw, err := tx.MarshalBinary()
	if err != nil {
		return err
	}
	f.sent = append(f.sent, raw)
	if f.sendFn != nil {
		return f.sendFn(f.sendCalls, tx)
	}
	return nil
}

func (f *fakeClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptCalls++
	f.calls = append(f.calls, "receipt")
	if f.receiptFn != nil {
		return f.receiptFn(f.receiptCalls, hash)
	}
	return minedReceipt(hash, types.ReceiptStatusSuccessful), nil
}

func (f *fakeClient) sentTx(t *testing.T, i int) *types.Transaction {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.sent) {
		t.Fatalf("only %d transactions sent", len(f.sent))
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(f.sent[i]); err != nil {
		t.Fatalf("decode sent tx: %v", err)
	}
	return tx
}

func minedReceipt(hash common.Hash, status uint64) *types.Receipt {
	return &types.Receipt{
		Status:      status,
		TxHash:      hash,
		BlockNumber: big.NewInt(101),
		GasUsed:     21000,
	}
}

type keySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func newTestSigner(t *testing.T) *keySigner {
	t.Helper()
	key, err := crypto.HexToECDSA(testKeyHex)
	if err != nil {
		t.Fatalf("load key: %v", err)
	}
	return &keySigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}
}

func (s *keySigner) Address() common.Address { return s.addr }

func (s *keySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

type failingSigner struct {
	addr common.Address
}

func (s failingSigner) Address() common.Address { return s.addr }

func (s failingSigner) SignTx(*types.Transaction, *big.Int) (*types.Transaction, error) {
	return nil, errors.New("hsm unavailable")
}

// wrongAccountSigner claims one address but signs with the test key.
type wrongAccountSigner struct {
	*keySigner
}

func (s wrongAccountSigner) Address() common.Address {
	return common.HexToAddress("0x000000000000000000000000000000000000dEaD")
}

type recordingObserver struct {
	mu      sync.Mutex
	events  []string
	retries map[Stage]int
	fees    []FeeEnvelope
	failed  []ErrorKind
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{retries: make(map[Stage]int)}
}

func (o *recordingObserver) record(ev string) {
	o.events = append(o.events, ev)
}

func (o *recordingObserver) FeeComputed(fees FeeEnvelope) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.fees = append(o.fees, fees)
	o.record("fee")
}

func (o *recordingObserver) GasEstimated(uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record("gas")
}

func (o *recordingObserver) NonceResolved(common.Address, uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record("nonce")
}

func (o *recordingObserver) BroadcastAccepted(common.Hash) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record("accepted")
}

func (o *recordingObserver) BroadcastConfirmed(*types.Receipt) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.record("confirmed")
}

func (o *recordingObserver) SubmissionFailed(kind ErrorKind, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failed = append(o.failed, kind)
	o.record("failed")
}

func (o *recordingObserver) Retrying(stage Stage, attempt int, err error, wait time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.retries[stage]++
}

func (o *recordingObserver) retriesFor(stage Stage) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.retries[stage]
}

func fastPolicy() util.Policy {
	return util.Policy{Backoff: time.Millisecond}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testPipelineConfig() PipelineConfig {
	return PipelineConfig{
		ChainID: testChainID,
		Fees: FeeEstimatorConfig{
			PriorityFee: big.NewInt(2),
			Buffer:      big.NewInt(1),
			Retry:       fastPolicy(),
		},
		Gas:     GasSimulatorConfig{Retry: fastPolicy()},
		Submit:  fastPolicy(),
		Receipt: fastPolicy(),
	}
}

func newTestPipeline(t *testing.T, client ChainClient, signer Signer, obs Observer) *Pipeline {
	t.Helper()
	p, err := NewPipeline(client, signer, testPipelineConfig(), testLogger(), obs)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}
