package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/sync/errgroup"

	"txsubmit/internal/config"
	"txsubmit/internal/journal"
	"txsubmit/internal/keys"
	"txsubmit/internal/report"
	"txsubmit/internal/txbuilder"
)

// ErrReverted is returned for a job whose transaction was mined with a failed
// status.
var ErrReverted = errors.New("transaction reverted")

type Options struct {
	// Jobs restricts the run to the named jobs; empty means all.
	Jobs     []string
	Reporter *report.Reporter
	// Observer receives pipeline events next to the reporter, e.g. metrics.
	Observer txbuilder.Observer
}

type App struct {
	cfg    *config.Config
	logger *slog.Logger
	opts   Options

	dial func(ctx context.Context) (txbuilder.ChainClient, func(), error)
}

func New(cfg *config.Config, logger *slog.Logger, opts Options) *App {
	if opts.Reporter == nil {
		opts.Reporter = report.New(io.Discard, true)
	}
	a := &App{cfg: cfg, logger: logger, opts: opts}
	a.dial = a.dialHTTP
	return a
}

// Run submits every selected job. Jobs signed by different accounts run
// concurrently; jobs of one account run in config order and stop at the
// first failure.
func (a *App) Run(ctx context.Context) error {
	env, err := a.prepare(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	var store *journal.Store
	if a.cfg.Journal.Path != "" {
		store = journal.New(a.cfg.Journal.Path)
		if err := store.Load(); err != nil {
			return err
		}
	}

	groups, err := a.groupByAccount(env.jobs)
	if err != nil {
		return err
	}
	locks := txbuilder.NewAccountLocks()

	// The group only joins the account goroutines. A failing account must
	// not cancel the others, so each one records its own error instead of
	// returning it to Wait.
	errs := make([]error, len(groups))
	var g errgroup.Group
	for i, grp := range groups {
		i, grp := i, grp
		g.Go(func() error {
			for _, job := range grp.jobs {
				if err := a.runJob(ctx, env, grp.signer, locks, store, job); err != nil {
					errs[i] = fmt.Errorf("job %q: %w", job.Name, err)
					break
				}
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

// Estimate runs only the fee and gas stages for every selected job.
func (a *App) Estimate(ctx context.Context) error {
	env, err := a.prepare(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	groups, err := a.groupByAccount(env.jobs)
	if err != nil {
		return err
	}
	for _, grp := range groups {
		for _, job := range grp.jobs {
			req, err := txbuilder.RequestFromJob(job)
			if err != nil {
				return fmt.Errorf("job %q: %w", job.Name, err)
			}
			rep := a.opts.Reporter.ForJob(job.Name)
			p, err := txbuilder.NewPipeline(env.client, grp.signer, env.pcfg, a.logger.With("job", job.Name), a.observer(rep))
			if err != nil {
				return err
			}
			rep.Start(p.From(), req.To, req.Value, req.Data)
			fees, gas, err := p.Estimate(ctx, req)
			if err != nil {
				return fmt.Errorf("job %q: %w", job.Name, err)
			}
			rep.Estimated(fees, gas)
		}
	}
	return nil
}

func (a *App) runJob(ctx context.Context, env *runEnv, signer txbuilder.Signer, locks *txbuilder.AccountLocks, store *journal.Store, job config.Job) error {
	logger := a.logger.With("job", job.Name)
	req, err := txbuilder.RequestFromJob(job)
	if err != nil {
		return err
	}
	rep := a.opts.Reporter.ForJob(job.Name)
	p, err := txbuilder.NewPipeline(env.client, signer, env.pcfg, logger, a.observer(rep))
	if err != nil {
		return err
	}
	p.SetAccountLocks(locks)

	if store != nil {
		if entry, ok := store.Get(job.Name); ok {
			if entry.From != p.From() {
				return fmt.Errorf("journal entry was sent from %s, job is now signed by %s", entry.From.Hex(), p.From().Hex())
			}
			if entry.Confirmed {
				logger.Info("job already confirmed, skipping", "tx_hash", entry.Hash.Hex(), "block", entry.BlockNumber)
				rep.Skipped(entry.Hash, entry.BlockNumber)
				if entry.Status == 0 {
					return fmt.Errorf("%w: %s", ErrReverted, entry.Hash.Hex())
				}
				return nil
			}
			signed, err := entry.Transaction()
			if err != nil {
				return err
			}
			logger.Info("resuming accepted transaction", "tx_hash", entry.Hash.Hex(), "nonce", entry.Nonce)
			rep.Resuming(entry.Hash)
			out, err := p.Resume(ctx, signed)
			return a.finish(logger, store, job, out, err)
		}
		req.OnAccepted = func(signed *types.Transaction) {
			if err := store.RecordAccepted(job.Name, p.From(), signed); err != nil {
				logger.Error("journal write failed", "error", err)
			}
		}
	}

	rep.Start(p.From(), req.To, req.Value, req.Data)
	out, err := p.Submit(ctx, req)
	return a.finish(logger, store, job, out, err)
}

func (a *App) finish(logger *slog.Logger, store *journal.Store, job config.Job, out *txbuilder.Outcome, err error) error {
	if err != nil {
		return err
	}
	if store != nil {
		if err := store.RecordConfirmed(job.Name, out.Receipt); err != nil {
			logger.Error("journal write failed", "error", err)
		}
	}
	if out.Reverted() {
		return fmt.Errorf("%w: %s", ErrReverted, out.Hash.Hex())
	}
	return nil
}

func (a *App) observer(rep *report.Reporter) txbuilder.Observer {
	if a.opts.Observer == nil {
		return rep
	}
	return txbuilder.Observers{rep, a.opts.Observer}
}

type runEnv struct {
	client txbuilder.ChainClient
	pcfg   txbuilder.PipelineConfig
	jobs   []config.Job
	close  func()
}

func (a *App) prepare(ctx context.Context) (*runEnv, error) {
	jobs, err := a.cfg.SelectJobs(a.opts.Jobs)
	if err != nil {
		return nil, err
	}
	client, closeFn, err := a.dial(ctx)
	if err != nil {
		return nil, err
	}
	chainID, err := a.resolveChainID(ctx, client)
	if err != nil {
		closeFn()
		return nil, err
	}
	pcfg, err := txbuilder.PipelineConfigFromConfig(a.cfg, chainID)
	if err != nil {
		closeFn()
		return nil, err
	}
	return &runEnv{client: client, pcfg: pcfg, jobs: jobs, close: closeFn}, nil
}

func (a *App) resolveChainID(ctx context.Context, client txbuilder.ChainClient) (*big.Int, error) {
	cctx, cancel := withTimeout(ctx, a.cfg.RPC.RequestTimeout.Duration)
	defer cancel()
	chainID, err := client.ChainID(cctx)
	if err != nil {
		return nil, fmt.Errorf("chain id: %w", err)
	}
	if a.cfg.ChainID != 0 && chainID.Uint64() != a.cfg.ChainID {
		return nil, fmt.Errorf("node reports chain id %s, config expects %d", chainID, a.cfg.ChainID)
	}
	a.logger.Info("chain id resolved", "chain_id", chainID)
	return chainID, nil
}

type accountGroup struct {
	signer txbuilder.Signer
	jobs   []config.Job
}

// groupByAccount loads one signer per distinct account and keeps job order
// within each group.
func (a *App) groupByAccount(jobs []config.Job) ([]*accountGroup, error) {
	byName := make(map[string]*accountGroup)
	var groups []*accountGroup
	for _, job := range jobs {
		grp, ok := byName[job.Account]
		if !ok {
			signer, err := loadSigner(a.cfg.AccountFor(job))
			if err != nil {
				name := job.Account
				if name == "" {
					name = "default"
				}
				return nil, fmt.Errorf("account %s: %w", name, err)
			}
			grp = &accountGroup{signer: signer}
			byName[job.Account] = grp
			groups = append(groups, grp)
		}
		grp.jobs = append(grp.jobs, job)
	}
	return groups, nil
}

func loadSigner(acct config.AccountConfig) (txbuilder.Signer, error) {
	var want common.Address
	if acct.Address != "" {
		want = common.HexToAddress(acct.Address)
	}
	if acct.KeystoreDir != "" {
		m, err := keys.NewManager(acct.KeystoreDir, os.Getenv(acct.PassphraseEnv))
		if err != nil {
			return nil, err
		}
		if !m.PassphraseSet() {
			return nil, fmt.Errorf("%s is not set", acct.PassphraseEnv)
		}
		signer, err := m.Signer(want)
		if err != nil {
			return nil, err
		}
		return signer, nil
	}
	raw := strings.TrimSpace(os.Getenv(acct.PrivateKeyEnv))
	if raw == "" {
		return nil, fmt.Errorf("%s is not set", acct.PrivateKeyEnv)
	}
	signer, err := keys.NewPrivateKeySigner(raw)
	if err != nil {
		return nil, err
	}
	if want != (common.Address{}) && signer.Address() != want {
		return nil, fmt.Errorf("%s holds the key of %s, expected %s", acct.PrivateKeyEnv, signer.Address().Hex(), want.Hex())
	}
	return signer, nil
}

func (a *App) dialHTTP(context.Context) (txbuilder.ChainClient, func(), error) {
	url, err := a.cfg.RPCURL()
	if err != nil {
		return nil, nil, err
	}
	httpClient := &http.Client{
		Timeout: a.cfg.RPC.RequestTimeout.Duration,
	}
	rpcClient, err := rpc.DialHTTPWithClient(url, httpClient)
	if err != nil {
		return nil, nil, err
	}
	rpcClient.SetHeader("User-Agent", a.cfg.RPC.UserAgent)
	a.logger.Info("rpc http connected")
	return ethclient.NewClient(rpcClient), rpcClient.Close, nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
