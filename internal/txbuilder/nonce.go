package txbuilder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// NonceMode selects which account view a nonce is read from.
type NonceMode string

const (
	// NoncePending counts transactions still in the node's pool.
	NoncePending NonceMode = "pending"
	// NonceLatest counts confirmed transactions only.
	NonceLatest NonceMode = "latest"
)

func ParseNonceMode(s string) (NonceMode, error) {
	switch NonceMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", NoncePending:
		return NoncePending, nil
	case NonceLatest:
		return NonceLatest, nil
	default:
		return "", fmt.Errorf("unknown nonce mode %q", s)
	}
}

type NonceResolver struct {
	client   ChainClient
	mode     NonceMode
	observer Observer
}

func NewNonceResolver(client ChainClient, mode NonceMode, observer Observer) *NonceResolver {
	if mode == "" {
		mode = NoncePending
	}
	return &NonceResolver{client: client, mode: mode, observer: observerOrNop(observer)}
}

// Resolve reads the next nonce for addr once; it does not retry.
func (r *NonceResolver) Resolve(ctx context.Context, addr common.Address) (uint64, error) {
	return r.ResolveMode(ctx, addr, r.mode)
}

func (r *NonceResolver) ResolveMode(ctx context.Context, addr common.Address, mode NonceMode) (uint64, error) {
	if r.client == nil {
		return 0, errors.New("nonce resolver client is nil")
	}
	var (
		nonce uint64
		err   error
	)
	switch mode {
	case NonceLatest:
		nonce, err = r.client.NonceAt(ctx, addr, nil)
	default:
		nonce, err = r.client.PendingNonceAt(ctx, addr)
	}
	if err != nil {
		return 0, stageError(ctx, StageNonce, TransientRead, err)
	}
	r.observer.NonceResolved(addr, nonce)
	return nonce, nil
}

// AccountLocks serializes submission runs per sender account. Two runs for
// the same account would otherwise read the same pending nonce.
type AccountLocks struct {
	mu    sync.Mutex
	locks map[common.Address]*sync.Mutex
}

func NewAccountLocks() *AccountLocks {
	return &AccountLocks{locks: make(map[common.Address]*sync.Mutex)}
}

// Lock blocks until addr is free and returns the matching unlock.
func (l *AccountLocks) Lock(addr common.Address) func() {
	l.mu.Lock()
	m, ok := l.locks[addr]
	if !ok {
		m = &sync.Mutex{}
		l.locks[addr] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
