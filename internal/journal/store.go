package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
)

// Entry is what a run remembers about a job once the node accepted its
// transaction. RawTx holds the signed bytes so a restart can wait for the
// same hash instead of signing again.
type Entry struct {
	Job         string         `json:"job"`
	From        common.Address `json:"from"`
	Hash        common.Hash    `json:"hash"`
	Nonce       uint64         `json:"nonce"`
	RawTx       hexutil.Bytes  `json:"raw_tx"`
	AcceptedAt  time.Time      `json:"accepted_at"`
	Confirmed   bool           `json:"confirmed"`
	BlockNumber uint64         `json:"block_number,omitempty"`
	Status      uint64         `json:"status,omitempty"`
}

// Transaction decodes the stored signed transaction.
func (e Entry) Transaction() (*types.Transaction, error) {
	if len(e.RawTx) == 0 {
		return nil, fmt.Errorf("journal entry %q has no raw transaction", e.Job)
	}
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(e.RawTx); err != nil {
		return nil, fmt.Errorf("journal entry %q: %w", e.Job, err)
	}
	if tx.Hash() != e.Hash {
		return nil, fmt.Errorf("journal entry %q: raw transaction hash %s does not match %s", e.Job, tx.Hash().Hex(), e.Hash.Hex())
	}
	return tx, nil
}

type Store struct {
	path    string
	mu      sync.Mutex
	entries map[string]Entry
	now     func() time.Time
}

type state struct {
	Entries []Entry `json:"entries"`
}

func New(path string) *Store {
	return &Store{path: path, entries: make(map[string]Entry), now: time.Now}
}

// Load reads the journal file. A missing file is an empty journal.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var st state
	if err := json.Unmarshal(b, &st); err != nil {
		return fmt.Errorf("journal %s: %w", s.path, err)
	}
	s.entries = make(map[string]Entry, len(st.Entries))
	for _, e := range st.Entries {
		s.entries[e.Job] = e
	}
	return nil
}

func (s *Store) Get(job string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[job]
	return e, ok
}

// RecordAccepted stores the signed transaction of job. It is written before
// the receipt wait starts.
func (s *Store) RecordAccepted(job string, from common.Address, signed *types.Transaction) error {
	raw, err := signed.MarshalBinary()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[job] = Entry{
		Job:        job,
		From:       from,
		Hash:       signed.Hash(),
		Nonce:      signed.Nonce(),
		RawTx:      raw,
		AcceptedAt: s.now().UTC(),
	}
	return s.saveLocked()
}

func (s *Store) RecordConfirmed(job string, receipt *types.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[job]
	if !ok {
		return fmt.Errorf("journal has no entry for job %q", job)
	}
	e.Confirmed = true
	e.Status = receipt.Status
	if receipt.BlockNumber != nil {
		e.BlockNumber = receipt.BlockNumber.Uint64()
	}
	s.entries[job] = e
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	st := state{Entries: make([]Entry, 0, len(s.entries))}
	for _, e := range s.entries {
		st.Entries = append(st.Entries, e)
	}
	sort.Slice(st.Entries, func(i, j int) bool { return st.Entries[i].Job < st.Entries[j].Job })
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("journal rename: %w", err)
	}
	return nil
}
