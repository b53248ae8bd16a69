package keys

import (
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var ErrAccountNotFound = errors.New("account not found")

// Manager signs with accounts from an encrypted geth keystore directory.
type Manager struct {
	ks         *keystore.KeyStore
	passphrase string
	dir        string
}

func NewManager(dir string, passphrase string) (*Manager, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("keystore dir is required")
	}
	ks := keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP)
	return &Manager{ks: ks, passphrase: passphrase, dir: dir}, nil
}

func (m *Manager) Accounts() []common.Address {
	acctList := m.ks.Accounts()
	out := make([]common.Address, 0, len(acctList))
	for _, acct := range acctList {
		out = append(out, acct.Address)
	}
	return out
}

func (m *Manager) FindAccount(addr common.Address) (accounts.Account, error) {
	acctList := m.ks.Accounts()
	for _, acct := range acctList {
		if acct.Address == addr {
			return acct, nil
		}
	}
	return accounts.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, addr.Hex())
}

func (m *Manager) SignTransaction(addr common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if m.passphrase == "" {
		return nil, errors.New("keystore passphrase is empty")
	}
	acct, err := m.FindAccount(addr)
	if err != nil {
		return nil, err
	}
	return m.ks.SignTxWithPassphrase(acct, m.passphrase, tx, chainID)
}

// Signer binds the manager to one account. A zero addr selects the only
// account in the keystore and fails when there is more than one.
func (m *Manager) Signer(addr common.Address) (*KeystoreSigner, error) {
	if addr == (common.Address{}) {
		all := m.Accounts()
		switch len(all) {
		case 0:
			return nil, fmt.Errorf("no accounts in %s", m.KeystoreDir())
		case 1:
			addr = all[0]
		default:
			return nil, fmt.Errorf("%d accounts in %s; set account.address", len(all), m.KeystoreDir())
		}
	}
	if _, err := m.FindAccount(addr); err != nil {
		return nil, err
	}
	return &KeystoreSigner{m: m, addr: addr}, nil
}

func (m *Manager) KeystoreDir() string {
	return filepath.Clean(m.dir)
}

func (m *Manager) PassphraseSet() bool {
	return m.passphrase != ""
}

type KeystoreSigner struct {
	m    *Manager
	addr common.Address
}

func (s *KeystoreSigner) Address() common.Address {
	return s.addr
}

func (s *KeystoreSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return s.m.SignTransaction(s.addr, tx, chainID)
}
