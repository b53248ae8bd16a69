package keys

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

const (
	hardhatKey  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	hardhatAddr = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

func testTx() *types.Transaction {
	to := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(31337),
		Nonce:     1,
		Gas:       21000,
		GasFeeCap: big.NewInt(8),
		GasTipCap: big.NewInt(2),
		To:        &to,
		Value:     big.NewInt(1),
	})
}

func TestPrivateKeySigner(t *testing.T) {
	for _, in := range []string{hardhatKey, "0x" + hardhatKey, "  0x" + hardhatKey + "\n"} {
		s, err := NewPrivateKeySigner(in)
		require.NoError(t, err)
		require.Equal(t, common.HexToAddress(hardhatAddr), s.Address())
	}

	s, err := NewPrivateKeySigner(hardhatKey)
	require.NoError(t, err)
	chainID := big.NewInt(31337)
	signed, err := s.SignTx(testTx(), chainID)
	require.NoError(t, err)
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	require.Equal(t, s.Address(), sender)

	_, err = s.SignTx(testTx(), nil)
	require.Error(t, err)
}

func TestPrivateKeySignerRejectsBadKeys(t *testing.T) {
	for _, in := range []string{"", "0x", "zz", hardhatKey[:10]} {
		_, err := NewPrivateKeySigner(in)
		require.Error(t, err, "input %q", in)
		require.NotContains(t, err.Error(), hardhatKey[:10])
	}
}

func TestKeystoreSigner(t *testing.T) {
	dir := t.TempDir()
	key, err := crypto.HexToECDSA(hardhatKey)
	require.NoError(t, err)
	ks := keystore.NewKeyStore(dir, keystore.LightScryptN, keystore.LightScryptP)
	_, err = ks.ImportECDSA(key, "secret")
	require.NoError(t, err)

	m, err := NewManager(dir, "secret")
	require.NoError(t, err)
	require.True(t, m.PassphraseSet())
	require.Equal(t, []common.Address{common.HexToAddress(hardhatAddr)}, m.Accounts())

	// zero address picks the only account
	s, err := m.Signer(common.Address{})
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(hardhatAddr), s.Address())

	chainID := big.NewInt(31337)
	signed, err := s.SignTx(testTx(), chainID)
	require.NoError(t, err)
	sender, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	require.Equal(t, s.Address(), sender)

	_, err = m.Signer(common.HexToAddress("0x01"))
	require.True(t, errors.Is(err, ErrAccountNotFound))
}

func TestKeystoreSignerWithoutPassphrase(t *testing.T) {
	dir := t.TempDir()
	ks := keystore.NewKeyStore(dir, keystore.LightScryptN, keystore.LightScryptP)
	acct, err := ks.NewAccount("secret")
	require.NoError(t, err)

	m, err := NewManager(dir, "")
	require.NoError(t, err)
	s, err := m.Signer(acct.Address)
	require.NoError(t, err)
	_, err = s.SignTx(testTx(), big.NewInt(31337))
	require.Error(t, err)
}

func TestNewManagerRequiresDir(t *testing.T) {
	_, err := NewManager(" ", "x")
	require.Error(t, err)
}
