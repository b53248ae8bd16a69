package txbuilder

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"txsubmit/internal/config"
)

const factoryYAML = `
fees:
  priority_fee_gwei: 2
  buffer_wei: "1"
simulation:
  gas_limit_multiplier: 1.2
nonce:
  mode: latest
retry:
  submit:
    backoff: 2s
    max_attempts: 5
jobs:
  - name: mint
    to: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
    data: "0x1249c58b"
    value_eth: "0.1"
  - name: poke
    to: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
    value_wei: "0x10"
    nonce_mode: pending
`

func TestPipelineConfigFromConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(factoryYAML))
	require.NoError(t, err)

	pcfg, err := PipelineConfigFromConfig(cfg, testChainID)
	require.NoError(t, err)
	require.Equal(t, "2000000000", pcfg.Fees.PriorityFee.String())
	require.Equal(t, "1", pcfg.Fees.Buffer.String())
	require.Equal(t, NonceLatest, pcfg.NonceMode)
	require.Equal(t, 1.2, pcfg.Gas.GasLimitMultiplier)
	require.Equal(t, 2*time.Second, pcfg.Submit.Backoff)
	require.Equal(t, uint64(5), pcfg.Submit.MaxAttempts)
	require.Equal(t, 500*time.Millisecond, pcfg.Fees.Retry.Backoff)
	require.Zero(t, pcfg.Fees.Retry.MaxAttempts)
	require.Equal(t, time.Second, pcfg.Receipt.Backoff)
}

func TestPipelineConfigKeepsZeroFees(t *testing.T) {
	cfg, err := config.Parse([]byte(`
fees:
  priority_fee_gwei: 0
  buffer_gwei: 0
jobs:
  - to: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
`))
	require.NoError(t, err)

	pcfg, err := PipelineConfigFromConfig(cfg, testChainID)
	require.NoError(t, err)
	require.Zero(t, pcfg.Fees.PriorityFee.Sign())
	require.Zero(t, pcfg.Fees.Buffer.Sign())

	fees := NewFeeEnvelope(big.NewInt(5), pcfg.Fees.PriorityFee, pcfg.Fees.Buffer)
	require.Equal(t, int64(5), fees.MaxFeePerGas.Int64())
}

func TestPipelineConfigDecimalGwei(t *testing.T) {
	cfg, err := config.Parse([]byte(`
fees:
  priority_fee_gwei: 0.3
  buffer_gwei: 2.3
jobs:
  - to: "0x5FbDB2315678afecb367f032d93F642f64180aa3"
`))
	require.NoError(t, err)

	pcfg, err := PipelineConfigFromConfig(cfg, testChainID)
	require.NoError(t, err)
	require.Equal(t, "300000000", pcfg.Fees.PriorityFee.String())
	require.Equal(t, "2300000000", pcfg.Fees.Buffer.String())
}

func TestRequestFromJob(t *testing.T) {
	cfg, err := config.Parse([]byte(factoryYAML))
	require.NoError(t, err)

	mint, err := RequestFromJob(cfg.Jobs[0])
	require.NoError(t, err)
	require.Equal(t, testTo, mint.To)
	require.Equal(t, "100000000000000000", mint.Value.String())
	require.Equal(t, []byte{0x12, 0x49, 0xc5, 0x8b}, mint.Data)
	require.Equal(t, NonceMode(""), mint.NonceMode)

	poke, err := RequestFromJob(cfg.Jobs[1])
	require.NoError(t, err)
	require.Equal(t, int64(16), poke.Value.Int64())
	require.Nil(t, poke.Data)
	require.Equal(t, NoncePending, poke.NonceMode)

	_, err = RequestFromJob(config.Job{To: "nope"})
	require.Error(t, err)
}
