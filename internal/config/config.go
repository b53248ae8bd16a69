package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"
)

type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be a scalar")
	}
	if value.Value == "" {
		d.Duration = 0
		return nil
	}
	if value.Tag == "!!int" {
		var v int64
		if err := value.Decode(&v); err != nil {
			return err
		}
		d.Duration = time.Duration(v) * time.Millisecond
		return nil
	}
	dur, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	d.Duration = dur
	return nil
}

// RetryPolicy is a fixed backoff with an optional attempt cap; zero
// max_attempts retries until success or shutdown.
type RetryPolicy struct {
	Backoff     Duration `yaml:"backoff"`
	MaxAttempts uint64   `yaml:"max_attempts"`
}

// AccountConfig points at a signing key. KeystoreDir wins over
// PrivateKeyEnv when both are set.
type AccountConfig struct {
	Address       string `yaml:"address"`
	PrivateKeyEnv string `yaml:"private_key_env"`
	KeystoreDir   string `yaml:"keystore_dir"`
	PassphraseEnv string `yaml:"passphrase_env"`
}

type Config struct {
	ChainID uint64 `yaml:"chain_id"`

	RPC struct {
		HTTP           string   `yaml:"http"`
		HTTPEnv        string   `yaml:"http_env"`
		RequestTimeout Duration `yaml:"request_timeout"`
		UserAgent      string   `yaml:"user_agent"`
	} `yaml:"rpc"`

	// Account signs every job that does not name one of Accounts.
	Account  AccountConfig            `yaml:"account"`
	Accounts map[string]AccountConfig `yaml:"accounts"`

	// Gwei amounts are pointers so an explicit 0 survives applyDefaults.
	Fees struct {
		PriorityFeeGwei *float64 `yaml:"priority_fee_gwei"`
		PriorityFeeWei  string   `yaml:"priority_fee_wei"`
		BufferGwei      *float64 `yaml:"buffer_gwei"`
		BufferWei       string   `yaml:"buffer_wei"`
	} `yaml:"fees"`

	Simulation struct {
		RetryRejected      bool    `yaml:"retry_rejected"`
		GasLimitMultiplier float64 `yaml:"gas_limit_multiplier"`
	} `yaml:"simulation"`

	Nonce struct {
		Mode string `yaml:"mode"`
	} `yaml:"nonce"`

	Retry struct {
		Fee     RetryPolicy `yaml:"fee"`
		Gas     RetryPolicy `yaml:"gas"`
		Submit  RetryPolicy `yaml:"submit"`
		Receipt RetryPolicy `yaml:"receipt"`
	} `yaml:"retry"`

	Journal struct {
		Path string `yaml:"path"`
	} `yaml:"journal"`

	Metrics struct {
		Listen string `yaml:"listen"`
	} `yaml:"metrics"`

	Jobs []Job `yaml:"jobs"`
}

// Job is one transaction to submit. Exactly one of ValueEth and ValueWei may
// be set; neither means a zero value.
type Job struct {
	Name      string `yaml:"name"`
	To        string `yaml:"to"`
	Data      string `yaml:"data"`
	ValueEth  string `yaml:"value_eth"`
	ValueWei  string `yaml:"value_wei"`
	NonceMode string `yaml:"nonce_mode"`
	Account   string `yaml:"account"`
}

func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

func Parse(b []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.RPC.HTTPEnv == "" {
		c.RPC.HTTPEnv = "RPC_URL"
	}
	if c.RPC.RequestTimeout.Duration == 0 {
		c.RPC.RequestTimeout = Duration{Duration: 15 * time.Second}
	}
	if c.RPC.UserAgent == "" {
		c.RPC.UserAgent = "txsubmit"
	}
	if c.Account.PrivateKeyEnv == "" {
		c.Account.PrivateKeyEnv = "PRIVATE_KEY"
	}
	if c.Account.PassphraseEnv == "" {
		c.Account.PassphraseEnv = "TXSUBMIT_KEYSTORE_PASSPHRASE"
	}
	for name, acct := range c.Accounts {
		if acct.PassphraseEnv == "" {
			acct.PassphraseEnv = c.Account.PassphraseEnv
		}
		c.Accounts[name] = acct
	}
	if c.Fees.PriorityFeeGwei == nil && c.Fees.PriorityFeeWei == "" {
		c.Fees.PriorityFeeGwei = gwei(1)
	}
	if c.Fees.BufferGwei == nil && c.Fees.BufferWei == "" {
		c.Fees.BufferGwei = gwei(1)
	}
	if c.Nonce.Mode == "" {
		c.Nonce.Mode = "pending"
	}
	defaultBackoff(&c.Retry.Fee, 500*time.Millisecond)
	defaultBackoff(&c.Retry.Gas, 500*time.Millisecond)
	defaultBackoff(&c.Retry.Submit, 500*time.Millisecond)
	defaultBackoff(&c.Retry.Receipt, time.Second)
	for i := range c.Jobs {
		if c.Jobs[i].Name == "" {
			c.Jobs[i].Name = fmt.Sprintf("job-%d", i+1)
		}
	}
}

func gwei(v float64) *float64 {
	return &v
}

func defaultBackoff(p *RetryPolicy, d time.Duration) {
	if p.Backoff.Duration == 0 {
		p.Backoff = Duration{Duration: d}
	}
}

func (c *Config) validate() error {
	for _, v := range []*float64{c.Fees.PriorityFeeGwei, c.Fees.BufferGwei} {
		if v != nil && *v < 0 {
			return fmt.Errorf("fees must be non-negative")
		}
	}
	if c.Fees.PriorityFeeGwei != nil && c.Fees.PriorityFeeWei != "" {
		return fmt.Errorf("fees: priority_fee_gwei and priority_fee_wei are mutually exclusive")
	}
	if c.Fees.BufferGwei != nil && c.Fees.BufferWei != "" {
		return fmt.Errorf("fees: buffer_gwei and buffer_wei are mutually exclusive")
	}
	if c.Simulation.GasLimitMultiplier < 0 {
		return fmt.Errorf("simulation.gas_limit_multiplier must be non-negative")
	}
	if err := c.Account.validate(); err != nil {
		return fmt.Errorf("account: %w", err)
	}
	for name, acct := range c.Accounts {
		if acct.PrivateKeyEnv == "" && acct.KeystoreDir == "" {
			return fmt.Errorf("accounts.%s: private_key_env or keystore_dir is required", name)
		}
		if err := acct.validate(); err != nil {
			return fmt.Errorf("accounts.%s: %w", name, err)
		}
	}
	for name, p := range map[string]RetryPolicy{
		"fee": c.Retry.Fee, "gas": c.Retry.Gas, "submit": c.Retry.Submit, "receipt": c.Retry.Receipt,
	} {
		if p.Backoff.Duration < 0 {
			return fmt.Errorf("retry.%s.backoff must be positive", name)
		}
	}
	if len(c.Jobs) == 0 {
		return fmt.Errorf("at least one job is required")
	}
	seen := make(map[string]struct{}, len(c.Jobs))
	for _, job := range c.Jobs {
		if _, ok := seen[job.Name]; ok {
			return fmt.Errorf("duplicate job name %q", job.Name)
		}
		seen[job.Name] = struct{}{}
		if err := job.validate(); err != nil {
			return fmt.Errorf("job %q: %w", job.Name, err)
		}
		if job.Account != "" {
			if _, ok := c.Accounts[job.Account]; !ok {
				return fmt.Errorf("job %q: unknown account %q", job.Name, job.Account)
			}
		}
	}
	return nil
}

func (a AccountConfig) validate() error {
	if a.Address != "" && !common.IsHexAddress(a.Address) {
		return fmt.Errorf("address %q is not a hex address", a.Address)
	}
	return nil
}

func (j Job) validate() error {
	if !common.IsHexAddress(j.To) {
		return fmt.Errorf("to %q is not a hex address", j.To)
	}
	if j.Data != "" {
		if _, err := hexutil.Decode(j.Data); err != nil {
			return fmt.Errorf("data: %w", err)
		}
	}
	if j.ValueEth != "" && j.ValueWei != "" {
		return fmt.Errorf("value_eth and value_wei are mutually exclusive")
	}
	switch strings.ToLower(j.NonceMode) {
	case "", "pending", "latest":
	default:
		return fmt.Errorf("unknown nonce_mode %q", j.NonceMode)
	}
	return nil
}

// AccountFor returns the account config that signs job.
func (c *Config) AccountFor(job Job) AccountConfig {
	if job.Account == "" {
		return c.Account
	}
	return c.Accounts[job.Account]
}

// RPCURL returns the configured endpoint, falling back to the http_env
// variable.
func (c *Config) RPCURL() (string, error) {
	if c.RPC.HTTP != "" {
		return c.RPC.HTTP, nil
	}
	if v := strings.TrimSpace(os.Getenv(c.RPC.HTTPEnv)); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("rpc.http is empty and %s is not set", c.RPC.HTTPEnv)
}

// SelectJobs returns the jobs named in names, or all jobs when names is empty.
func (c *Config) SelectJobs(names []string) ([]Job, error) {
	if len(names) == 0 {
		return c.Jobs, nil
	}
	byName := make(map[string]Job, len(c.Jobs))
	for _, job := range c.Jobs {
		byName[job.Name] = job
	}
	out := make([]Job, 0, len(names))
	for _, name := range names {
		job, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown job %q", name)
		}
		out = append(out, job)
	}
	return out, nil
}
