package opal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"
	"unicode"

	"github.com/ethereum/go-ethereum/common"
	"github.com/naoina/toml"
)

// These settings ensure that TOML keys use the same names as Go struct fields.
var tomlSettings = toml.Config{
	NormFieldName: func(rt reflect.Type, key string) string {
		return key
	},
	FieldToKey: func(rt reflect.Type, field string) string {
		return field
	},
	MissingField: func(rt reflect.Type, field string) error {
		var link string
		if unicode.IsUpper(rune(rt.Name()[0])) && rt.PkgPath() != "main" {
			link = fmt.Sprintf(", see https://pkg.go.dev/%s#%s for available fields", rt.PkgPath(), rt.Name())
		}
		return fmt.Errorf("field '%s' is not defined in %s%s", field, rt.String(), link)
	},
}

// Duration is a time.Duration written as a string ("90s", "5m") in TOML.
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config is the file configuration of the deployment pipeline.
type Config struct {
	Node   NodeConfig
	Deploy DeployConfig
	Solc   SolcConfig
}

// NodeConfig selects the ledger node.
type NodeConfig struct {
	URL          string
	PollInterval Duration
}

// DeployConfig holds deployment policy.
type DeployConfig struct {
	GasLimit       uint64
	ContractName   string   `toml:",omitempty"`
	WatchTimeout   Duration `toml:",omitempty"`
	TrustedIssuers []string `toml:",omitempty"`
}

// SolcConfig locates the compiler.
type SolcConfig struct {
	Path string
	Args []string `toml:",omitempty"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return Config{
		Node: NodeConfig{
			URL:          "http://127.0.0.1:8545",
			PollInterval: Duration(DefaultPollInterval),
		},
		Deploy: DeployConfig{
			GasLimit: DefaultGasLimit,
		},
		Solc: SolcConfig{
			Path: "solc",
		},
	}
}

// LoadConfig reads a TOML file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()

	err = tomlSettings.NewDecoder(bufio.NewReader(f)).Decode(&cfg)
	// Add file name to errors that have a line number.
	if _, ok := err.(*toml.LineError); ok {
		err = errors.New(path + ", " + err.Error())
	}
	return cfg, err
}

// MarshalTOML renders the configuration as TOML.
func (c *Config) MarshalTOML() ([]byte, error) {
	return tomlSettings.Marshal(c)
}

// Issuers parses the trusted issuer addresses.
func (c *Config) Issuers() ([]common.Address, error) {
	out := make([]common.Address, 0, len(c.Deploy.TrustedIssuers))
	for _, s := range c.Deploy.TrustedIssuers {
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("opal: invalid trusted issuer %q", s)
		}
		out = append(out, common.HexToAddress(s))
	}
	return out, nil
}

// DeployerOptions translates the configuration into Deployer options. The
// envelope is verified only when trusted issuers are configured.
func (c *Config) DeployerOptions() ([]DeployerOption, error) {
	opts := []DeployerOption{
		WithDeployGasLimit(c.Deploy.GasLimit),
		WithContractName(c.Deploy.ContractName),
		WithDeployWatchTimeout(time.Duration(c.Deploy.WatchTimeout)),
	}
	issuers, err := c.Issuers()
	if err != nil {
		return nil, err
	}
	if len(issuers) > 0 {
		opts = append(opts, WithEnvelopeVerifier(NewIssuerVerifier(issuers...)))
	}
	return opts, nil
}

// NodeOptions translates the configuration into RPCNode options.
func (c *Config) NodeOptions() []NodeOption {
	return []NodeOption{WithPollInterval(time.Duration(c.Node.PollInterval))}
}

// Compiler returns the configured solc compiler.
func (c *Config) Compiler() *SolcCompiler {
	return NewSolcCompiler(c.Solc.Path, c.Solc.Args...)
}
