package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// Mode is the chain-endpoint mode the facilitator runs in, resolved once at
// startup from the Tenderly-related settings.
type Mode int

const (
	// ModeProduction delegates verify/settle to the upstream facilitator.
	ModeProduction Mode = iota

	// ModeFixedEndpoint uses an operator-supplied RPC URL, assumed pre-funded.
	ModeFixedEndpoint

	// ModeDynamicSandbox provisions a Virtual TestNet on first use.
	ModeDynamicSandbox
)

func (m Mode) String() string {
	switch m {
	case ModeProduction:
		return "production"
	case ModeFixedEndpoint:
		return "fixed-endpoint"
	case ModeDynamicSandbox:
		return "dynamic-sandbox"
	default:
		return "unknown"
	}
}

// Error is a fatal configuration error; main exits non-zero on it.
type Error struct{ msg string }

func (e *Error) Error() string { return e.msg }

func errorf(format string, args ...any) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

type Config struct {
	Server      ServerConfig
	Facilitator FacilitatorConfig
	Tenderly    TenderlyConfig

	// Mode is derived during Load, never read from the environment directly.
	Mode Mode `mapstructure:"-"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type FacilitatorConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	TestWalletKey string `mapstructure:"test_wallet_key"`
	UpstreamURL   string `mapstructure:"upstream_url"`
}

type TenderlyConfig struct {
	RPC         string `mapstructure:"rpc"`
	AccountName string `mapstructure:"account_name"`
	ProjectName string `mapstructure:"project_name"`
	AccessKey   string `mapstructure:"access_key"`
	Dynamic     bool   `mapstructure:"dynamic"`
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8402)
	v.SetDefault("facilitator.upstream_url", "https://x402.org/facilitator")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":                 "FACILITATOR_PORT",
		"facilitator.private_key":     "FACILITATOR_PRIVATE_KEY",
		"facilitator.test_wallet_key": "TEST_WALLET_PRIVATE_KEY",
		"facilitator.upstream_url":    "UPSTREAM_FACILITATOR_URL",
		"tenderly.rpc":                "TENDERLY_RPC",
		"tenderly.account_name":       "TENDERLY_ACCOUNT_NAME",
		"tenderly.project_name":       "TENDERLY_PROJECT_NAME",
		"tenderly.access_key":         "TENDERLY_ACCESS_KEY",
		"tenderly.dynamic":            "TENDERLY_DYNAMIC",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errorf("unmarshal config: %v", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errorf("invalid port number: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if c.Facilitator.PrivateKey == "" {
		return errorf("required config missing: FACILITATOR_PRIVATE_KEY")
	}
	if err := validateURL(c.Facilitator.UpstreamURL, "UPSTREAM_FACILITATOR_URL"); err != nil {
		return err
	}

	return c.deriveMode()
}

// deriveMode resolves the endpoint mode once, so request handling never has to
// re-derive it from scattered optional fields.
//
// A fixed TENDERLY_RPC wins; it is operator-managed and needs no vendor
// credentials. Otherwise supplying TENDERLY_DYNAMIC or any vendor credential
// selects dynamic-sandbox mode, which requires the full account/project/key
// triplet. With none of these set, the process runs in production mode.
func (c *Config) deriveMode() error {
	t := &c.Tenderly

	if t.RPC != "" {
		if err := validateURL(t.RPC, "TENDERLY_RPC"); err != nil {
			return err
		}
		c.Mode = ModeFixedEndpoint
		return nil
	}

	if t.Dynamic || t.AccountName != "" || t.ProjectName != "" || t.AccessKey != "" {
		var missing []string
		if t.AccountName == "" {
			missing = append(missing, "TENDERLY_ACCOUNT_NAME")
		}
		if t.ProjectName == "" {
			missing = append(missing, "TENDERLY_PROJECT_NAME")
		}
		if t.AccessKey == "" {
			missing = append(missing, "TENDERLY_ACCESS_KEY")
		}
		if len(missing) > 0 {
			return errorf("dynamic sandbox mode requires the following fields: %s",
				strings.Join(missing, ", "))
		}
		c.Mode = ModeDynamicSandbox
		return nil
	}

	c.Mode = ModeProduction
	return nil
}

func validateURL(raw, field string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errorf("invalid URL for %s: %q", field, raw)
	}
	return nil
}
