// Package config binds cobra flags, environment variables (CARDTABLE_*),
// and defaults into a single Config the server starts from, grounded on
// partybox's cobra+viper+pflag wiring rather than the teacher's bare
// os.Getenv reads.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every flag/env-bindable setting the server needs to start.
type Config struct {
	Bind           string
	Port           int
	IdentitySecret string
	IdentityTTL    time.Duration
	TraceStdout    bool
	Verbose        bool
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port)
	}
	if c.IdentitySecret == "" {
		return fmt.Errorf("identity secret must not be empty")
	}
	return nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// BuildCommand wires cfg to a cobra root command; run is invoked once flags
// and environment variables have been resolved and validated.
func BuildCommand(cfg *Config, run func(cmd *cobra.Command, args []string) error) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("CARDTABLE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "cardtable",
		Short:         "A real-time multiplayer trick-taking card table server (Euchre, President, Spades).",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return run(cmd, args)
		},
	}

	fs := cmd.Flags()
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: CARDTABLE_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 8080, "port to listen on (env: CARDTABLE_PORT)")
	fs.StringVar(&cfg.IdentitySecret, "identity-secret", "dev-secret-change", "HMAC secret used to sign identity tokens (env: CARDTABLE_IDENTITY_SECRET)")
	fs.DurationVar(&cfg.IdentityTTL, "identity-ttl", 24*time.Hour, "lifetime of an issued identity token (env: CARDTABLE_IDENTITY_TTL)")
	fs.BoolVar(&cfg.TraceStdout, "trace-stdout", true, "emit OpenTelemetry traces to stdout (env: CARDTABLE_TRACE_STDOUT)")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", false, "display additional output (env: CARDTABLE_VERBOSE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})

	return cmd
}
