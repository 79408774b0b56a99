/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind        string
	countdown   time.Duration
	pokeapi     string
	port        int
	prefix      string
	profile     bool
	roundDelay  time.Duration
	rounds      int
	roomTimeout time.Duration
	targetScore int
	tlsCert     string
	tlsKey      string
	verbose     bool
	version     bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.rounds < 1 {
		return fmt.Errorf("invalid round count (must be at least 1): %d", c.rounds)
	}
	if c.targetScore < 1 {
		return fmt.Errorf("invalid target score (must be at least 1): %d", c.targetScore)
	}
	if c.countdown < 0 || c.roundDelay < 0 {
		return errors.New("countdown and round delay must not be negative")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("POKEBATTLE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "pokebattle",
		Short:         "A real-time two-player \"guess the Pokémon\" battle server.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: POKEBATTLE_BIND)")
	fs.DurationVar(&cfg.countdown, "countdown", 3*time.Second, "pre-round countdown duration (env: POKEBATTLE_COUNTDOWN)")
	fs.StringVar(&cfg.pokeapi, "pokeapi", "", "base URL of a PokéAPI instance; empty uses the embedded dex (env: POKEBATTLE_POKEAPI)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: POKEBATTLE_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: POKEBATTLE_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: POKEBATTLE_PROFILE)")
	fs.DurationVar(&cfg.roundDelay, "round-delay", 5*time.Second, "time the round result is shown before the next round (env: POKEBATTLE_ROUND_DELAY)")
	fs.IntVar(&cfg.rounds, "rounds", 5, "number of rounds per match (env: POKEBATTLE_ROUNDS)")
	fs.DurationVar(&cfg.roomTimeout, "room-timeout", 60*time.Minute, "time before idle rooms are deleted, 0 disables (env: POKEBATTLE_ROOM_TIMEOUT)")
	fs.IntVar(&cfg.targetScore, "target-score", 3, "score that ends the match early (env: POKEBATTLE_TARGET_SCORE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: POKEBATTLE_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: POKEBATTLE_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: POKEBATTLE_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: POKEBATTLE_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("pokebattle v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
