package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"evopanel/internal/client"
	"evopanel/internal/config"
	"evopanel/internal/hints"
	"evopanel/internal/tasks"
)

// app carries the resolved configuration and shared wiring for subcommands.
type app struct {
	out    io.Writer
	errOut io.Writer

	cfgPath    string
	envFiles   []string
	logLevel   string
	dev        bool
	serviceURL string
	hintsPath  string

	cfg config.Config
	log zerolog.Logger
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	a := &app{out: out, errOut: errOut}
	root := &cobra.Command{
		Use:           "evopanel",
		Short:         "Layer-blend recipe panel for a remote merge/inference service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgPath, "config", "", "Config file (.yaml, .json, .toml); defaults to EVOPANEL_CONFIG")
	pf.StringSliceVar(&a.envFiles, "env-file", []string{".env"}, "dotenv files loaded before EVOPANEL_* overrides")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level: debug|info|warn|error (defaults EVOPANEL_LOG_LEVEL or info)")
	pf.BoolVar(&a.dev, "dev", false, "Human-readable console logs")
	pf.StringVar(&a.serviceURL, "service-url", "", "Base URL of the remote task service")
	pf.StringVar(&a.hintsPath, "hints-path", "", "File storing per-model layer counts")

	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return a.resolve(cmd)
	}

	root.AddCommand(
		a.serveCmd(),
		a.modelsCmd(),
		a.mergeCmd(),
		a.generateCmd(),
		a.recipeCmd(),
		a.layersCmd(),
	)
	return root
}

// resolve merges file, environment and flag settings. Flags win.
func (a *app) resolve(cmd *cobra.Command) error {
	cfg, err := config.Resolve(a.cfgPath, a.envFiles...)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = a.logLevel
	}
	if flags.Changed("dev") {
		cfg.Dev = a.dev
	}
	if flags.Changed("service-url") {
		cfg.ServiceURL = a.serviceURL
	}
	if flags.Changed("hints-path") {
		cfg.HintsPath = a.hintsPath
	}
	a.cfg = cfg
	a.log = newLogger(a.errOut, cfg.LogLevel, cfg.Dev)
	return nil
}

func newLogger(w io.Writer, level string, dev bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if w == nil {
		w = os.Stderr
	}
	if dev {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func (a *app) hintsStore() (*hints.Store, error) {
	backend, err := hints.NewFileBackend(a.cfg.HintsPath)
	if err != nil {
		return nil, err
	}
	return hints.New(backend, a.cfg.LayerCounts, hints.WithLogger(a.log.With().Str("component", "hints").Logger()))
}

func (a *app) poller() (*tasks.Poller, error) {
	c, err := client.New(client.Config{
		BaseURL:           a.cfg.ServiceURL,
		Timeout:           a.cfg.Client.RequestTimeout.Std(),
		RequestsPerSecond: a.cfg.Client.RequestsPerSecond,
	}, client.WithLogger(a.log.With().Str("component", "client").Logger()))
	if err != nil {
		return nil, err
	}
	tl := a.log.With().Str("component", "tasks").Logger()
	return tasks.New(c, tasks.Config{
		Interval:    a.cfg.Poll.Interval.Std(),
		MaxAttempts: a.cfg.Poll.MaxAttempts,
		Timeout:     a.cfg.Poll.Timeout.Std(),
	}, tasks.WithLogger(tl), tasks.WithPublisher(tasks.LogPublisher{Log: tl})), nil
}

// group returns a parent command that only lists its subcommands.
func group(use, short string, subs ...*cobra.Command) *cobra.Command {
	c := &cobra.Command{Use: use, Short: short, RunE: func(cmd *cobra.Command, args []string) error {
		names := make([]string, 0, len(subs))
		for _, s := range subs {
			names = append(names, s.Name())
		}
		return fmt.Errorf("%s requires a subcommand: %s", use, strings.Join(names, "|"))
	}}
	c.AddCommand(subs...)
	return c
}
