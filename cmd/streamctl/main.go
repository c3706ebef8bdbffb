package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/streamctl/internal/admin"
	"github.com/danmuck/streamctl/internal/config"
	"github.com/danmuck/streamctl/internal/control"
	"github.com/danmuck/streamctl/internal/hostsim"
	"github.com/danmuck/streamctl/internal/logging"
	"github.com/danmuck/streamctl/internal/observability"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	hostFlag   string
	listenFlag string

	templateKind  string
	templateOut   string
	templateForce bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "streamctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "streamctl",
		Short:         "Control channel client for a game-streaming session.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			logging.ConfigureRuntime()
			observability.InitLogger("streamctl")
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a streamctl TOML config")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to a host and run the control stream until interrupted.",
		Args:  cobra.NoArgs,
		RunE:  runSession,
	}
	runCmd.Flags().StringVar(&hostFlag, "host", "", "streaming host, overrides the config file")

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Start a simulated streaming host.",
		Args:  cobra.NoArgs,
		RunE:  runSimulator,
	}
	simulateCmd.Flags().StringVar(&listenFlag, "listen", "", "listen address, overrides simulator.listen")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or check config files.",
	}
	templateCmd := &cobra.Command{
		Use:   "template",
		Short: "Print or write a config template.",
		Args:  cobra.NoArgs,
		RunE:  runTemplate,
	}
	templateCmd.Flags().StringVar(&templateKind, "kind", "client", "template kind: client or simulator")
	templateCmd.Flags().StringVarP(&templateOut, "out", "o", "", "write to this path instead of stdout")
	templateCmd.Flags().BoolVar(&templateForce, "force", false, "overwrite an existing file")
	validateCmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Strictly parse and validate a config file.",
		Args:  cobra.ExactArgs(1),
		RunE:  runValidate,
	}
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config: defaults plus --config.",
		Args:  cobra.NoArgs,
		RunE:  runShow,
	}
	configCmd.AddCommand(templateCmd, validateCmd, showCmd)

	root.AddCommand(runCmd, simulateCmd, configCmd)
	return root
}

func resolveConfig() (runConfig, error) {
	cfg := defaultRunConfig()
	if strings.TrimSpace(configPath) != "" {
		loaded, err := loadRunConfig(configPath)
		if err != nil {
			return runConfig{}, err
		}
		cfg = loaded
	}
	applyLogLevel(cfg.LogLevel)
	return cfg, nil
}

// applyLogLevel prefers --log-level, then the env var, then the file.
func applyLogLevel(fileLevel string) {
	if logLevel != "" {
		if !logging.SetLevel(logLevel) {
			log.Warn().Str("level", logLevel).Msg("unknown log level flag ignored")
		}
		return
	}
	if os.Getenv(logging.EnvLogLevel) != "" || fileLevel == "" {
		return
	}
	if !logging.SetLevel(fileLevel) {
		log.Warn().Str("level", fileLevel).Msg("unknown log level in config ignored")
	}
}

func runSession(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	if hostFlag != "" {
		cfg.Host = strings.TrimSpace(hostFlag)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	terminated := make(chan error, 1)
	listener := control.ListenerFuncs{
		OnMessage: func(message string) {
			fmt.Fprintln(out, message)
		},
		OnTerminated: func(err error) {
			select {
			case terminated <- err:
			default:
			}
		},
	}

	stream, err := control.NewStream(cfg.Host, listener, cfg.Session)
	if err != nil {
		return err
	}
	if err := stream.Initialize(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", stream.Addr(), err)
	}
	defer stream.Abort()
	if err := stream.Start(ctx); err != nil {
		return fmt.Errorf("start %s: %w", stream.Addr(), err)
	}

	var adminErr chan error
	if cfg.Admin.Listen != "" {
		adminErr = make(chan error, 1)
		srv := admin.New(admin.Config{
			Listen:      cfg.Admin.Listen,
			CorsOrigins: cfg.Admin.CorsOrigins,
			Token:       cfg.Admin.Token,
		}, stream)
		go func() {
			adminErr <- srv.Run(ctx)
		}()
	}

	select {
	case <-ctx.Done():
		log.Info().Str("session", stream.ID()).Msg("interrupted, aborting control stream")
		return nil
	case err := <-terminated:
		if errors.Is(err, control.ErrInterrupted) {
			return nil
		}
		return fmt.Errorf("control stream terminated: %w", err)
	case err := <-adminErr:
		if err != nil {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	}
}

func runSimulator(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	addr := cfg.Simulator.Listen
	if listenFlag != "" {
		addr = listenFlag
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := hostsim.Listen(addr, cfg.Simulator.Host)
	if err != nil {
		return fmt.Errorf("simulator listen %s: %w", addr, err)
	}
	log.Info().Str("addr", srv.Addr()).Uint16("reply_status", cfg.Simulator.Host.ReplyStatus).Msg("simulated host listening")
	return srv.Serve(ctx)
}

func runTemplate(cmd *cobra.Command, _ []string) error {
	if templateOut != "" {
		if err := config.WriteTemplate(templateOut, templateKind, templateForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s template to %s\n", templateKind, templateOut)
		return nil
	}
	body, err := config.Template(templateKind)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), body)
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(args[0]); err != nil {
		return err
	}
	if _, err := loadRunConfig(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", args[0])
	return nil
}

func runShow(cmd *cobra.Command, _ []string) error {
	cfg, err := resolveConfig()
	if err != nil {
		return err
	}
	body, err := config.Encode(cfg.fileView())
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(body)
	return err
}
