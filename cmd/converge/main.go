package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/steelcutops/converge/converge/catalog"
	"github.com/steelcutops/converge/converge/engine"
	"github.com/steelcutops/converge/converge/host"
	"github.com/steelcutops/converge/converge/repository"
	"github.com/steelcutops/converge/converge/scheduler"
	"github.com/steelcutops/converge/logger"
)

type flags struct {
	Repository         string
	Inventories        []string
	LogFileName        string
	Debug              bool
	JSONLog            bool
	Username           string
	KnownHosts         string
	Parallel           int
	Workers            int
	Timeout            time.Duration
	Rate               float64
	Drift              bool
	NoVerify           bool
	Interval           time.Duration
	StateDir           string
	GitState           bool
	Format             string
	Verbose            bool
	Trace              bool
	ShowItems          bool
	PasswordPrompt     bool
	KeyPassPrompt      bool
	SudoPasswordPrompt bool
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	f := &flags{}
	root := &cobra.Command{
		Use:   "converge",
		Short: "Converge nodes to their declared configuration",
		Long: `converge brings every selected node to the state declared in the
repository: packages, services, users, directories and symlinks. Items are
probed first and only changed when they are wrong.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)

	pf := root.PersistentFlags()
	pf.StringVarP(&f.Repository, "repo", "r", "repository.yaml", "Repository file with nodes, groups and bundles")
	pf.StringSliceVar(&f.Inventories, "ini", nil, "INI inventory with hosts per group (repeatable)")
	pf.StringVar(&f.LogFileName, "log", "", "Log file name (default stderr)")
	pf.BoolVar(&f.Debug, "debug", false, "Enable debug log level")
	pf.BoolVar(&f.JSONLog, "json-log", false, "Log as JSON")

	root.AddCommand(newApplyCmd(f), newVerifyGraphCmd(f), newNodesCmd(f))
	return root
}

func newApplyCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply [node|group...]",
		Short: "Converge the selected nodes, or all of them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd, f, args)
		},
	}
	fl := cmd.Flags()
	fl.IntVar(&f.Parallel, "parallel", scheduler.DefaultParallel, "Maximum number of nodes converged at once")
	fl.IntVar(&f.Workers, "workers", engine.DefaultWorkers, "Maximum number of items in flight per node")
	fl.DurationVar(&f.Timeout, "timeout", host.DefaultCommandTimeout, "Timeout of a single command")
	fl.Float64Var(&f.Rate, "rate", 0, "Commands per second per node (0 = unlimited)")
	fl.BoolVar(&f.Drift, "drift", false, "Report existing items that are not declared")
	fl.BoolVar(&f.NoVerify, "no-verify", false, "Do not probe items again after fixing them")
	fl.DurationVar(&f.Interval, "interval", 0, "Converge again after every interval until interrupted")
	fl.StringVar(&f.StateDir, "state-dir", "", "Directory to keep the result of every node in")
	fl.BoolVar(&f.GitState, "git-state", false, "Commit every state change; --state-dir must be a git work tree")
	fl.StringVar(&f.Format, "format", "text", "Report format: text or json")
	fl.BoolVarP(&f.Verbose, "verbose", "v", false, "Also list items that were already correct")
	fl.BoolVar(&f.Trace, "trace", false, "Print OpenTelemetry spans to stderr")
	fl.StringVar(&f.Username, "username", "", "Username to use for SSH connection")
	fl.StringVar(&f.KnownHosts, "known-hosts", "", "known_hosts file to verify host keys against")
	fl.BoolVar(&f.PasswordPrompt, "password", false, "Use a password for SSH connection")
	fl.BoolVar(&f.KeyPassPrompt, "keypass", false, "Passphrase for decrypting SSH keys")
	fl.BoolVar(&f.SudoPasswordPrompt, "sudo-password", false, "Prompt for sudo password")
	return cmd
}

func newVerifyGraphCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-graph [node|group...]",
		Short: "Check item dependencies of the selected nodes without contacting them",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerifyGraph(cmd, f, args)
		},
	}
}

func newNodesCmd(f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "nodes [node|group...]",
		Short: "List the selected nodes with their groups and bundles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNodes(cmd, f, args)
		},
	}
	cmd.Flags().BoolVar(&f.ShowItems, "items", false, "Also list every item of each node")
	return cmd
}

func configureLogger(f *flags) (logger.Logger, func(), error) {
	opts := logger.Options{Debug: f.Debug, JSON: f.JSONLog}
	closeLog := func() {}
	if f.LogFileName != "" {
		file, err := os.OpenFile(f.LogFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		opts.Output = file
		closeLog = func() { file.Close() }
	}
	log := logger.New(opts)
	if f.Debug {
		log.Debug("Debug mode enabled")
	}
	return log, closeLog, nil
}

func loadRepository(f *flags) (*repository.Repository, error) {
	return repository.Load(catalog.Registry(), f.Repository, f.Inventories...)
}

func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}

func buildHostOptions(f *flags, log logger.Logger) ([]host.HostOption, error) {
	options := []host.HostOption{
		host.WithLogger(log),
		host.WithCommandTimeout(f.Timeout),
		host.WithRateLimit(f.Rate),
	}
	if f.Username != "" {
		options = append(options, host.WithUser(f.Username))
	}
	if f.KnownHosts != "" {
		options = append(options, host.WithKnownHosts(f.KnownHosts))
	}
	if f.PasswordPrompt {
		password, err := readSecret("Enter the password: ")
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		options = append(options, host.WithPassword(password))
	}
	if f.KeyPassPrompt {
		keyPass, err := readSecret("Enter the key passphrase: ")
		if err != nil {
			return nil, fmt.Errorf("failed to read key passphrase: %w", err)
		}
		options = append(options, host.WithKeyPassphrase(keyPass))
	}
	if f.SudoPasswordPrompt {
		sudoPassword, err := readSecret("Enter the sudo password: ")
		if err != nil {
			return nil, fmt.Errorf("failed to read sudo password: %w", err)
		}
		if sudoPassword != "" {
			options = append(options, host.WithSudoPassword(sudoPassword))
		}
	}
	return options, nil
}

// withSignals cancels the returned context on the first interrupt so that
// items in flight can finish; a second interrupt exits at once.
func withSignals(parent context.Context, log logger.Logger) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 2)
	done := make(chan struct{})
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigs:
			log.Warn("Interrupted, waiting for items in flight; interrupt again to quit")
			cancel()
		case <-done:
			return
		}
		select {
		case <-sigs:
			log.Error("Interrupted again, exiting")
			os.Exit(130)
		case <-done:
		}
	}()

	return ctx, func() {
		signal.Stop(sigs)
		close(done)
		cancel()
	}
}
