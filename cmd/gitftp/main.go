package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/schaermu/gitftp/internal/config"
	"github.com/schaermu/gitftp/internal/git"
	"github.com/schaermu/gitftp/internal/retry"
	"github.com/schaermu/gitftp/internal/sync"
	"github.com/schaermu/gitftp/internal/transfer"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	verbose   bool

	// Deployment flags
	scope        string
	user         string
	passwd       string
	keyFile      string
	syncRoot     string
	dryRun       bool
	force        bool
	all          bool
	activeMode   bool
	insecure     bool
	remoteLock   bool
	noRemoteLock bool
	retries      int
	timeout      string
)

func main() {
	err := rootCmd.Execute()
	os.Exit(sync.ExitCode(err))
}

var rootCmd = &cobra.Command{
	Use:   "gitftp",
	Short: "Deploy git repositories incrementally over FTP and SFTP",
	Long: `gitftp uploads the files of a git repository to a remote server and
remembers the deployed revision on the server itself. Subsequent pushes only
transfer the files that changed since that revision.

Supported targets: ftp://, ftps:// (implicit TLS), ftpes:// (explicit TLS),
sftp:// and file://.`,
	SilenceUsage: true,
}

var initCmd = &cobra.Command{
	Use:   "init [url]",
	Short: "Upload all files to a new target and record the revision",
	Args:  usageArgs(cobra.MaximumNArgs(1)),
	RunE:  runAction(actionInit),
}

var pushCmd = &cobra.Command{
	Use:   "push [url]",
	Short: "Upload the files changed since the deployed revision",
	Long: `Push compares the revision recorded on the target with HEAD and uploads
added and modified files, then deletes removed ones. Submodules are deployed
recursively with their own revision marker.`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: runAction(actionPush),
}

var catchupCmd = &cobra.Command{
	Use:   "catchup [url]",
	Short: "Record HEAD as deployed without uploading anything",
	Long: `Catchup is for targets that already hold the current files, for example
after a manual upload.`,
	Args: usageArgs(cobra.MaximumNArgs(1)),
	RunE: runAction(actionCatchup),
}

var showCmd = &cobra.Command{
	Use:   "show [url]",
	Short: "Show the revision deployed on the target",
	Args:  usageArgs(cobra.MaximumNArgs(1)),
	RunE:  runAction(actionShow),
}

var addScopeCmd = &cobra.Command{
	Use:   "add-scope <scope> <url>",
	Short: "Add a named target to the configuration file",
	Args:  usageArgs(cobra.ExactArgs(2)),
	RunE:  runAddScope,
}

var removeScopeCmd = &cobra.Command{
	Use:   "remove-scope <scope>",
	Short: "Remove a named target from the configuration file",
	Args:  usageArgs(cobra.ExactArgs(1)),
	RunE:  runRemoveScope,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gitftp %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .git-ftp.yml in the repository root)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "shorthand for --log-level=debug")

	// Deployment flags
	for _, cmd := range []*cobra.Command{initCmd, pushCmd, catchupCmd, showCmd} {
		f := cmd.Flags()
		f.StringVarP(&scope, "scope", "s", "", "use the settings of a configured scope")
		f.StringVarP(&user, "user", "u", "", "login user")
		f.StringVarP(&passwd, "passwd", "p", "", "login password (or $"+config.PasswordEnv+")")
		f.StringVar(&keyFile, "key", "", "private key file for sftp")
		f.StringVar(&syncRoot, "syncroot", "", "deploy only this directory of the repository")
		f.BoolVarP(&dryRun, "dry-run", "n", false, "show what would be done without making changes")
		f.BoolVarP(&force, "force", "f", false, "ignore dirty trees, remote locks and unknown deployed revisions")
		f.BoolVar(&activeMode, "active", false, "use FTP active mode")
		f.BoolVar(&insecure, "insecure", false, "skip TLS certificate and SSH host key verification")
		f.BoolVar(&remoteLock, "remote-lock", false, "lock the target while deploying")
		f.BoolVar(&noRemoteLock, "no-remote-lock", false, "do not lock the target while deploying")
		f.IntVar(&retries, "retries", 0, "retries for failed transfers (default 3)")
		f.StringVar(&timeout, "timeout", "", "connect and transfer timeout (default 30s)")
		cmd.MarkFlagsMutuallyExclusive("remote-lock", "no-remote-lock")
	}
	pushCmd.Flags().BoolVarP(&all, "all", "a", false, "upload all files, ignoring the deployed revision")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return sync.Errorf(sync.KindUsage, "%w", err)
	})

	// Add commands
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(pushCmd)
	rootCmd.AddCommand(catchupCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(addScopeCmd)
	rootCmd.AddCommand(removeScopeCmd)
	rootCmd.AddCommand(versionCmd)
}

// usageArgs classifies argument validation failures as usage errors
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return sync.Errorf(sync.KindUsage, "%w", err)
		}
		return nil
	}
}

type action string

const (
	actionInit    action = "init"
	actionPush    action = "push"
	actionCatchup action = "catchup"
	actionShow    action = "show"
)

func runAction(a action) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := setupSignalHandler()
		defer cancel()

		// Setup logger
		logger := setupLogger()

		if err := deploy(ctx, cmd, args, a, logger); err != nil {
			logger.Error(string(a)+" failed", "error", err, "kind", sync.KindOf(err))
			return err
		}
		return nil
	}
}

func deploy(ctx context.Context, cmd *cobra.Command, args []string, a action, logger *slog.Logger) error {
	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	repo, err := git.Open(wd)
	if err != nil {
		return sync.Errorf(sync.KindGit, "%w", err)
	}

	// Load configuration
	cfg, err := loadConfig(logger, repo.Root())
	if err != nil {
		return sync.Errorf(sync.KindUsage, "failed to load config: %w", err)
	}
	settings, err := cfg.Resolve(scope, overrides(cmd, args))
	if err != nil {
		if errors.Is(err, config.ErrMissingURL) {
			return sync.Errorf(sync.KindMissingArguments, "%w, pass it as argument or use --scope", err)
		}
		return sync.Errorf(sync.KindUsage, "%w", err)
	}

	target, err := transfer.ParseTarget(settings.URL)
	if err != nil {
		if errors.Is(err, transfer.ErrUnknownProtocol) {
			return sync.Errorf(sync.KindUnknownProtocol, "%w", err)
		}
		return sync.Errorf(sync.KindUsage, "%w", err)
	}
	logger.Info("target", "url", target.String(), "user", settings.User)

	policy := retry.NewPolicy(retry.BackoffLinear, 0, 0, settings.Retries)
	if err := policy.Validate(); err != nil {
		return sync.Errorf(sync.KindUsage, "invalid retry policy: %w", err)
	}

	conn, err := transfer.Dial(ctx, target,
		transfer.Credentials{User: settings.User, Password: settings.Password, KeyFile: settings.KeyFile},
		transfer.Options{ActiveMode: settings.ActiveMode, Insecure: settings.Insecure, Timeout: settings.Timeout})
	if err != nil {
		if errors.Is(err, transfer.ErrUnknownProtocol) {
			return sync.Errorf(sync.KindUnknownProtocol, "%w", err)
		}
		return sync.Errorf(sync.KindDownload, "failed to connect to %s: %w", target, err)
	}
	defer func() {
		_ = conn.Close()
	}()

	var client transfer.Client = transfer.WithRetry(conn, policy, logger)
	if dryRun {
		client = transfer.WithDryRun(client, logger)
	}

	opts := sync.Options{
		DryRun:     dryRun,
		Force:      force,
		All:        all,
		RemoteLock: settings.RemoteLock,
		SyncRoot:   settings.SyncRoot,
		IgnoreFile: settings.IgnoreFile,
		User:       settings.User,
	}
	if !force && isTerminal(os.Stdin) {
		opts.Prompter = &sync.TerminalPrompter{In: os.Stdin, Out: os.Stderr}
	}
	engine := sync.NewEngine(repo, client, opts, logger)

	var res sync.Result
	switch a {
	case actionInit:
		res, err = engine.Init(ctx)
	case actionPush:
		res, err = engine.Push(ctx)
	case actionCatchup:
		res, err = engine.Catchup(ctx)
	case actionShow:
		rev, err := engine.Show(ctx)
		if err != nil {
			return err
		}
		if err := git.ShowRevision(ctx, repo.Root(), rev, cmd.OutOrStdout()); err != nil {
			return sync.Errorf(sync.KindGit, "%w", err)
		}
		return nil
	}
	if err != nil {
		return err
	}

	logger.Info(string(a)+" finished", "status", res.Status, "revision", res.Revision,
		"uploaded", res.Uploaded, "deleted", res.Deleted)
	return nil
}

// overrides collects the flags the user actually set, plus the url argument
func overrides(cmd *cobra.Command, args []string) config.Scope {
	var o config.Scope
	if len(args) > 0 {
		o.URL = args[0]
	}
	o.User = user
	o.Password = passwd
	o.KeyFile = keyFile
	o.SyncRoot = syncRoot
	o.Timeout = timeout

	flags := cmd.Flags()
	if flags.Changed("active") {
		o.ActiveMode = &activeMode
	}
	if flags.Changed("insecure") {
		o.Insecure = &insecure
	}
	if flags.Changed("remote-lock") {
		o.RemoteLock = &remoteLock
	}
	if flags.Changed("no-remote-lock") {
		enabled := !noRemoteLock
		o.RemoteLock = &enabled
	}
	if flags.Changed("retries") {
		o.Retries = &retries
	}
	return o
}

func runAddScope(cmd *cobra.Command, args []string) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := config.AddScope(path, args[0], args[1]); err != nil {
		return sync.Errorf(sync.KindUsage, "failed to add scope: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "added scope %s to %s\n", args[0], path)
	return nil
}

func runRemoveScope(cmd *cobra.Command, args []string) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := config.RemoveScope(path, args[0]); err != nil {
		return sync.Errorf(sync.KindUsage, "failed to remove scope: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "removed scope %s from %s\n", args[0], path)
	return nil
}

// configPath is --config, or the default file in the root of the current repository
func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	repo, err := git.Open(wd)
	if err != nil {
		return "", sync.Errorf(sync.KindGit, "%w", err)
	}
	return filepath.Join(repo.Root(), config.DefaultFile), nil
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// loadConfig reads --config, or the default file in repoRoot. Only the
// default file may be missing; settings then come from flags alone.
func loadConfig(logger *slog.Logger, repoRoot string) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		configPath = filepath.Join(repoRoot, config.DefaultFile)
	}

	logger.Debug("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		if cfgFile == "" && errors.Is(err, fs.ErrNotExist) {
			logger.Debug("no configuration file, using flags only", "path", configPath)
			return &config.Config{}, nil
		}
		return nil, err
	}

	logger.Debug("configuration loaded", "scopes", cfg.ScopeNames())

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
