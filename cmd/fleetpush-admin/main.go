package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/target/fleetpush/config"
	"github.com/target/fleetpush/internal/bootstrap"
	"github.com/target/fleetpush/internal/data"
	"github.com/target/fleetpush/internal/devseed"
	"github.com/target/fleetpush/internal/domain/model"
	"github.com/target/fleetpush/internal/service/registry"
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
	Stdout io.Writer
}

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultQueryTimeout     = 30 * time.Second
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if len(os.Args) < 2 {
		if err := printUsage(os.Stdout); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(os.Stderr); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}
	logger = bootstrap.InitLogger(cfg.Observability.Logging)

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
		Stdout: os.Stdout,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"migrate": {
			name:        "migrate",
			description: "Run database migrations",
			run:         runMigrations,
		},
		"seed-simulated": {
			name:        "seed-simulated",
			description: "Run migrations and seed sites with simulated devices",
			run:         runSeedSimulated,
		},
		"list-followups": {
			name:        "list-followups",
			description: "List scheduled post-change follow-up checks",
			run:         runListFollowUps,
		},
		"mint-device-token": {
			name:        "mint-device-token",
			description: "Mint an HMAC bearer token for a device agent",
			run:         runMintDeviceToken,
		},
		"invalidate-registry-cache": {
			name:        "invalidate-registry-cache",
			description: "Drop cached site device lists from Redis",
			run:         runInvalidateRegistryCache,
		},
	}
}

func commandNames() []string {
	return []string{"migrate", "seed-simulated", "list-followups", "mint-device-token", "invalidate-registry-cache"}
}

func printUsage(w io.Writer) error {
	if err := writef(w, "Usage: fleetpush-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(w, "Available commands:\n"); err != nil {
		return err
	}
	cmds := commands()
	for _, name := range commandNames() {
		c := cmds[name]
		if err := writef(w, "  %-26s %s\n", c.name, c.description); err != nil {
			return err
		}
	}
	return nil
}

type migrateOptions struct {
	Timeout time.Duration
}

type seedOptions struct {
	Timeout        time.Duration
	AllowRemote    bool
	Sites          int
	DevicesPerSite int
	DeviceTypes    string
	Segments       string
}

type listFollowUpsOptions struct {
	Status model.FollowUpStatus
	Limit  int
}

type mintTokenOptions struct {
	DeviceID string
}

type invalidateCacheOptions struct {
	SiteID string
	All    bool
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("running database migrations")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}
		cmdCtx.Logger.Info("migrations completed successfully")
		return nil
	})
}

func runSeedSimulated(cmdCtx *commandContext, args []string) error {
	opts, err := parseSeedFlags(args)
	if err != nil {
		return err
	}

	if _, guardErr := guardRemoteHost(cmdCtx, opts.AllowRemote, "seed simulated devices on the configured database"); guardErr != nil {
		return guardErr
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("ensuring database migrations are current")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return fmt.Errorf("run migrations: %w", migrateErr)
		}

		sum, seedErr := devseed.Run(ctx, devseed.NewRepos(db), devseed.Options{
			Sites:          opts.Sites,
			DevicesPerSite: opts.DevicesPerSite,
			DeviceTypes:    splitList(opts.DeviceTypes),
			Segments:       splitList(opts.Segments),
		}, cmdCtx.Logger)
		if seedErr != nil {
			return fmt.Errorf("seed data: %w", seedErr)
		}

		if !cmdCtx.Config.Simulation.Enabled {
			cmdCtx.Logger.Warn("simulated devices seeded but SIMULATION_ENABLED is false; pushes to them will be skipped")
		}
		return writef(cmdCtx.Stdout, "Seeded %d sites and %d simulated devices\n", sum.Sites, sum.Devices)
	})
}

func runListFollowUps(cmdCtx *commandContext, args []string) error {
	opts, err := parseListFollowUpsFlags(args)
	if err != nil {
		return err
	}

	return withDatabase(cmdCtx, defaultQueryTimeout, func(ctx context.Context, db *sql.DB) error {
		checks, listErr := data.NewFollowUpRepo(db, data.RealTimeProvider{}).List(ctx, opts.Status, opts.Limit)
		if listErr != nil {
			return fmt.Errorf("list follow-ups: %w", listErr)
		}
		return renderFollowUps(cmdCtx.Stdout, checks)
	})
}

func renderFollowUps(w io.Writer, checks []*model.FollowUpCheck) error {
	if len(checks) == 0 {
		return writeln(w, "(no follow-up checks found)")
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if err := writeln(tw, "ID\tHISTORY\tSTATUS\tFIRE AT\tDEVICES\tATTEMPTS\tLAST ERROR"); err != nil {
		return err
	}
	for _, c := range checks {
		lastErr := "-"
		if c.LastError != nil && *c.LastError != "" {
			lastErr = *c.LastError
		}
		if err := writef(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
			c.ID,
			c.ConfigHistoryID,
			c.Status,
			c.FireAt.UTC().Format(time.RFC3339),
			len(c.DeviceIDs),
			c.Attempts,
			lastErr,
		); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush follow-up table: %w", err)
	}
	return writef(w, "\nTotal: %d\n", len(checks))
}

func runMintDeviceToken(cmdCtx *commandContext, args []string) error {
	opts, err := parseMintTokenFlags(args)
	if err != nil {
		return err
	}
	if cmdCtx.Config.Auth.Mode != config.DeviceAuthHMAC {
		cmdCtx.Logger.Warn("server auth mode is not hmac; minted token will not be accepted", "mode", cmdCtx.Config.Auth.Mode)
	}

	h, err := bootstrap.NewHMACAuthenticator(cmdCtx.Config.Auth.HMAC)
	if err != nil {
		return err
	}
	token, err := h.Mint(opts.DeviceID)
	if err != nil {
		return fmt.Errorf("mint token: %w", err)
	}
	return writeln(cmdCtx.Stdout, token)
}

func runInvalidateRegistryCache(cmdCtx *commandContext, args []string) error {
	opts, err := parseInvalidateCacheFlags(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultQueryTimeout)
	defer cancel()

	_, redisClient, err := connectInfraWithOptions(&connectInfraOptions{
		Logger:    cmdCtx.Logger,
		Config:    &cmdCtx.Config,
		WantRedis: true,
	})
	if err != nil {
		return err
	}
	if redisClient == nil {
		return errors.New("redis is not configured")
	}
	defer func() {
		if closeErr := closeInfra(nil, redisClient); closeErr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", closeErr)
		}
	}()

	prefix := cmdCtx.Config.Redis.KeyPrefix
	if !opts.All {
		removed, delErr := data.NewRedisCacheRepo(redisClient, prefix).Delete(ctx, registry.CacheKey(opts.SiteID))
		if delErr != nil {
			return fmt.Errorf("delete cache entry: %w", delErr)
		}
		return writef(cmdCtx.Stdout, "Site %s: removed=%t\n", opts.SiteID, removed)
	}

	pattern := prefix + registry.CacheKey("*")
	cmdCtx.Logger.Info("scanning redis", "pattern", pattern)
	iter := redisClient.Scan(ctx, 0, pattern, 100).Iterator()
	removed := 0
	for iter.Next(ctx) {
		if delErr := redisClient.Del(ctx, iter.Val()).Err(); delErr != nil {
			return fmt.Errorf("delete %s: %w", iter.Val(), delErr)
		}
		removed++
	}
	if iterErr := iter.Err(); iterErr != nil {
		return fmt.Errorf("redis scan: %w", iterErr)
	}
	return writef(cmdCtx.Stdout, "Removed %d cached site entries\n", removed)
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{Timeout: defaultMigrationTimeout}
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Maximum duration to wait for migrations to complete")

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}
	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func parseSeedFlags(args []string) (seedOptions, error) {
	fs := flag.NewFlagSet("seed-simulated", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	defaults := devseed.DefaultOptions()
	opts := seedOptions{}
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Maximum duration to wait for seeding to complete")
	fs.BoolVar(&opts.AllowRemote, "allow-remote", false, "Permit running against database hosts that do not look local")
	fs.IntVar(&opts.Sites, "sites", defaults.Sites, "Number of simulated sites")
	fs.IntVar(&opts.DevicesPerSite, "devices", defaults.DevicesPerSite, "Simulated devices per site")
	fs.StringVar(&opts.DeviceTypes, "types", strings.Join(defaults.DeviceTypes, ","), "Comma-separated device types to rotate through")
	fs.StringVar(&opts.Segments, "segments", strings.Join(defaults.Segments, ","), "Comma-separated segments to rotate through")

	if err := fs.Parse(args); err != nil {
		return seedOptions{}, err
	}
	if opts.Timeout <= 0 {
		return seedOptions{}, errors.New("--timeout must be greater than zero")
	}
	if opts.Sites <= 0 || opts.DevicesPerSite <= 0 {
		return seedOptions{}, errors.New("--sites and --devices must be greater than zero")
	}
	return opts, nil
}

func parseListFollowUpsFlags(args []string) (listFollowUpsOptions, error) {
	fs := flag.NewFlagSet("list-followups", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var status string
	opts := listFollowUpsOptions{}
	fs.StringVar(&status, "status", "", "Filter by status (pending, running, done, unreachable, expired)")
	fs.IntVar(&opts.Limit, "limit", 50, "Maximum rows to return")

	if err := fs.Parse(args); err != nil {
		return listFollowUpsOptions{}, err
	}
	status = strings.ToLower(strings.TrimSpace(status))
	switch model.FollowUpStatus(status) {
	case "", model.FollowUpPending, model.FollowUpRunning, model.FollowUpDone, model.FollowUpUnreachable, model.FollowUpExpired:
		opts.Status = model.FollowUpStatus(status)
	default:
		return listFollowUpsOptions{}, fmt.Errorf("unknown --status %q", status)
	}
	if opts.Limit <= 0 {
		return listFollowUpsOptions{}, errors.New("--limit must be greater than zero")
	}
	return opts, nil
}

func parseMintTokenFlags(args []string) (mintTokenOptions, error) {
	fs := flag.NewFlagSet("mint-device-token", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := mintTokenOptions{}
	fs.StringVar(&opts.DeviceID, "device", "", "Device ID the token authenticates (required)")

	if err := fs.Parse(args); err != nil {
		return mintTokenOptions{}, err
	}
	opts.DeviceID = strings.TrimSpace(opts.DeviceID)
	if opts.DeviceID == "" {
		return mintTokenOptions{}, errors.New("--device is required")
	}
	return opts, nil
}

func parseInvalidateCacheFlags(args []string) (invalidateCacheOptions, error) {
	fs := flag.NewFlagSet("invalidate-registry-cache", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := invalidateCacheOptions{}
	fs.StringVar(&opts.SiteID, "site", "", "Site whose cached device list should be dropped")
	fs.BoolVar(&opts.All, "all", false, "Drop cached device lists of every site")

	if err := fs.Parse(args); err != nil {
		return invalidateCacheOptions{}, err
	}
	opts.SiteID = strings.TrimSpace(opts.SiteID)
	if opts.All == (opts.SiteID != "") {
		return invalidateCacheOptions{}, errors.New("specify exactly one of --site or --all")
	}
	return opts, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func withDatabase(
	cmdCtx *commandContext,
	timeout time.Duration,
	f func(context.Context, *sql.DB) error,
) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, _, err := connectInfraWithOptions(&connectInfraOptions{
		Logger: cmdCtx.Logger,
		Config: &cmdCtx.Config,
		WantDB: true,
	})
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeInfra(db, nil); cerr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", cerr)
		}
	}()

	return f(ctx, db)
}

func guardRemoteHost(cmdCtx *commandContext, allow bool, action string) (bool, error) {
	remote := isLikelyRemoteHost(cmdCtx.Config.Postgres.Host)
	if !remote {
		return false, nil
	}
	if !allow {
		return true, fmt.Errorf(
			"refusing to run against potentially remote database host %q; re-run with --allow-remote if this is intentional",
			cmdCtx.Config.Postgres.Host,
		)
	}
	if err := requireRemoteHostConfirmation(os.Stdin, action, cmdCtx.Config.Postgres.Host); err != nil {
		return true, err
	}
	return true, nil
}

func isLikelyRemoteHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" {
		return false
	}
	if h == "localhost" || h == "127.0.0.1" || h == "::1" {
		return false
	}
	if strings.HasSuffix(h, ".local") {
		return false
	}
	if ip := net.ParseIP(h); ip != nil {
		return !ip.IsLoopback()
	}
	return true
}

func requireRemoteHostConfirmation(in io.Reader, action, host string) error {
	if err := writef(
		os.Stderr,
		"\nWARNING: database host %q does not look like a local address.\n"+
			"This operation will %s.\n",
		host,
		action,
	); err != nil {
		return fmt.Errorf("print remote host warning: %w", err)
	}
	if err := writef(os.Stderr, "Type %q to continue or press enter to abort: ", host); err != nil {
		return fmt.Errorf("print remote host prompt: %w", err)
	}
	resp, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if strings.TrimSpace(resp) != host {
		return errors.New("aborted by user")
	}
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

func writeln(w io.Writer, args ...any) error {
	_, err := fmt.Fprintln(w, args...)
	return err
}
