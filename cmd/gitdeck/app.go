package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/gitdeck/gitdeck/internal/cache"
	"github.com/gitdeck/gitdeck/internal/config"
	"github.com/gitdeck/gitdeck/internal/engine"
	"github.com/gitdeck/gitdeck/internal/gateway"
	"github.com/gitdeck/gitdeck/internal/logging"
	"github.com/gitdeck/gitdeck/internal/netmetrics"
	"github.com/gitdeck/gitdeck/internal/secrets"
	"github.com/gitdeck/gitdeck/internal/store"
	"github.com/gitdeck/gitdeck/internal/types"
	"github.com/gitdeck/gitdeck/internal/vcs"
)

// app holds the components shared by every command
type app struct {
	cfg      *config.Config
	logs     *logging.Logs
	db       *store.DB
	settings config.Settings
	registry *prometheus.Registry
	metrics  *netmetrics.Tracker
	gateway  *gateway.Gateway
	commits  *cache.Cache[[]vcs.Commit]
	keychain *secrets.Keychain
	engine   *engine.Engine
}

// newApp opens the store, loads the settings and repository list and wires
// the engine. The caller must call close.
func newApp(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()

	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, err
	}
	if noKeychain, _ := cmd.Flags().GetBool("no-keychain"); noKeychain {
		cfg.Keychain = false
	}

	db, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, err
	}

	settings, err := config.LoadSettings(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	logs, err := logging.New(logging.Options{
		File:          cfg.LogFile,
		MaxSizeMB:     cfg.LogMaxSizeMB,
		RetentionDays: settings.Performance.LogRetentionDays,
		Verbose:       cfg.Verbose || settings.Advanced.EnableDebugLogging,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	a := &app{
		cfg:      cfg,
		logs:     logs,
		db:       db,
		settings: settings,
		registry: prometheus.NewRegistry(),
		metrics:  netmetrics.New(),
	}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gitPath := cfg.GitPath
	if settings.Advanced.CustomGitPath != "" {
		gitPath = settings.Advanced.CustomGitPath
	}
	a.gateway = gateway.New(vcs.NewFactory(vcs.WithBinary(gitPath)),
		gateway.WithMetricsSink(a.metrics),
		gateway.WithRegisterer(a.registry),
		gateway.WithLogger(logs.Logger("gateway")),
		gateway.WithCallTimeout(cfg.CallTimeout),
		gateway.WithNetworkTimeout(max(cfg.NetworkTimeout, settings.NetworkTimeout())),
	)

	a.commits = cache.New[[]vcs.Commit](
		cache.WithTTL(settings.CommitCacheTTL()),
		cache.WithMaxEntries(settings.Performance.MaxCacheSize),
	)

	var repos engine.RepositoryStore = db
	if cfg.Keychain {
		a.keychain = secrets.New(secrets.DefaultService)
		repos = secrets.NewStore(db, a.keychain)
	}

	a.engine = engine.New(a.gateway, a.commits, repos,
		engine.WithLogger(logs.Logger("engine")),
		engine.WithSettings(settings),
	)
	if err := a.engine.LoadRepositories(ctx); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to load repositories: %w", err)
	}
	return a, nil
}

func (a *app) close() {
	if err := a.db.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	_ = a.logs.Close()
}

// saveSettings persists s and applies it to the engine
func (a *app) saveSettings(ctx context.Context, s config.Settings) error {
	if err := config.SaveSettings(ctx, a.db, s); err != nil {
		return err
	}
	s.Normalize()
	a.settings = s
	a.engine.SetSettings(s)
	return nil
}

// resolve finds the managed repository named by ref: an id, a name or a
// path. An empty ref selects the repository containing the working
// directory.
func (a *app) resolve(ref string) (*types.Repository, error) {
	repos := a.engine.Repositories()

	if ref == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		var best *types.Repository
		for _, r := range repos {
			if within(wd, r.Path) && (best == nil || len(r.Path) > len(best.Path)) {
				best = r
			}
		}
		if best == nil {
			return nil, fmt.Errorf("%s is not inside a managed repository (use --repo or 'gitdeck repo add')", wd)
		}
		return best, nil
	}

	for _, r := range repos {
		if r.ID == ref || (len(ref) >= 8 && strings.HasPrefix(r.ID, ref)) {
			return r, nil
		}
	}
	var byName []*types.Repository
	for _, r := range repos {
		if r.Name == ref {
			byName = append(byName, r)
		}
	}
	switch len(byName) {
	case 1:
		return byName[0], nil
	case 0:
	default:
		return nil, fmt.Errorf("%d repositories are named %q, use the id or path", len(byName), ref)
	}
	if abs, err := filepath.Abs(ref); err == nil {
		for _, r := range repos {
			if r.Path == abs {
				return r, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", engine.ErrRepositoryNotFound, ref)
}

// within reports whether dir is root or below it
func within(dir, root string) bool {
	rel, err := filepath.Rel(root, dir)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// openActive resolves --repo and loads it into the engine
func (a *app) openActive(ctx context.Context) (*types.Repository, error) {
	repo, err := a.resolve(repoRef)
	if err != nil {
		return nil, err
	}
	if err := a.engine.LoadRepository(ctx, repo); err != nil {
		return nil, err
	}
	return repo, nil
}

// withApp runs fn with a fresh app
func withApp(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(cmd, a, args)
	}
}

// withActive runs fn after loading the repository named by --repo
func withActive(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
	return withApp(func(cmd *cobra.Command, a *app, args []string) error {
		if _, err := a.openActive(cmd.Context()); err != nil {
			return err
		}
		return fn(cmd, a, args)
	})
}
