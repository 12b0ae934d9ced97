package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gitdeck/gitdeck/internal/autosync"
	"github.com/gitdeck/gitdeck/internal/config"
	"github.com/gitdeck/gitdeck/internal/stream"
	"github.com/gitdeck/gitdeck/internal/ui"
	"github.com/gitdeck/gitdeck/internal/vcs/git"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "advanced",
	Short:   "Watch the active repository and stream its state to UI clients",
	Long: `Load a repository, keep its state fresh in the background and serve it
to UI clients.

Endpoints:
  ws://ADDR/ws       state and network metrics, pushed on every change
  http://ADDR/state  current state and metrics as JSON
  http://ADDR/health liveness
  http://ADDR/metrics Prometheus metrics

The repository comes from --repo, or the managed repository containing the
working directory. Without either, the server starts idle.

SIGHUP rotates the log file.`,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		logger := a.logs.Logger("serve")

		gitPath := a.cfg.GitPath
		if a.settings.Advanced.CustomGitPath != "" {
			gitPath = a.settings.Advanced.CustomGitPath
		}
		if err := git.CheckVersion(ctx, gitPath); err != nil {
			fmt.Fprintf(os.Stderr, "%s %v\n", ui.RenderWarn("Warning:"), err)
		}

		if repo, err := a.resolve(repoRef); err == nil {
			if err := a.engine.LoadRepository(ctx, repo); err != nil {
				logger.Printf("initial load of %s failed: %v", repo.Path, err)
				fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderWarn("Warning:"), describe(err))
			}
		} else if repoRef != "" {
			return err
		}

		srv := stream.NewServer(a.engine, a.metrics, &stream.Config{
			Addr:     a.cfg.StreamAddr,
			Gatherer: a.registry,
			Logger:   a.logs.Logger("stream"),
		})
		srv.Attach(a.engine, a.metrics)
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			if err := srv.Stop(); err != nil {
				logger.Printf("stop: %v", err)
			}
		}()

		daemon, err := autosync.New(a.engine, a.commits, &autosync.Config{
			Logger: a.logs.Logger("autosync"),
		})
		if err != nil {
			return err
		}

		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go rotateOnHangup(ctx, hup, a.logs.Rotate, logger)

		fmt.Printf("%s Serving on http://%s\n", ui.RenderPass("✓"), srv.Addr())
		fmt.Printf("   WebSocket: ws://%s/ws\n", srv.Addr())
		if st := a.engine.Snapshot(); st.Active != nil {
			fmt.Printf("   Repository: %s (%s)\n", st.Active.Name, st.CurrentBranch)
		}
		fmt.Println("\nPress Ctrl+C to stop...")

		return daemon.Run(ctx)
	}),
}

// rotateOnHangup reopens the log file for every signal on hup until ctx
// is done
func rotateOnHangup(ctx context.Context, hup <-chan os.Signal, rotate func() error, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := rotate(); err != nil {
				logger.Printf("log rotation failed: %v", err)
			}
		}
	}
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default: stream.addr from the config)")
	_ = v.BindPFlag(config.KeyStreamAddr, serveCmd.Flags().Lookup("addr"))
	rootCmd.AddCommand(serveCmd)
}
