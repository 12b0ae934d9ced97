// Command gitdeck manages local git repositories: it keeps a list of
// repositories, mirrors their state and runs the sync operations on them.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gitdeck/gitdeck/internal/config"
	"github.com/gitdeck/gitdeck/internal/engine"
	"github.com/gitdeck/gitdeck/internal/ui"
	_ "github.com/gitdeck/gitdeck/internal/vcs/git"
)

var (
	v          = config.NewViper()
	cfgFile    string
	repoRef    string
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "gitdeck",
	Short: "Manage and synchronize local git repositories",
	Long: `gitdeck keeps a list of local repositories and mirrors their state:
working tree changes, branches, history and merge conflicts.

Commands act on the repository named by --repo (an id, name or path), or on
the managed repository containing the working directory.

Run 'gitdeck serve' to watch the active repository and stream its state to
UI clients over WebSocket.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "repos", Title: "Repositories:"},
		&cobra.Group{ID: "work", Title: "Working tree:"},
		&cobra.Group{ID: "sync", Title: "Remote sync:"},
		&cobra.Group{ID: "advanced", Title: "Advanced:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: config.yaml in the data directory)")
	pf.String("data-dir", "", "directory holding the database and logs")
	pf.Bool("verbose", false, "mirror log output to stderr")
	pf.Bool("no-keychain", false, "keep credentials in the database instead of the OS keychain")
	pf.StringVarP(&repoRef, "repo", "r", "", "repository id, name or path")
	pf.BoolVar(&jsonOutput, "json", false, "print JSON")

	_ = v.BindPFlag(config.KeyDataDir, pf.Lookup("data-dir"))
	_ = v.BindPFlag(config.KeyLogVerbose, pf.Lookup("verbose"))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderFail("Error:"), describe(err))
		os.Exit(1)
	}
}

// describe prefixes backend failures with their error code
func describe(err error) string {
	code := engine.Classify(err)
	var be *engine.BackendError
	if !errors.As(err, &be) && code != engine.CodeTransport {
		return err.Error()
	}
	msg := engine.Describe(err)
	if code != engine.CodeGitOperationError {
		msg += " (" + err.Error() + ")"
	}
	return fmt.Sprintf("[%s] %s", code, msg)
}
