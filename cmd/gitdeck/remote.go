package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gitdeck/gitdeck/internal/engine"
	"github.com/gitdeck/gitdeck/internal/ui"
)

// transferCommand builds fetch, pull and push. The transfer speed recorded
// by the gateway is printed after the operation.
func transferCommand(use, desc string, op func(ctx context.Context, a *app, remote string, force bool) error) *cobra.Command {
	cmd := &cobra.Command{
		Use:     use + " [remote]",
		GroupID: "sync",
		Short:   desc,
		Args:    cobra.MaximumNArgs(1),
		RunE: withActive(func(cmd *cobra.Command, a *app, args []string) error {
			remote := ""
			if len(args) == 1 {
				remote = args[0]
			}
			force, _ := cmd.Flags().GetBool("force")

			fmt.Printf("%s %s...\n", ui.RenderAccent("⇅"), use)
			err := op(cmd.Context(), a, remote, force)
			m := a.metrics.Snapshot()
			if jsonOutput {
				if err != nil {
					return err
				}
				return printJSON(m)
			}
			if err != nil {
				var be *engine.BackendError
				switch {
				case a.engine.Snapshot().HasConflicts:
					fmt.Printf("%s Conflicts detected, see 'gitdeck conflicts'\n", ui.RenderWarn("⚠"))
				case errors.As(err, &be) && be.Retryable:
					fmt.Printf("%s The remote may accept a retry (pull first if the push was rejected)\n", ui.RenderWarn("⚠"))
				}
				return err
			}

			speed := m.DownloadSpeed
			if use == "push" {
				speed = m.UploadSpeed
			}
			fmt.Printf("%s %s done on %s %s\n", ui.RenderPass("✓"), use, a.engine.Snapshot().CurrentBranch,
				ui.RenderMuted(fmt.Sprintf("(%.1f KB/s, %.0f ms)", speed, m.Latency)))
			return nil
		}),
	}
	if use == "push" {
		cmd.Flags().BoolP("force", "f", false, "force push")
	} else {
		cmd.Flags().Bool("force", false, "")
		_ = cmd.Flags().MarkHidden("force")
	}
	return cmd
}

var fetchCmd = transferCommand("fetch", "Download objects and refs from a remote", func(ctx context.Context, a *app, remote string, _ bool) error {
	return a.engine.Fetch(ctx, remote)
})

var pullCmd = transferCommand("pull", "Fetch and integrate the current branch's upstream", func(ctx context.Context, a *app, remote string, _ bool) error {
	return a.engine.Pull(ctx, remote)
})

var pushCmd = transferCommand("push", "Upload the current branch, setting its upstream if needed", func(ctx context.Context, a *app, remote string, force bool) error {
	return a.engine.Push(ctx, remote, force)
})

func init() {
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(pushCmd)
}
