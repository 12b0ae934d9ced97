package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gitdeck/gitdeck/internal/ui"
)

var branchCmd = &cobra.Command{
	Use:     "branch",
	GroupID: "work",
	Short:   "List, create, delete and check out branches",
}

var branchListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List branches",
	RunE: withActive(func(cmd *cobra.Command, a *app, args []string) error {
		all, _ := cmd.Flags().GetBool("all")
		st := a.engine.Snapshot()
		if jsonOutput {
			return printJSON(st.Branches)
		}

		rows := make([][]string, 0, len(st.Branches))
		for _, b := range st.Branches {
			if b.IsRemote && !all {
				continue
			}
			mark := ""
			if b.Name == st.CurrentBranch {
				mark = "*"
			}
			rows = append(rows, []string{mark, b.Name, b.Upstream, short(b.LastCommit, 7)})
		}
		if len(rows) == 0 {
			fmt.Println("No branches yet.")
			return nil
		}
		return ui.Table(os.Stdout, []string{"", "Branch", "Upstream", "Commit"}, rows)
	}),
}

var branchCreateCmd = &cobra.Command{
	Use:   "create <name> [base]",
	Short: "Create a branch from base (default: HEAD)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withActive(func(cmd *cobra.Command, a *app, args []string) error {
		base := ""
		if len(args) == 2 {
			base = args[1]
		}
		if err := a.engine.CreateBranch(cmd.Context(), args[0], base); err != nil {
			return err
		}
		fmt.Printf("%s Created branch %s\n", ui.RenderPass("✓"), args[0])

		if checkout, _ := cmd.Flags().GetBool("checkout"); checkout {
			if err := a.engine.CheckoutBranch(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("%s Switched to %s\n", ui.RenderPass("✓"), args[0])
		}
		return nil
	}),
}

var branchDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a local branch",
	Args:  cobra.ExactArgs(1),
	RunE: withActive(func(cmd *cobra.Command, a *app, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		if err := a.engine.DeleteBranch(cmd.Context(), args[0], force); err != nil {
			return err
		}
		fmt.Printf("%s Deleted branch %s\n", ui.RenderPass("✓"), args[0])
		return nil
	}),
}

var branchCheckoutCmd = &cobra.Command{
	Use:   "checkout <name>",
	Short: "Switch to a branch",
	Long: `Switch to a branch and refresh branches, status, history and the
current branch. A refresh that fails is reported after the others finish.`,
	Args: cobra.ExactArgs(1),
	RunE: withActive(func(cmd *cobra.Command, a *app, args []string) error {
		err := a.engine.CheckoutBranch(cmd.Context(), args[0])
		st := a.engine.Snapshot()
		if st.CurrentBranch == args[0] {
			fmt.Printf("%s Switched to %s (%d changes)\n", ui.RenderPass("✓"), args[0], len(st.FileChanges))
		}
		return err
	}),
}

var mergeCmd = &cobra.Command{
	Use:     "merge <branch>",
	GroupID: "work",
	Short:   "Merge a branch into the current branch",
	Args:    cobra.ExactArgs(1),
	RunE: withActive(func(cmd *cobra.Command, a *app, args []string) error {
		summary, err := a.engine.Merge(cmd.Context(), args[0])
		if st := a.engine.Snapshot(); st.HasConflicts {
			fmt.Printf("%s Merge stopped with %d conflicts, see 'gitdeck conflicts'\n", ui.RenderWarn("⚠"), len(st.Conflicts))
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s %s\n", ui.RenderPass("✓"), summary)
		return nil
	}),
}

var cherryPickCmd = &cobra.Command{
	Use:     "cherry-pick <commit>...",
	GroupID: "work",
	Short:   "Apply commits onto the current branch, stopping at the first failure",
	Args:    cobra.MinimumNArgs(1),
	RunE: withActive(func(cmd *cobra.Command, a *app, args []string) error {
		applied, err := a.engine.CherryPick(cmd.Context(), args...)
		for _, h := range applied {
			fmt.Printf("%s Applied %s\n", ui.RenderPass("✓"), short(h, 7))
		}
		return err
	}),
}

var stashCmd = &cobra.Command{
	Use:     "stash",
	GroupID: "work",
	Short:   "Save or restore uncommitted changes",
}

var stashSaveCmd = &cobra.Command{
	Use:   "save [message]",
	Short: "Stash the working tree changes",
	Args:  cobra.MaximumNArgs(1),
	RunE: withActive(func(cmd *cobra.Command, a *app, args []string) error {
		msg := ""
		if len(args) == 1 {
			msg = args[0]
		}
		if err := a.engine.StashSave(cmd.Context(), msg); err != nil {
			return err
		}
		fmt.Printf("%s Changes stashed\n", ui.RenderPass("✓"))
		return nil
	}),
}

var stashPopCmd = &cobra.Command{
	Use:   "pop",
	Short: "Apply and drop a stash entry",
	RunE: withActive(func(cmd *cobra.Command, a *app, args []string) error {
		index, _ := cmd.Flags().GetInt("index")
		if err := a.engine.StashPop(cmd.Context(), index); err != nil {
			return err
		}
		fmt.Printf("%s Stash %d applied\n", ui.RenderPass("✓"), index)
		return nil
	}),
}

func init() {
	branchListCmd.Flags().BoolP("all", "a", false, "include remote branches")
	branchCreateCmd.Flags().BoolP("checkout", "c", false, "switch to the new branch")
	branchDeleteCmd.Flags().BoolP("force", "f", false, "delete even if not merged")
	stashPopCmd.Flags().Int("index", 0, "stash entry to apply")

	branchCmd.AddCommand(branchListCmd)
	branchCmd.AddCommand(branchCreateCmd)
	branchCmd.AddCommand(branchDeleteCmd)
	branchCmd.AddCommand(branchCheckoutCmd)
	stashCmd.AddCommand(stashSaveCmd)
	stashCmd.AddCommand(stashPopCmd)

	rootCmd.AddCommand(branchCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(cherryPickCmd)
	rootCmd.AddCommand(stashCmd)
}
