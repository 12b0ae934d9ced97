package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/gitdeck/gitdeck/internal/commitmsg"
	"github.com/gitdeck/gitdeck/internal/engine"
	"github.com/gitdeck/gitdeck/internal/ui"
	"github.com/gitdeck/gitdeck/internal/vcs"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "work",
	Short:   "Show working tree changes",
	RunE: withActive(func(cmd *cobra.Command, a *app, args []string) error {
		st := a.engine.Snapshot()
		if jsonOutput {
			return printJSON(st.FileChanges)
		}

		fmt.Printf("On branch %s\n", ui.RenderAccent(st.CurrentBranch))
		if len(st.FileChanges) == 0 {
			fmt.Printf("%s Working tree clean\n", ui.RenderPass("✓"))
			return nil
		}

		var staged, unstaged []vcs.FileChange
		for _, fc := range st.FileChanges {
			if fc.Staged {
				staged = append(staged, fc)
			} else {
				unstaged = append(unstaged, fc)
			}
		}
		if len(staged) > 0 {
			fmt.Println("\nStaged:")
			for _, fc := range staged {
				fmt.Printf("  %s %s\n", ui.RenderPass(fmt.Sprintf("%-10s", fc.Kind)), fc.Path)
			}
		}
		if len(unstaged) > 0 {
			fmt.Println("\nNot staged:")
			for _, fc := range unstaged {
				fmt.Printf("  %s %s\n", ui.RenderWarn(fmt.Sprintf("%-10s", fc.Kind)), fc.Path)
			}
		}
		if st.HasConflicts {
			fmt.Printf("\n%s %d conflicted files\n", ui.RenderFail("✗"), len(st.Conflicts))
		}
		return nil
	}),
}

// parseSince accepts a date (2006-01-02) or an English expression such as
// "3 days ago" or "last monday".
func parseSince(s string, now time.Time) (time.Time, error) {
	if t, err := time.ParseInLocation(time.DateOnly, s, now.Location()); err == nil {
		return t, nil
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(s, now)
	if err != nil {
		return time.Time{}, err
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("cannot understand time %q", s)
	}
	return r.Time, nil
}

var logCmd = &cobra.Command{
	Use:     "log",
	GroupID: "work",
	Short:   "Show commit history",
	Long: `Show a page of commit history. Pages are cached for the commit cache TTL.

--since accepts a date (2024-05-01) or an expression such as "2 weeks ago"
or "last friday".`,
	RunE: withActive(func(cmd *cobra.Command, a *app, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		skip, _ := cmd.Flags().GetInt("skip")
		if limit <= 0 {
			return fmt.Errorf("--limit must be positive")
		}
		if err := a.engine.RefreshCommits(cmd.Context(), limit, skip); err != nil {
			return err
		}

		commits := a.engine.Snapshot().Commits
		if since, _ := cmd.Flags().GetString("since"); since != "" {
			t, err := parseSince(since, time.Now())
			if err != nil {
				return err
			}
			commits = filterSince(commits, t)
		}
		if author, _ := cmd.Flags().GetString("author"); author != "" {
			commits = filterAuthor(commits, author)
		}

		if jsonOutput {
			return printJSON(commits)
		}
		if len(commits) == 0 {
			fmt.Println("No commits.")
			return nil
		}
		// hash, date and author take 43 columns
		msgWidth := max(ui.Width(100)-43, 20)
		for _, c := range commits {
			fmt.Printf("%s %s %-16s %s\n",
				ui.RenderAccent(short(c.Hash, 7)),
				ui.RenderMuted(c.Date.Local().Format("2006-01-02 15:04")),
				ui.Truncate(c.Author, 16),
				ui.Truncate(firstLine(c.Message), msgWidth))
		}
		return nil
	}),
}

func filterSince(commits []vcs.Commit, t time.Time) []vcs.Commit {
	out := commits[:0:0]
	for _, c := range commits {
		if !c.Date.Before(t) {
			out = append(out, c)
		}
	}
	return out
}

func filterAuthor(commits []vcs.Commit, author string) []vcs.Commit {
	author = strings.ToLower(author)
	out := commits[:0:0]
	for _, c := range commits {
		if strings.Contains(strings.ToLower(c.Author), author) || strings.Contains(strings.ToLower(c.Email), author) {
			out = append(out, c)
		}
	}
	return out
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// fileCommand builds a command applying op to every file argument
func fileCommand(use, desc string, op func(a *app, cmd *cobra.Command, file string) error) *cobra.Command {
	return &cobra.Command{
		Use:     use + " <file>...",
		GroupID: "work",
		Short:   desc,
		Args:    cobra.MinimumNArgs(1),
		RunE: withActive(func(cmd *cobra.Command, a *app, args []string) error {
			for _, f := range args {
				if err := op(a, cmd, f); err != nil {
					return err
				}
				fmt.Printf("%s %s %s\n", ui.RenderPass("✓"), use, f)
			}
			return nil
		}),
	}
}

var stageCmd = fileCommand("stage", "Stage files for commit", func(a *app, cmd *cobra.Command, file string) error {
	return a.engine.StageFile(cmd.Context(), file)
})

var unstageCmd = fileCommand("unstage", "Remove files from the index", func(a *app, cmd *cobra.Command, file string) error {
	return a.engine.UnstageFile(cmd.Context(), file)
})

var discardCmd = fileCommand("discard", "Discard working tree changes to files", func(a *app, cmd *cobra.Command, file string) error {
	return a.engine.DiscardFile(cmd.Context(), file)
})

var commitCmd = &cobra.Command{
	Use:     "commit",
	GroupID: "work",
	Short:   "Commit the staged changes",
	Long: `Commit the staged changes.

Without -m, the message is prompted for. With --ai, a message is suggested
from the staged diff (requires the ai settings to be enabled) and offered
for editing.`,
	RunE: withActive(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		message, _ := cmd.Flags().GetString("message")

		if useAI, _ := cmd.Flags().GetBool("ai"); useAI && message == "" {
			gen, err := commitmsg.New(a.settings.AI, a.logs.Logger("commitmsg"))
			if err != nil {
				return err
			}
			res := gen.Generate(ctx, a.gateway, a.engine.Snapshot().Active.Path)
			if err := res.Err(); err != nil {
				return err
			}
			message = res.Data
			if ui.IsInteractive() {
				if message, err = promptText("Commit message", message); err != nil {
					return err
				}
			}
		}
		if message == "" {
			var err error
			if message, err = promptText("Commit message", ""); err != nil {
				return err
			}
		}
		if strings.TrimSpace(message) == "" {
			return fmt.Errorf("empty commit message")
		}

		hash, err := a.engine.Commit(ctx, message)
		if err != nil {
			return err
		}
		fmt.Printf("%s [%s %s] %s\n", ui.RenderPass("✓"), a.engine.Snapshot().CurrentBranch, short(hash, 7), firstLine(message))
		return nil
	}),
}

var conflictsCmd = &cobra.Command{
	Use:     "conflicts [file]",
	GroupID: "work",
	Short:   "List merge conflicts or resolve one",
	Long: `Without arguments, list the conflicted files.

With a file and --ours or --theirs, resolve that file by taking one side.
With --content, write the given file as the resolution. --abort aborts the
merge in progress.`,
	Args: cobra.MaximumNArgs(1),
	RunE: withActive(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		flags := cmd.Flags()

		if abort, _ := flags.GetBool("abort"); abort {
			if err := a.engine.AbortMerge(ctx); err != nil {
				return err
			}
			fmt.Printf("%s Merge aborted\n", ui.RenderPass("✓"))
			return nil
		}

		if len(args) == 0 {
			st := a.engine.Snapshot()
			if jsonOutput {
				return printJSON(st.Conflicts)
			}
			if !st.HasConflicts {
				fmt.Printf("%s No conflicts\n", ui.RenderPass("✓"))
				return nil
			}
			for _, c := range st.Conflicts {
				fmt.Printf("  %s %s\n", ui.RenderFail("both modified:"), c.Path)
			}
			return nil
		}

		ours, _ := flags.GetBool("ours")
		theirs, _ := flags.GetBool("theirs")
		contentFile, _ := flags.GetString("content")

		var (
			resolution vcs.Resolution
			content    string
		)
		switch {
		case ours:
			resolution = vcs.ResolveOurs
		case theirs:
			resolution = vcs.ResolveTheirs
		case contentFile != "":
			data, err := os.ReadFile(contentFile)
			if err != nil {
				return err
			}
			resolution, content = vcs.ResolveManual, string(data)
		default:
			return fmt.Errorf("choose --ours, --theirs or --content to resolve %s", args[0])
		}

		if err := a.engine.ResolveConflict(ctx, args[0], resolution, content); err != nil {
			return err
		}
		fmt.Printf("%s Resolved %s\n", ui.RenderPass("✓"), args[0])
		if st := a.engine.Snapshot(); !st.HasConflicts && st.Phase != engine.PhaseError {
			fmt.Println("   All conflicts resolved, commit to conclude the merge.")
		}
		return nil
	}),
}

func init() {
	logCmd.Flags().IntP("limit", "n", 50, "number of commits")
	logCmd.Flags().Int("skip", 0, "commits to skip")
	logCmd.Flags().String("since", "", "only commits after this time")
	logCmd.Flags().String("author", "", "only commits whose author or email contains this")

	commitCmd.Flags().StringP("message", "m", "", "commit message")
	commitCmd.Flags().Bool("ai", false, "suggest a message from the staged diff")

	conflictsCmd.Flags().Bool("ours", false, "resolve with our side")
	conflictsCmd.Flags().Bool("theirs", false, "resolve with their side")
	conflictsCmd.Flags().String("content", "", "resolve with the contents of this file")
	conflictsCmd.Flags().Bool("abort", false, "abort the merge in progress")
	conflictsCmd.MarkFlagsMutuallyExclusive("ours", "theirs", "content", "abort")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(stageCmd)
	rootCmd.AddCommand(unstageCmd)
	rootCmd.AddCommand(discardCmd)
	rootCmd.AddCommand(commitCmd)
	rootCmd.AddCommand(conflictsCmd)
}
