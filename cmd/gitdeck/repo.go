package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/gitdeck/gitdeck/internal/types"
	"github.com/gitdeck/gitdeck/internal/ui"
	"github.com/gitdeck/gitdeck/internal/vcs"
)

var repoCmd = &cobra.Command{
	Use:     "repo",
	GroupID: "repos",
	Short:   "Manage the repository list",
}

var repoAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Add a local repository, cloning or initializing it first if asked",
	Long: `Add a repository to the managed list.

With --clone, the remote is cloned into <path> first. With --init, an empty
repository is created at <path>. Otherwise <path> must already be a working
directory of a git repository.

Credentials given with --token or --password are kept in the OS keychain.
When --auth needs a secret that is not given, it is prompted for.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		name, _ := cmd.Flags().GetString("name")
		repo := types.NewRepository(path, name)
		if err := applyAuthFlags(cmd, repo); err != nil {
			return err
		}

		cloneURL, _ := cmd.Flags().GetString("clone")
		initRepo, _ := cmd.Flags().GetBool("init")
		switch {
		case cloneURL != "":
			branch, _ := cmd.Flags().GetString("branch")
			fmt.Printf("%s Cloning %s...\n", ui.RenderAccent("⇣"), cloneURL)
			res, err := a.gateway.Clone(ctx, vcs.CloneOptions{
				URL:    cloneURL,
				Path:   path,
				Branch: branch,
				Auth:   repo.AuthConfig(&a.settings.Proxy),
			})
			if err == nil {
				err = res.Err()
			}
			if err != nil {
				return err
			}
			repo.RemoteURL = cloneURL
		case initRepo:
			res, err := a.gateway.Init(ctx, path, vcs.InitOptions{
				DefaultBranch: a.settings.GitBehavior.DefaultBranchName,
			})
			if err == nil {
				err = res.Err()
			}
			if err != nil {
				return err
			}
		default:
			res, err := a.gateway.Open(ctx, path)
			if err == nil {
				err = res.Err()
			}
			if err != nil {
				return err
			}
			if res.Data != "" {
				repo.Path = res.Data
			}
		}

		if err := a.engine.AddRepository(ctx, repo); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(repo)
		}
		fmt.Printf("%s Added %s (%s)\n", ui.RenderPass("✓"), repo.Name, short(repo.ID, 8))
		fmt.Printf("   Path: %s\n", repo.Path)
		fmt.Printf("   Project: %s\n", a.gateway.DetectProjectType(repo.Path).Data)
		return nil
	}),
}

var repoListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List managed repositories",
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		repos := a.engine.Repositories()
		if jsonOutput {
			return printJSON(repos)
		}
		if len(repos) == 0 {
			fmt.Println("No repositories. Add one with 'gitdeck repo add <path>'.")
			return nil
		}
		rows := make([][]string, 0, len(repos))
		for _, r := range repos {
			rows = append(rows, []string{
				short(r.ID, 8),
				r.Name,
				r.Path,
				string(r.AuthType),
				r.AddedAt.Local().Format(time.DateOnly),
			})
		}
		return ui.Table(os.Stdout, []string{"ID", "Name", "Path", "Auth", "Added"}, rows)
	}),
}

var repoRemoveCmd = &cobra.Command{
	Use:     "remove <repo>",
	Aliases: []string{"rm"},
	Short:   "Remove a repository from the list (files are kept)",
	Args:    cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		repo, err := a.resolve(args[0])
		if err != nil {
			return err
		}
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			ok, err := confirm(fmt.Sprintf("Remove %s (%s) from gitdeck?", repo.Name, repo.Path))
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("not removed (pass --yes to skip the confirmation)")
			}
		}
		if err := a.engine.RemoveRepository(cmd.Context(), repo.ID); err != nil {
			return err
		}
		fmt.Printf("%s Removed %s\n", ui.RenderPass("✓"), repo.Name)
		return nil
	}),
}

var repoUpdateCmd = &cobra.Command{
	Use:   "update <repo>",
	Short: "Change a repository's name, path or credentials",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		repo, err := a.resolve(args[0])
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("name") {
			repo.Name, _ = flags.GetString("name")
		}
		if flags.Changed("path") {
			p, _ := flags.GetString("path")
			if repo.Path, err = filepath.Abs(p); err != nil {
				return err
			}
		}
		if flags.Changed("remote-url") {
			repo.RemoteURL, _ = flags.GetString("remote-url")
		}
		if err := applyAuthFlags(cmd, repo); err != nil {
			return err
		}

		if err := a.engine.UpdateRepository(cmd.Context(), repo); err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(repo)
		}
		fmt.Printf("%s Updated %s\n", ui.RenderPass("✓"), repo.Name)
		return nil
	}),
}

// applyAuthFlags copies the changed credential flags onto repo, prompting
// for a secret the chosen auth type needs.
func applyAuthFlags(cmd *cobra.Command, repo *types.Repository) error {
	flags := cmd.Flags()
	if flags.Changed("auth") {
		auth, _ := flags.GetString("auth")
		switch t := types.AuthType(auth); t {
		case types.AuthNone, types.AuthToken, types.AuthPassword, types.AuthSSH:
			repo.AuthType = t
		default:
			return fmt.Errorf("invalid --auth %q (want none, token, password or ssh)", auth)
		}
	}
	if flags.Changed("username") {
		repo.Username, _ = flags.GetString("username")
	}
	if flags.Changed("token") {
		repo.Token, _ = flags.GetString("token")
	}
	if flags.Changed("password") {
		repo.Password, _ = flags.GetString("password")
	}
	if flags.Changed("ssh-key") {
		repo.SSHKeyPath, _ = flags.GetString("ssh-key")
	}

	var err error
	switch {
	case repo.AuthType == types.AuthToken && repo.Token == "":
		repo.Token, err = promptSecret("Access token for " + repo.Name)
	case repo.AuthType == types.AuthPassword && repo.Password == "":
		repo.Password, err = promptSecret("Password for " + repo.Name)
	case repo.AuthType == types.AuthSSH && repo.SSHKeyPath == "":
		err = fmt.Errorf("--ssh-key is required with --auth ssh")
	}
	return err
}

var openCmd = &cobra.Command{
	Use:     "open",
	GroupID: "repos",
	Short:   "Load a repository and show a summary of its state",
	RunE: withActive(func(cmd *cobra.Command, a *app, args []string) error {
		st := a.engine.Snapshot()
		if jsonOutput {
			return printJSON(st)
		}

		staged := 0
		for _, fc := range st.FileChanges {
			if fc.Staged {
				staged++
			}
		}
		fmt.Printf("\n%s %s\n\n", ui.RenderAccent("▸"), ui.RenderBold(st.Active.Name))
		fmt.Printf("Path:      %s\n", st.Active.Path)
		fmt.Printf("Project:   %s\n", a.gateway.DetectProjectType(st.Active.Path).Data)
		fmt.Printf("Branch:    %s\n", st.CurrentBranch)
		fmt.Printf("Branches:  %d\n", len(st.Branches))
		fmt.Printf("Changes:   %d (%d staged)\n", len(st.FileChanges), staged)
		if len(st.Commits) > 0 {
			c := st.Commits[0]
			fmt.Printf("Last:      %s %s\n", ui.RenderMuted(short(c.Hash, 7)), c.Message)
		} else {
			fmt.Printf("Last:      %s\n", ui.RenderMuted("no commits yet"))
		}
		if st.HasConflicts {
			fmt.Printf("\n%s %d conflicted files, see 'gitdeck conflicts'\n", ui.RenderWarn("⚠"), len(st.Conflicts))
		}
		fmt.Println()
		return nil
	}),
}

func addAuthFlags(cmd *cobra.Command) {
	cmd.Flags().String("auth", "", "credential type: none, token, password or ssh")
	cmd.Flags().String("username", "", "user name for token or password auth")
	cmd.Flags().String("token", "", "access token")
	cmd.Flags().String("password", "", "password")
	cmd.Flags().String("ssh-key", "", "path of the SSH private key")
}

func init() {
	repoAddCmd.Flags().String("name", "", "display name (default: directory name)")
	repoAddCmd.Flags().String("clone", "", "clone this URL into the path first")
	repoAddCmd.Flags().String("branch", "", "branch to check out after cloning")
	repoAddCmd.Flags().Bool("init", false, "create an empty repository at the path")
	repoAddCmd.MarkFlagsMutuallyExclusive("clone", "init")
	addAuthFlags(repoAddCmd)

	repoUpdateCmd.Flags().String("name", "", "new display name")
	repoUpdateCmd.Flags().String("path", "", "new working directory")
	repoUpdateCmd.Flags().String("remote-url", "", "remote URL")
	addAuthFlags(repoUpdateCmd)

	repoRemoveCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")

	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoListCmd)
	repoCmd.AddCommand(repoRemoveCmd)
	repoCmd.AddCommand(repoUpdateCmd)
	rootCmd.AddCommand(repoCmd)
	rootCmd.AddCommand(openCmd)
}
