package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gitdeck/gitdeck/internal/config"
	"github.com/gitdeck/gitdeck/internal/platform"
	"github.com/gitdeck/gitdeck/internal/secrets"
	"github.com/gitdeck/gitdeck/internal/ui"
)

var platformCmd = &cobra.Command{
	Use:     "platform",
	GroupID: "sync",
	Short:   "Work with GitHub, GitLab and Gitee accounts",
}

func accountFor(s config.Settings, kind platform.Kind) config.PlatformAccount {
	switch kind {
	case platform.GitHub:
		return s.Platforms.GitHub
	case platform.GitLab:
		return s.Platforms.GitLab
	}
	return s.Platforms.Gitee
}

func setAccount(s *config.Settings, kind platform.Kind, acct config.PlatformAccount) {
	switch kind {
	case platform.GitHub:
		s.Platforms.GitHub = acct
	case platform.GitLab:
		s.Platforms.GitLab = acct
	default:
		s.Platforms.Gitee = acct
	}
}

// platformClient builds a client honoring the account's base URL override
func platformClient(a *app, kind platform.Kind) *platform.Client {
	return platform.New(
		platform.WithBaseURL(kind, accountFor(a.settings, kind).BaseURL),
		platform.WithLogger(a.logs.Logger("platform")),
	)
}

// platformToken returns the --token flag, else the keychain entry, else
// the token stored in settings
func platformToken(cmd *cobra.Command, a *app, kind platform.Kind) (string, error) {
	if t, _ := cmd.Flags().GetString("token"); t != "" {
		return t, nil
	}
	if a.keychain != nil {
		t, ok, err := a.keychain.Get(secrets.PlatformAccount(string(kind)))
		if err != nil {
			return "", err
		}
		if ok {
			return t, nil
		}
	}
	if t := accountFor(a.settings, kind).Token; t != "" {
		return t, nil
	}
	return "", fmt.Errorf("no %s token, run 'gitdeck platform login %s' or pass --token", kind, kind)
}

var platformLoginCmd = &cobra.Command{
	Use:   "login <github|gitlab|gitee>",
	Short: "Verify an access token and store it",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		kind, err := platform.ParseKind(args[0])
		if err != nil {
			return err
		}
		token, _ := cmd.Flags().GetString("token")
		if token == "" {
			if token, err = promptSecret(fmt.Sprintf("%s access token", kind)); err != nil {
				return err
			}
		}

		token = strings.TrimSpace(token)
		acct, err := platformClient(a, kind).VerifyToken(cmd.Context(), kind, token)
		if err != nil {
			return err
		}

		s := a.settings
		stored := accountFor(s, kind)
		stored.Username = acct.Username
		if a.keychain != nil {
			if err := a.keychain.Set(secrets.PlatformAccount(string(kind)), token); err != nil {
				return err
			}
			stored.Token = ""
		} else {
			stored.Token = token
		}
		setAccount(&s, kind, stored)
		if err := a.saveSettings(cmd.Context(), s); err != nil {
			return err
		}
		fmt.Printf("%s Logged in to %s as %s\n", ui.RenderPass("✓"), kind, acct.Username)
		return nil
	}),
}

var platformCreateCmd = &cobra.Command{
	Use:   "create <github|gitlab|gitee> <name>",
	Short: "Create a remote repository",
	Long: `Create a repository on a hosting platform under the logged-in account.

With --add-remote, the new repository is added as a remote of the managed
repository selected by --repo.`,
	Args: cobra.ExactArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		kind, err := platform.ParseKind(args[0])
		if err != nil {
			return err
		}
		token, err := platformToken(cmd, a, kind)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		opts := platform.CreateOptions{Name: args[1]}
		opts.Description, _ = flags.GetString("description")
		opts.Private, _ = flags.GetBool("private")
		opts.AutoInit, _ = flags.GetBool("auto-init")

		created, err := platformClient(a, kind).CreateRepository(ctx, kind, token, opts)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(created)
		}
		fmt.Printf("%s Created %s\n", ui.RenderPass("✓"), opts.Name)
		fmt.Printf("   HTTPS: %s\n", created.URL)
		fmt.Printf("   SSH:   %s\n", created.SSHURL)

		remote, _ := flags.GetString("add-remote")
		if remote == "" {
			return nil
		}
		repo, err := a.resolve(repoRef)
		if err != nil {
			return err
		}
		url := created.URL
		if useSSH, _ := flags.GetBool("ssh"); useSSH {
			url = created.SSHURL
		}
		res, err := a.gateway.AddRemote(ctx, repo.Path, remote, url)
		if err == nil {
			err = res.Err()
		}
		if err != nil {
			return err
		}
		repo.RemoteURL = url
		if err := a.engine.UpdateRepository(ctx, repo); err != nil {
			return err
		}
		fmt.Printf("%s Added remote %s to %s\n", ui.RenderPass("✓"), remote, repo.Name)
		return nil
	}),
}

func init() {
	platformLoginCmd.Flags().String("token", "", "access token (prompted when omitted)")

	platformCreateCmd.Flags().String("token", "", "access token (default: the stored one)")
	platformCreateCmd.Flags().String("description", "", "repository description")
	platformCreateCmd.Flags().Bool("private", false, "create a private repository")
	platformCreateCmd.Flags().Bool("auto-init", false, "create an initial commit with a README")
	platformCreateCmd.Flags().String("add-remote", "", "add the new repository as this remote of --repo")
	platformCreateCmd.Flags().Bool("ssh", false, "use the SSH URL for --add-remote")

	platformCmd.AddCommand(platformLoginCmd)
	platformCmd.AddCommand(platformCreateCmd)
	rootCmd.AddCommand(platformCmd)
}
