package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/example/dxscan/internal/config"
	"github.com/example/dxscan/internal/gitcli"
)

func newInitCmd(loader *config.Loader, env scanEnv) *cobra.Command {
	var force bool
	var skipGitCheck bool

	cmd := &cobra.Command{
		Use:   "init [DIR]",
		Short: "Write a default dxscan.config.yml and check the environment",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := loader.ConfigPath
			if len(args) > 0 {
				if err := ensureOutputDir(args[0]); err != nil {
					return err
				}
				path = filepath.Join(args[0], config.DefaultConfigPath)
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			if !skipGitCheck {
				git := env.deps.Git
				if git == nil {
					git = gitcli.NewRunner()
				}
				if err := git.EnsureBinary(); err != nil {
					return err
				}
			}

			data, err := config.DefaultFile()
			if err != nil {
				return err
			}
			if err := writeFile(path, data); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing configuration file")
	cmd.Flags().BoolVar(&skipGitCheck, "skip-git-check", false, "Do not require the git binary (remote-only scans)")

	return cmd
}
