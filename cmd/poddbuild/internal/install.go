package internal

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeffersonlab/poddbuild/internal/build"
)

var installCmd = &cobra.Command{
	Use:   "install",
	Short: "Build and install to the prefix",
	Long: `Install builds everything, then copies libraries, headers, dictionary
side files, sources and programs below the prefix, recreates the library
symlink chains there and records every installed file for uninstall.`,
	Args: cobra.NoArgs,
	RunE: runInstall,
}

func init() {
	rootCmd.AddCommand(installCmd)
}

func runInstall(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := newSession(ctx, &opts, logger, false)
	if err != nil {
		return err
	}
	plan, err := s.builder.Plan(ctx)
	if err != nil {
		return err
	}
	if err := build.Install(ctx, s.cfg, plan, s.executor); err != nil {
		return err
	}
	logger.Info("installed", zap.String("prefix", s.cfg.InstallRoot))
	return nil
}
