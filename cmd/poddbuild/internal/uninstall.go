package internal

import (
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeffersonlab/poddbuild/internal/install"
)

var uninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Remove installed files",
	Long:  `Uninstall removes the files recorded by the last install below the prefix and prunes directories left empty.`,
	Args:  cobra.NoArgs,
	RunE:  runUninstall,
}

func init() {
	rootCmd.AddCommand(uninstallCmd)
}

func runUninstall(cmd *cobra.Command, args []string) error {
	prefix, err := filepath.Abs(opts.prefix)
	if err != nil {
		return err
	}
	removed, err := install.Uninstall(prefix, logger)
	if err != nil {
		return err
	}
	logger.Info("uninstalled", zap.String("prefix", prefix), zap.Int("removed", len(removed)))
	return nil
}
