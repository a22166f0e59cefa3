package internal

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeffersonlab/poddbuild/internal/build"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove build outputs",
	Long:  `Clean removes every declared build output, including the library symlinks and the generated headers.`,
	Args:  cobra.NoArgs,
	RunE:  runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := newSession(ctx, &opts, logger, true)
	if err != nil {
		return err
	}
	plan, err := s.builder.Plan(ctx)
	if err != nil {
		return err
	}
	removed, err := build.Clean(plan, s.executor)
	logger.Info("cleaned", zap.Int("removed", len(removed)))
	return err
}
