package internal

import (
	"github.com/spf13/cobra"

	"github.com/jeffersonlab/poddbuild/internal/build"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the libraries and programs",
	Long:  `Build resolves the external dependencies, generates the ROOT dictionaries and compiles and links every library and program into the build directory.`,
	Args:  cobra.NoArgs,
	RunE:  runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := newSession(ctx, &opts, logger, false)
	if err != nil {
		return err
	}
	plan, err := s.builder.Plan(ctx)
	if err != nil {
		return err
	}
	return build.Run(ctx, plan, s.executor)
}
