package internal

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeffersonlab/poddbuild/internal/logging"
)

// flags holds the global command line settings.
type flags struct {
	jobs      int
	verbose   bool
	config    string
	envFiles  []string
	sourceDir string
	buildDir  string
	prefix    string
	rpaths    []string

	debug            bool
	standalone       bool
	vendorDependency bool
}

var (
	opts   = defaultFlags()
	logger = zap.NewNop()
)

func defaultFlags() flags {
	return flags{
		jobs:      runtime.NumCPU(),
		sourceDir: ".",
		buildDir:  "build",
		prefix:    "install",
	}
}

var rootCmd = &cobra.Command{
	Use:   "poddbuild",
	Short: "poddbuild builds the Podd analyzer",
	Long: `poddbuild builds the Podd/Hall A analyzer libraries, programs and
ROOT dictionaries, resolves or vendors the external CODA libraries and
installs the result below a prefix.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(opts.verbose)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.IntVarP(&opts.jobs, "jobs", "j", opts.jobs, "Number of build steps run in parallel")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose output")
	pf.StringVar(&opts.config, "config", "", "Project file (default <source-dir>/podd.yaml, built-in table if absent)")
	pf.StringSliceVar(&opts.envFiles, "env-file", nil, "Read dependency hints from .env files")
	pf.StringVarP(&opts.sourceDir, "source-dir", "C", opts.sourceDir, "Source tree root")
	pf.StringVar(&opts.buildDir, "build-dir", opts.buildDir, "Build output directory")
	pf.StringVar(&opts.prefix, "prefix", opts.prefix, "Install root")
	pf.StringSliceVar(&opts.rpaths, "rpath", nil, "Runtime search paths embedded at link time, added to the project's")
	pf.BoolVar(&opts.debug, "debug", false, "Compile with debug instead of optimization flags")
	pf.BoolVar(&opts.standalone, "standalone", false, "Build the standalone test executables")
	pf.BoolVar(&opts.vendorDependency, "vendor-dependency", false, "Build external dependencies from source even if installed")
}

// Execute runs the root command and exits with status 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "poddbuild:", oneLine(err))
		os.Exit(1)
	}
}

// oneLine joins the lines of a multi-line error, such as joined step
// failures or captured tool output, with "; ".
func oneLine(err error) string {
	var parts []string
	for _, l := range strings.Split(err.Error(), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, "; ")
}
