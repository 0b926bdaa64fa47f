package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gregpriday/copytree-sub000/tree"
)

var (
	cfgFile string
	version = "0.1.0"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "copytree [path]",
	Short: "Select and stream a project's file tree",
	Long: `copytree walks a directory tree, honoring layered .ctreeignore rules at
every level, and streams the accepted files for downstream consumption.
Transient filesystem errors are retried with backoff; failures are
summarized after the walk instead of aborting it.`,
	Version: version,
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := "."
		if len(args) > 0 {
			root = args[0]
		}
		return runWalk(cmd.Context(), root)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.copytree.yaml)")
	rootCmd.PersistentFlags().String("ignore-file", tree.DefaultIgnoreFile, "Per-directory ignore file name")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	rootCmd.Flags().Bool("parallel", false, "Use the parallel traversal strategy")
	rootCmd.Flags().IntP("concurrency", "c", tree.DefaultConcurrency, "Concurrent directory reads (parallel strategy)")
	rootCmd.Flags().Int("high-water", 0, "Result buffer high-water mark (default 2x concurrency)")
	rootCmd.Flags().Bool("follow-symlinks", false, "Follow symbolic links")
	rootCmd.Flags().Bool("include-dirs", false, "Include directories in the output")
	rootCmd.Flags().Int("max-depth", 0, "Maximum recursion depth (0 = unlimited)")
	rootCmd.Flags().Bool("explain", false, "Attach the deciding ignore rule to each result")
	rootCmd.Flags().String("format", "text", "Output format (text|json)")
	rootCmd.Flags().Bool("stats", false, "Print a retry/failure summary after the walk")

	// Bind flags to viper
	viper.BindPFlag("ignore-file", rootCmd.PersistentFlags().Lookup("ignore-file"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("parallel", rootCmd.Flags().Lookup("parallel"))
	viper.BindPFlag("concurrency", rootCmd.Flags().Lookup("concurrency"))
	viper.BindPFlag("high-water", rootCmd.Flags().Lookup("high-water"))
	viper.BindPFlag("follow-symlinks", rootCmd.Flags().Lookup("follow-symlinks"))
	viper.BindPFlag("include-dirs", rootCmd.Flags().Lookup("include-dirs"))
	viper.BindPFlag("max-depth", rootCmd.Flags().Lookup("max-depth"))
	viper.BindPFlag("explain", rootCmd.Flags().Lookup("explain"))
	viper.BindPFlag("format", rootCmd.Flags().Lookup("format"))
	viper.BindPFlag("stats", rootCmd.Flags().Lookup("stats"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".copytree" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".copytree")
	}

	viper.SetEnvPrefix("copytree")
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the CLI's zap logger from the verbose flag.
func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	if viper.GetBool("verbose") {
		config = zap.NewDevelopmentConfig()
		config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// walkOptions assembles traversal options from viper.
func walkOptions(root string, logger *zap.Logger, tel *tree.Telemetry) tree.Options {
	return tree.Options{
		Root:               root,
		IgnoreFile:         viper.GetString("ignore-file"),
		IncludeDirectories: viper.GetBool("include-dirs"),
		FollowSymlinks:     viper.GetBool("follow-symlinks"),
		MaxDepth:           viper.GetInt("max-depth"),
		Explain:            viper.GetBool("explain"),
		Concurrency:        viper.GetInt("concurrency"),
		HighWater:          viper.GetInt("high-water"),
		Logger:             logger,
		Telemetry:          tel,
	}
}

// jsonEntry is the json-lines output shape.
type jsonEntry struct {
	Path    string `json:"path"`
	Size    int64  `json:"size"`
	Dir     bool   `json:"dir,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Layer   string `json:"layer,omitempty"`
	Negated bool   `json:"negated,omitempty"`
}

func runWalk(ctx context.Context, root string) error {
	logger := newLogger()
	defer logger.Sync()

	tel := tree.NewTelemetry()
	opts := walkOptions(root, logger, tel)

	asJSON := viper.GetString("format") == "json"
	enc := json.NewEncoder(os.Stdout)
	emit := func(e tree.Entry) error {
		if !asJSON {
			_, err := fmt.Println(e.Path)
			return err
		}
		out := jsonEntry{Path: e.Path, Size: e.Stat.Size, Dir: e.Stat.IsDir}
		if e.Why != nil {
			out.Rule = e.Why.Rule
			out.Layer = e.Why.LayerBase
			out.Negated = e.Why.Negated
		}
		return enc.Encode(out)
	}

	var err error
	if viper.GetBool("parallel") {
		err = tree.WalkParallel(ctx, opts, emit)
	} else {
		err = tree.Walk(ctx, opts, emit)
	}
	if err != nil {
		return err
	}

	if viper.GetBool("stats") {
		printSummary(tel)
	}
	return nil
}

// printSummary reports the post-walk error accounting on stderr, leaving
// stdout to the result stream.
func printSummary(tel *tree.Telemetry) {
	s := tel.Summary()
	fmt.Fprintf(os.Stderr, "retries: %d  recovered: %d  gave up: %d  permanent: %d  pruned dirs: %d\n",
		s.Retries, s.Recovered, s.GiveUps, s.Permanent, s.DirectoriesPruned)
	for _, p := range tel.FailedPaths() {
		fmt.Fprintf(os.Stderr, "failed: %s\n", p)
	}
	for _, p := range tel.PermanentPaths() {
		fmt.Fprintf(os.Stderr, "skipped: %s\n", p)
	}
}
