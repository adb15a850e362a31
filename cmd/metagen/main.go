package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	serverFlag  string
	tokenFlag   string
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "metagen",
	Short: "Generate YouTube thumbnails, descriptions and tags",
	Long: `metagen talks to a metagen server to upload source media and generate
thumbnail variants, a description and tags for a video.

Examples:
  metagen login --email me@example.com --password secret
  metagen upload ./clip.mp4
  metagen generate --hook "Learn Go in 10 minutes" --tone educational --source videoFrames --asset <id>
  metagen generate --hook "Cats" --source images --asset a1 --asset a2 --no-tags --more 1`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogging(verboseFlag)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", envOr("METAGEN_SERVER_URL", "http://localhost:8080"), "metagen server base URL")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", os.Getenv("METAGEN_TOKEN"), "access token (defaults to the saved login)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(loginCmd, uploadCmd, generateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initLogging reads METAGEN_LOG_LEVEL; --verbose forces debug.
func initLogging(verbose bool) {
	switch os.Getenv("METAGEN_LOG_LEVEL") {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
