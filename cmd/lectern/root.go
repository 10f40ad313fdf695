package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lectern/version"
)

var (
	cfgFile string
	homeDir string
)

var rootCmd = &cobra.Command{
	Use:   "lectern",
	Short: "Content ingestion and audiobook assembly pipeline",
	Long: `Lectern ingests source material (uploads, URLs, podcast feeds) and turns
it into transcripts, summaries and assembled audiobooks.

The pipeline includes:
  - Transcription and summarization via external models
  - A durable job queue with retries, rate limiting and pruning
  - A reconciler that fails items stuck in processing
  - Per-chapter speech synthesis and audio concatenation`,
	Version: version.GitRelease,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lectern %s\n", version.GitRelease)
		fmt.Printf("  Go:     %s\n", version.GoInfo)
		fmt.Printf("  Commit: %s\n", version.GitCommit)
		fmt.Printf("  Date:   %s\n", version.GitCommitDate)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.lectern/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "lectern home directory (default: ~/.lectern)",
	)

	rootCmd.AddCommand(versionCmd)
}
