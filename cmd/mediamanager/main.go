package main

import (
	"fmt"
	"os"
	runtime "runtime/debug"

	"github.com/spf13/cobra"
)

var version = getVersion()

func getVersion() string {
	if info, ok := runtime.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}

	return "dev"
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	rootCmd = &cobra.Command{
		Use:           "mediamanager",
		Short:         "Drive torrent and usenet backends and track acquisition jobs",
		SilenceUsage: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Poll every tracked job on a schedule and serve metrics",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	addCmd = &cobra.Command{
		Use:   "add <download-url>",
		Short: "Submit a job to the backend serving its protocol",
		Args:  cobra.ExactArgs(1),
		RunE:  runAdd,
		Example: `  # Submit a magnet reference
  mediamanager add "magnet:?xt=urn:btih:..." --title "Show S01E01" --quality fullhd

  # Submit an NZB to the usenet client
  mediamanager add https://indexer/get/123.nzb --title "Show S01E01" --usenet`,
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List tracked jobs as last persisted",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}

	statusCmd = &cobra.Command{
		Use:   "status [hash...]",
		Short: "Poll the backend for the given jobs, or all tracked jobs",
		RunE:  runStatus,
	}

	removeCmd = &cobra.Command{
		Use:   "remove <hash>",
		Short: "Remove a job from its backend and stop tracking it",
		Args:  cobra.ExactArgs(1),
		RunE:  runRemove,
	}

	pauseCmd = &cobra.Command{
		Use:   "pause <hash>",
		Short: "Stop a job on its backend",
		Args:  cobra.ExactArgs(1),
		RunE:  runPause,
	}

	resumeCmd = &cobra.Command{
		Use:   "resume <hash>",
		Short: "Restart a stopped job on its backend",
		Args:  cobra.ExactArgs(1),
		RunE:  runResume,
	}

	hashCmd = &cobra.Command{
		Use:   "hash <source>",
		Short: "Print the fingerprint of a .torrent, magnet or NZB without contacting a backend",
		Args:  cobra.ExactArgs(1),
		RunE:  runHash,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "mediamanager %s\n", version)
		},
	}

	addTitle   string
	addQuality string
	addUsenet  bool

	removeData bool
	hashUsenet bool
)

func init() {
	jobsGroup := &cobra.Group{
		ID:    "jobs",
		Title: "Job Commands:",
	}

	daemonGroup := &cobra.Group{
		ID:    "daemon",
		Title: "Daemon Commands:",
	}

	rootCmd.AddGroup(jobsGroup, daemonGroup)

	for _, c := range []*cobra.Command{addCmd, listCmd, statusCmd, removeCmd, pauseCmd, resumeCmd, hashCmd} {
		c.GroupID = jobsGroup.ID
	}

	serveCmd.GroupID = daemonGroup.ID

	rootCmd.AddCommand(serveCmd, addCmd, listCmd, statusCmd, removeCmd, pauseCmd, resumeCmd, hashCmd, versionCmd)

	addCmd.Flags().StringVar(&addTitle, "title", "", "job title; names the download directory (required)")
	addCmd.Flags().StringVar(&addQuality, "quality", "", "quality tag: uhd, fullhd, hd or sd")
	addCmd.Flags().BoolVar(&addUsenet, "usenet", false, "submit to the usenet client instead of the torrent client")
	_ = addCmd.MarkFlagRequired("title")

	removeCmd.Flags().BoolVar(&removeData, "delete-data", false, "also delete downloaded data")

	hashCmd.Flags().BoolVar(&hashUsenet, "usenet", false, "treat the source as an NZB document")
}
