package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harmonyhub/harmony/cmd/jam"
	"github.com/harmonyhub/harmony/cmd/project"
	"github.com/harmonyhub/harmony/cmd/serve"
	"github.com/harmonyhub/harmony/cmd/util"
)

const (
	Version = "0.3.1"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "harmony",
		Short: "collaborative project hub",
		Long: fmt.Sprintf(`harmony (v%s)

A real-time collaboration hub written in Go. Projects are edited
concurrently by many clients; edits merge without coordination and all
replicas converge to the same document.`, Version),
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of harmony",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("harmony v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(project.ProjectCommands)
	RootCmd.AddCommand(jam.JamCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	key := "codec"
	RootCmd.PersistentFlags().String(key, "binary", util.WrapString("wire codec to use (binary, json)"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
