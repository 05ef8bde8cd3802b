package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "orpl",
	Short: "Opportunistic anycast routing for duty-cycled mesh networks",
	Long: `orpl routes packets over low-power radio meshes by anycasting each frame to whichever
neighbour wakes up first and is closer to the destination. Downward routes are summarised in
per-node bloom filters that are merged towards the sink.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "sim",
		Title: "Simulation",
	})
	rootCmd.AddGroup(&cobra.Group{
		ID:    "tools",
		Title: "Protocol Tools",
	})
}
