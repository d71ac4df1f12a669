// Command memri runs the personal knowledge engine: a local item cache
// synced against a pod, serving cascading CVU views to a UI client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "memri",
	Short: "Personal knowledge engine with CVU cascading views",
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to config file")
}

func defaultConfigPath() string {
	if p := os.Getenv("MEMRI_CONFIG"); p != "" {
		return p
	}
	return "memri.yaml"
}
