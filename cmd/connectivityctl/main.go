package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:     "connectivityctl",
		Short:   "Operator tooling for the connectivity service",
		Version: Version,
	}

	rootCmd.PersistentFlags().String("config", "", "config file (defaults to CONFIG_PATH or ./config/local.yaml)")

	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(publishCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
