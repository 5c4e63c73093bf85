package main

import (
	"github.com/kristianrpo/connectivity-microservice/pkg/config"
	"github.com/kristianrpo/connectivity-microservice/pkg/utils"
	"github.com/spf13/cobra"
)

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = utils.ParseWithFallback("CONFIG_PATH", "./config/local.yaml")
	}

	return config.Load(path)
}
