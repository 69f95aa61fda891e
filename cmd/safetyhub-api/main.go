// Package main is the entry point for the SafetyHub API server.
package main

import (
	"os"

	"github.com/spf13/viper"

	"github.com/safetyhub/safetyhub-server/cmd/safetyhub-api/app"
	"github.com/safetyhub/safetyhub-server/internal/logger"
)

func main() {
	viper.SetEnvPrefix("SAFETYHUB")
	viper.AutomaticEnv()

	defer logger.Sync()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
