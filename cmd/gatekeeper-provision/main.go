package main

import (
	"errors"
	"os"

	"github.com/platinummonkey/gatekeeper/pkg/cli"
	"github.com/sirupsen/logrus"
)

func main() {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if os.Getenv("GATEKEEPER_LOG_LEVEL") == "debug" {
		log.SetLevel(logrus.DebugLevel)
	}

	rootCmd := cli.NewRootCommand(cli.OpenFromConfig(log))
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, cli.ErrDenied) {
			os.Exit(2)
		}
		log.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}
