package main

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/naylin209/instalogin/config"
)

func (c *rootCommand) setupLogger(cfg config.Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := c.gs.logger
	logger.SetLevel(level)

	_, noColor := c.gs.lookupEnv("NO_COLOR")
	switch cfg.LogFormat {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{
			ForceColors:   c.gs.stderrTTY && !noColor,
			DisableColors: noColor,
		})
	default:
		return fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}
	logger.Debugf("logger format: %s, level: %s", cfg.LogFormat, level)
	return nil
}
