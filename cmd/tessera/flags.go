package main

import (
	"os"

	"github.com/urfave/cli/v3"

	"github.com/tessera-ml/tessera/internal/logger"
)

var (
	device        string
	power         string
	threads       int64
	modelFormat   string
	allowFallback bool
	logLevel      string
	logFormat     string
	debug         bool
)

func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "device",
			Usage:       "device preference (default, cpu, gpu)",
			Value:       "default",
			Destination: &device,
		},
		&cli.StringFlag{
			Name:        "power",
			Usage:       "power preference (default, low-power, high-performance)",
			Value:       "default",
			Destination: &power,
		},
		&cli.Int64Flag{
			Name:        "threads",
			Usage:       "kernel parallelism bound (0 = auto)",
			Destination: &threads,
		},
		&cli.StringFlag{
			Name:        "format",
			Aliases:     []string{"f"},
			Usage:       "model format (tgf, graph-json)",
			Destination: &modelFormat,
		},
		&cli.BoolFlag{
			Name:        "allow-fallback",
			Usage:       "permit cpu substitution when the preferred device is unavailable",
			Destination: &allowFallback,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func newLog() logger.Logger {
	level := logger.ParseLevel(logLevel)
	if debug {
		level = logger.ParseLevel("debug")
	}
	switch logFormat {
	case "json":
		return logger.JSON(os.Stderr, level)
	case "text":
		return logger.Default()
	default:
		return logger.Pretty(os.Stderr, level)
	}
}
