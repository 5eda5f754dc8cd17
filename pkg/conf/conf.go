package conf

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	app = kingpin.New("tide", "No help available")

	// Default flags and values.
	logLevelFlag = NewStringFlag(
		"log",
		"Log level for tide: debug, info, warn, error, fatal, panic",
		"error",
	)
	isEnvParsed = false
)

// SetAppName sets the application name for CLI output.
// We need to expose this function so binaries can set their own name.
func SetAppName(name string) {
	app.Name = name
}

// SetHelp sets the help message for the CLI.
func SetHelp(help string) {
	app.Help = help
}

// AppName returns the specified app name.
func AppName() string {
	return app.Name
}

// LogLevel returns the configured log level from input option or env
// variable. If it cannot parse the configured level, it falls back to the
// default value.
func LogLevel() logrus.Level {
	level, err := logrus.ParseLevel(logLevelFlag.Value())
	if err == nil {
		return level
	}

	level, err = logrus.ParseLevel(logLevelFlag.defaultValue)
	if err == nil {
		return level
	}

	// Programmer error.
	panic(errors.Wrap(err, "parsing log level failed"))
}

// ParseFlags parses both the command line flags of the process and
// environment variables.
func ParseFlags() error {
	_, err := app.Parse(os.Args[1:])
	if err == nil {
		isEnvParsed = true
		return nil
	}

	return errors.Wrap(err, "could not parse command line flags")
}

// ParseEnv parses the environment for arguments.
func ParseEnv() error {
	_, err := app.Parse([]string{})
	if err == nil {
		isEnvParsed = true
		return nil
	}

	return errors.Wrap(err, "could not parse environment flags")
}
