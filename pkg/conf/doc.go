// Package conf is a helper for tide configuration for both the command line
// interface and environment variables.
// It gives the ability to register arguments which will be fetched from CLI
// input OR an environment variable with a TIDE_ prefix. For instance the
// "api_url" flag is mirrored as <TIDE_API_URL>.
//
// When `ParseEnv` is executed, only the environment arguments are parsed.
// `ParseEnv` can be run multiple times.
//
// When `ParseFlags` is executed, the arguments from both CLI and Env are
// parsed. In case of the --help option it prints help.
package conf
