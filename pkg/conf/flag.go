package conf

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/alecthomas/kingpin.v2"
)

// flagType is an internal interface for all flags.
// Every flag should have a method for creating an `envName` from its name
// and a `clear` method for unsetting the corresponding environment variable.
type flagType interface {
	envName() string
	clear()
}

// definedFlags stores all the defined flags. It helps to find duplicates
// when defining a flag with the same name.
var definedFlags = map[string]flagType{}

// cliAndEnvFlag represents an option definition shared between CLI and
// environment variable input.
type cliAndEnvFlag struct {
	*kingpin.FlagClause
}

func newCliAndEnvFlag(flagName string, description string, defaultValue string) *cliAndEnvFlag {
	c := &cliAndEnvFlag{FlagClause: app.Flag(flagName, description)}
	c.OverrideDefaultFromEnvar(c.envName())

	if defaultValue != "" {
		c.Default(defaultValue)
	}

	return c
}

// envName returns the flag name converted to a tide environment variable
// name: uppercase with a TIDE prefix. For instance "api_url" becomes
// "TIDE_API_URL".
func (f *cliAndEnvFlag) envName() string {
	return fmt.Sprintf("%s_%s", "TIDE", strings.ToUpper(f.Model().Name))
}

// clear unsets the corresponding environment variable.
func (f *cliAndEnvFlag) clear() {
	os.Unsetenv(f.envName())
}

// StringFlag represents a flag with a string value.
type StringFlag struct {
	*cliAndEnvFlag
	defaultValue string
	value        *string
}

// NewStringFlag is a constructor of StringFlag struct.
func NewStringFlag(flagName string, description string, defaultValue string) *StringFlag {
	// Check for duplicates and reuse the definition when it is identical.
	if duplicatedFlag := definedFlags[flagName]; duplicatedFlag != nil {
		flagDef, ok := duplicatedFlag.(*StringFlag)
		if !ok {
			panic("Flag was redefined but with a different type. Unify the type.")
		}
		if flagDef.defaultValue != defaultValue {
			panic("Flag was redefined but with a different default value. Unify the default.")
		}
		return flagDef
	}

	flagDef := &StringFlag{
		cliAndEnvFlag: newCliAndEnvFlag(flagName, description, defaultValue),
		defaultValue:  defaultValue,
	}

	flagDef.value = flagDef.String()
	definedFlags[flagName] = flagDef
	isEnvParsed = false
	return flagDef
}

// Value returns the value of the defined flag after parse.
// NOTE: If conf is not parsed it returns the default value (!)
func (s StringFlag) Value() string {
	if !isEnvParsed {
		return s.defaultValue
	}

	return *s.value
}

// IntFlag represents a flag with an int value.
type IntFlag struct {
	*cliAndEnvFlag
	defaultValue int
	value        *int
}

// NewIntFlag is a constructor of IntFlag struct.
func NewIntFlag(flagName string, description string, defaultValue int) *IntFlag {
	// Check for duplicates and reuse the definition when it is identical.
	if duplicatedFlag := definedFlags[flagName]; duplicatedFlag != nil {
		flagDef, ok := duplicatedFlag.(*IntFlag)
		if !ok {
			panic("Flag was redefined but with a different type. Unify the type.")
		}
		if flagDef.defaultValue != defaultValue {
			panic("Flag was redefined but with a different default value. Unify the default.")
		}
		return flagDef
	}

	flagDef := &IntFlag{
		cliAndEnvFlag: newCliAndEnvFlag(flagName, description, fmt.Sprintf("%d", defaultValue)),
		defaultValue:  defaultValue,
	}

	flagDef.value = flagDef.Int()
	definedFlags[flagName] = flagDef
	isEnvParsed = false
	return flagDef
}

// Value returns the value of the defined flag after parse.
// NOTE: If conf is not parsed it returns the default value (!)
func (i IntFlag) Value() int {
	if !isEnvParsed {
		return i.defaultValue
	}

	return *i.value
}

// BoolFlag represents a flag with a bool value.
type BoolFlag struct {
	*cliAndEnvFlag
	defaultValue bool
	value        *bool
}

// NewBoolFlag is a constructor of BoolFlag struct.
func NewBoolFlag(flagName string, description string, defaultValue bool) *BoolFlag {
	// Check for duplicates and reuse the definition when it is identical.
	if duplicatedFlag := definedFlags[flagName]; duplicatedFlag != nil {
		flagDef, ok := duplicatedFlag.(*BoolFlag)
		if !ok {
			panic("Flag was redefined but with a different type. Unify the type.")
		}
		if flagDef.defaultValue != defaultValue {
			panic("Flag was redefined but with a different default value. Unify the default.")
		}
		return flagDef
	}

	flagDef := &BoolFlag{
		cliAndEnvFlag: newCliAndEnvFlag(flagName, description, fmt.Sprintf("%v", defaultValue)),
		defaultValue:  defaultValue,
	}

	flagDef.value = flagDef.Bool()
	definedFlags[flagName] = flagDef
	isEnvParsed = false
	return flagDef
}

// Value returns the value of the defined flag after parse.
// NOTE: If conf is not parsed it returns the default value (!)
func (b BoolFlag) Value() bool {
	if !isEnvParsed {
		return b.defaultValue
	}

	return *b.value
}
