// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/gomlx/storygen/pkg/support/fsutil"
	"github.com/gomlx/storygen/pkg/support/params"
	"github.com/pkg/errors"
)

// ParseSettings from settings -- typically the contents of a flag set by the user.
// The settings are a list separated by ";": e.g.: "param1=value1;param2=value2;...".
//
// All the parameters "param1", "param2", etc. must be already set with default values
// in p. The default values are also used to set the type to which the
// string values will be parsed to.
//
// It updates p accordingly and returns the list of parameters set, or an error in case a
// parameter is unknown or the parsing failed.
//
// An entry "file:<path>" reads the settings from the file, one or more per line, with lines
// starting with "#" ignored.
//
// Example usage:
//
//	func main() {
//		p := params.New(defaults)
//		settings := commandline.CreateSettingsFlag(p, "")
//		flag.Parse()
//		paramsSet, err := commandline.ParseSettings(p, *settings)
//		if err != nil { klog.Fatalf("%+v", err) }
//		fmt.Println(commandline.SprintModifiedSettings(p, paramsSet))
//		...
//	}
func ParseSettings(p *params.Params, settings string) (paramsSet []string, err error) {
	for _, setting := range strings.Split(settings, ";") {
		paramsSet, err = parseSetting(p, setting, paramsSet)
		if err != nil {
			return
		}
	}
	return
}

func parseSetting(p *params.Params, setting string, paramsSet []string) (newParamsSet []string, err error) {
	newParamsSet = paramsSet
	setting = strings.TrimSpace(setting)
	if setting == "" {
		return
	}
	if filePath, found := strings.CutPrefix(setting, "file:"); found {
		// Read parameters from a file.
		filePath, err = fsutil.ReplaceTildeInDir(filePath)
		if err != nil {
			return
		}
		var contents []byte
		contents, err = os.ReadFile(filePath)
		if err != nil {
			err = errors.Wrapf(err, "failed to read settings from file %q", filePath)
			return
		}
		for _, line := range strings.Split(string(contents), "\n") {
			line = strings.TrimSpace(line)
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			for _, setting := range strings.Split(line, ";") {
				newParamsSet, err = parseSetting(p, setting, newParamsSet)
				if err != nil {
					return
				}
			}
		}
		return
	}

	key, valueStr, found := strings.Cut(setting, "=")
	if !found {
		err = errors.Errorf("can't parse settings %q: each setting requires the format \"<param>=<value>\"", setting)
		return
	}
	key = strings.TrimSpace(key)
	if err = p.SetFromString(key, strings.TrimSpace(valueStr)); err != nil {
		return
	}
	newParamsSet = append(newParamsSet, key)
	return
}

// CreateSettingsFlag create a string flag with the given flagName (if empty it will be named
// "set") and with a description of the parameters defined in p.
//
// The flag should be created before the call to `flag.Parse()`.
func CreateSettingsFlag(p *params.Params, flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	parts := []string{
		`Set generation parameters. ` +
			`It should be a list of elements "param=value" separated by ";". ` +
			`It can also be given an entry like: "file:settings_file.txt", in ` +
			`which case the file will be read and the settings will be parsed, ` +
			`with new-lines working as ";" to separate settings and lines starting with "#" are considered comments. ` +
			`Current available parameters that can be set:`,
	}
	p.Enumerate(func(key string, value any) {
		parts = append(parts, fmt.Sprintf("%q: default value is %s", key, params.FormatValue(value)))
	})
	var settings string
	flag.StringVar(&settings, flagName, "", strings.Join(parts, "\n"))
	return &settings
}

// SprintSettings pretty-print values for the current parameters into a string.
func SprintSettings(p *params.Params) string {
	var parts []string
	p.Enumerate(func(key string, value any) {
		parts = append(parts, fmt.Sprintf("\t%q: (%T) %s", key, value, params.FormatValue(value)))
	})
	return strings.Join(parts, "\n")
}

// SprintModifiedSettings pretty-prints the parameters in paramsSet, as returned by ParseSettings.
func SprintModifiedSettings(p *params.Params, paramsSet []string) string {
	var parts []string
	paramsSet = slices.Clone(paramsSet)
	slices.Sort(paramsSet)
	paramsSet = slices.Compact(paramsSet)
	for _, key := range paramsSet {
		value, found := p.Get(key)
		if !found {
			continue
		}
		parts = append(parts, fmt.Sprintf("\t%q: (%T) %s", key, value, params.FormatValue(value)))
	}
	return strings.Join(parts, "\n")
}
