// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/pkg/errors"

	"github.com/gomlx/charlm/pkg/ml/model/charlm"
	"github.com/gomlx/charlm/pkg/support/fsutil"
)

// configFields returns pointers to the settable fields of cfg, by name. Names are the ones used in model files.
func configFields(cfg *charlm.Config) map[string]any {
	return map[string]any{
		charlm.ParamHiddenSize:    &cfg.HiddenSize,
		charlm.ParamNumLayers:     &cfg.NumLayers,
		charlm.ParamEmbeddingSize: &cfg.EmbeddingSize,
		charlm.ParamNOut:          &cfg.BottleneckSize,
		charlm.ParamDropout:       &cfg.Dropout,
		charlm.ParamUseAllLayers:  &cfg.UseAllLayers,
		charlm.ParamIsForwardLM:   &isForwardSetting{cfg},
	}
}

// isForwardSetting maps the boolean setting to the configuration Direction.
type isForwardSetting struct {
	cfg *charlm.Config
}

func (s *isForwardSetting) set(isForward bool) {
	s.cfg.Direction = charlm.Backward
	if isForward {
		s.cfg.Direction = charlm.Forward
	}
}

// ConfigSettingNames returns the names of the settings accepted by ParseConfigSettings, sorted.
func ConfigSettingNames() []string {
	var names []string
	for name := range configFields(&charlm.Config{}) {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ParseConfigSettings from settings -- typically the contents of a flag set by the user.
// The settings are a list separated by ";": e.g.: "hidden_size=2048;nlayers=2;...".
// The names of the settings are the ones used in model files: see ConfigSettingNames.
//
// It updates cfg accordingly and returns the names of the settings set, or an error in case a setting
// is unknown or the parsing failed.
//
// For integer settings, "_" is removed: it allows one to enter large numbers using it as a separator, like
// in Go. E.g.: 1_000_000 = 1000000.
//
// A setting like "file:settings_file.txt" reads the settings from the file, with new-lines working as ";"
// and lines starting with "#" ignored.
func ParseConfigSettings(cfg *charlm.Config, settings string) (paramsSet []string, err error) {
	for _, setting := range strings.Split(settings, ";") {
		paramsSet, err = parseConfigSetting(cfg, setting, paramsSet)
		if err != nil {
			return
		}
	}
	return
}

func parseConfigSetting(cfg *charlm.Config, setting string, paramsSet []string) (newParamsSet []string, err error) {
	newParamsSet = paramsSet
	setting = strings.TrimSpace(setting)
	if setting == "" {
		return
	}
	if strings.HasPrefix(setting, "file:") {
		var filePath string
		filePath, err = fsutil.ReplaceTildeInDir(strings.TrimPrefix(setting, "file:"))
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
				newParamsSet, err = parseConfigSetting(cfg, setting, newParamsSet)
				if err != nil {
					return
				}
			}
		}
		return
	}

	parts := strings.Split(setting, "=")
	if len(parts) != 2 {
		err = errors.Errorf("can't parse settings %q: each setting requires the format \"<param>=<value>\"", setting)
		return
	}
	name, valueStr := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	field, found := configFields(cfg)[name]
	if !found {
		err = errors.Errorf("can't set parameter %q: unknown, valid parameters are %q", name, ConfigSettingNames())
		return
	}
	switch ptr := field.(type) {
	case *int:
		var v int
		err = json.Unmarshal([]byte(strings.ReplaceAll(valueStr, "_", "")), &v)
		if err == nil {
			*ptr = v
		}
	case *float64:
		var v float64
		err = json.Unmarshal([]byte(valueStr), &v)
		if err == nil {
			*ptr = v
		}
	case *bool:
		var v bool
		err = json.Unmarshal([]byte(valueStr), &v)
		if err == nil {
			*ptr = v
		}
	case *isForwardSetting:
		var v bool
		err = json.Unmarshal([]byte(valueStr), &v)
		if err == nil {
			ptr.set(v)
		}
	}
	if err != nil {
		err = errors.Wrapf(err, "failed to parse value %q for parameter %q", valueStr, name)
		return
	}
	newParamsSet = append(newParamsSet, name)
	return
}

// CreateConfigSettingsFlag create a string flag with the given flagName (if empty it will be named
// "set") and with a description of the settings and their values in cfg.
//
// The flag should be created before the call to `flags.Parse()`.
//
// Example usage:
//
//	func main() {
//		cfg := charlm.DefaultConfig()
//		settings := commandline.CreateConfigSettingsFlag(cfg, "")
//		flag.Parse()
//		_, err := commandline.ParseConfigSettings(&cfg, *settings)
//		if err != nil { panic(err) }
//		fmt.Println(commandline.SprintConfig(cfg))
//		...
//	}
func CreateConfigSettingsFlag(cfg charlm.Config, flagName string) *string {
	if flagName == "" {
		flagName = "set"
	}
	usage := `Set configuration parameters of a new model. ` +
		`It should be a list of elements "param=value" separated by ";". ` +
		`It can also be given an entry like: "file:settings_file.txt", in ` +
		`which case the file will be read and the settings will be parsed, ` +
		`with new-lines working as ";" to separate settings and lines starting with "#" are considered comments. ` +
		"Current available parameters that can be set:\n" + SprintConfig(cfg)
	var settings string
	flag.StringVar(&settings, flagName, "", usage)
	return &settings
}

// SprintConfig pretty-prints the settable values of cfg, one per line.
func SprintConfig(cfg charlm.Config) string {
	fields := configFields(&cfg)
	var parts []string
	for _, name := range ConfigSettingNames() {
		var value any
		switch ptr := fields[name].(type) {
		case *int:
			value = *ptr
		case *float64:
			value = *ptr
		case *bool:
			value = *ptr
		case *isForwardSetting:
			value = cfg.Direction == charlm.Forward
		}
		parts = append(parts, fmt.Sprintf("\t%q: %v", name, value))
	}
	return strings.Join(parts, "\n")
}
