package logging

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

// LoggerPatternConfig sets the level of every logger whose dotted name matches Pattern. A "*"
// section matches any run of characters, so "botlab.slam.*" covers every SLAM sublogger.
type LoggerPatternConfig struct {
	Pattern string `json:"pattern" yaml:"pattern" mapstructure:"pattern"`
	Level   string `json:"level" yaml:"level" mapstructure:"level"`
}

// A section is alphanumeric, optionally joined by '-' or '_' runs: "slam", "particle_filter".
var loggerSectionRegexp = regexp.MustCompile(`^[a-zA-Z0-9]+([_-]*[a-zA-Z0-9]+)*$`)

func validatePattern(pattern string) bool {
	for _, section := range strings.Split(pattern, ".") {
		if section != "*" && !loggerSectionRegexp.MatchString(section) {
			return false
		}
	}
	return true
}

// levelRule is a compiled LoggerPatternConfig.
type levelRule struct {
	matcher *regexp.Regexp
	level   Level
}

func compileLevelRules(configs []LoggerPatternConfig) ([]levelRule, error) {
	rules := make([]levelRule, 0, len(configs))
	for _, lpc := range configs {
		if !validatePattern(lpc.Pattern) {
			return nil, errors.Errorf("invalid logger pattern %q", lpc.Pattern)
		}
		level, err := LevelFromString(lpc.Level)
		if err != nil {
			return nil, err
		}
		sections := strings.Split(lpc.Pattern, ".")
		for i, section := range sections {
			if section == "*" {
				sections[i] = ".*"
			}
		}
		rules = append(rules, levelRule{
			matcher: regexp.MustCompile(`^` + strings.Join(sections, `\.`) + `$`),
			level:   level,
		})
	}
	return rules, nil
}

// levelFor returns the level of the last rule matching name.
func levelFor(rules []levelRule, name string) (Level, bool) {
	for i := len(rules) - 1; i >= 0; i-- {
		if rules[i].matcher.MatchString(name) {
			return rules[i].level, true
		}
	}
	return INFO, false
}
