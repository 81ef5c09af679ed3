package project

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"
)

// definition is the YAML shape of a project file.
type definition struct {
	Name           string               `yaml:"name"`
	Imports        stringList           `yaml:"imports"`
	DefaultTargets stringList           `yaml:"defaultTargets"`
	InitialTargets stringList           `yaml:"initialTargets"`
	Properties     []propertyDefinition `yaml:"properties"`
	Items          []itemDefinition     `yaml:"items"`
	Targets        []targetDefinition   `yaml:"targets"`
}

type propertyDefinition struct {
	Name      string `yaml:"name"`
	Value     scalar `yaml:"value"`
	Condition string `yaml:"condition"`
}

type itemDefinition struct {
	Type      string        `yaml:"type"`
	Include   string        `yaml:"include"`
	Exclude   string        `yaml:"exclude"`
	Condition string        `yaml:"condition"`
	Metadata  yaml.MapSlice `yaml:"metadata"`
}

type targetDefinition struct {
	Name      string              `yaml:"name"`
	Condition string              `yaml:"condition"`
	DependsOn stringList          `yaml:"dependsOn"`
	Inputs    string              `yaml:"inputs"`
	Outputs   string              `yaml:"outputs"`
	Returns   string              `yaml:"returns"`
	Tasks     []taskDefinition    `yaml:"tasks"`
	OnError   []onErrorDefinition `yaml:"onError"`
}

type taskDefinition struct {
	Name            string             `yaml:"name"`
	Params          map[string]scalar  `yaml:"params"`
	ContinueOnError scalar             `yaml:"continueOnError"`
	Condition       string             `yaml:"condition"`
	Outputs         []outputDefinition `yaml:"outputs"`
}

type outputDefinition struct {
	TaskParameter string `yaml:"taskParameter"`
	Property      string `yaml:"property"`
	ItemType      string `yaml:"itemType"`
}

type onErrorDefinition struct {
	Targets   stringList `yaml:"targets"`
	Condition string     `yaml:"condition"`
}

// stringList accepts either a YAML sequence or a ';'-separated string.
type stringList []string

// UnmarshalYAML implements BytesUnmarshaler for goccy/go-yaml.
func (l *stringList) UnmarshalYAML(data []byte) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*l = nil
	case string:
		*l = splitList(v)
	case []any:
		out := make([]string, 0, len(v))
		for i, item := range v {
			s, ok := item.(string)
			if !ok {
				return fmt.Errorf("list[%d]: expected a string, got %T", i, item)
			}
			out = append(out, splitList(s)...)
		}
		*l = out
	default:
		return fmt.Errorf("expected a string or a list, got %T", v)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// scalar is a string that also accepts YAML numbers and booleans.
type scalar string

// UnmarshalYAML implements BytesUnmarshaler for goccy/go-yaml.
func (s *scalar) UnmarshalYAML(data []byte) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	v, err := stringify(raw)
	if err != nil {
		return err
	}
	*s = scalar(v)
	return nil
}

func stringify(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int, int64, uint64, float64:
		return fmt.Sprint(v), nil
	}
	return "", fmt.Errorf("expected a scalar value, got %T", v)
}
