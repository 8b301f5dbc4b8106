package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func checkOutput(format string, allowed ...string) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	for _, candidate := range allowed {
		if format == candidate {
			return format, nil
		}
	}
	return "", fmt.Errorf("invalid --output %q: want one of %s", format, strings.Join(allowed, ", "))
}

// writeStructured renders v as indented JSON or YAML. YAML output goes
// through JSON first so field names follow the JSON tags of MCP types.
func writeStructured(w io.Writer, format string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if format == outputJSON {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	var plain any
	if err := json.Unmarshal(data, &plain); err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(plain); err != nil {
		return err
	}
	return enc.Close()
}
