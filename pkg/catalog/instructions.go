package catalog

import (
	"encoding/json"
	"fmt"
	"strings"
)

const instructionsPreamble = "IMPORTANT: Always call `search_tool` first for any MCP tool to retrieve its input schema and understand required parameters before using `execute_tool`."

type serverSummary struct {
	ServerName string        `json:"serverName"`
	Tools      []toolSummary `json:"tools"`
}

type toolSummary struct {
	ToolName    string `json:"toolName"`
	Description string `json:"description,omitempty"`
}

// Instructions renders the description a calling agent reads before using
// the gateway: a usage hint, then every backend with its visible tools as a
// JSON array, both in name order. gatewayName is how the gateway refers to
// itself.
func Instructions(gatewayName string, reg *Registry) (string, error) {
	summaries := make([]serverSummary, 0, reg.Len())
	for _, entry := range reg.Entries() {
		s := serverSummary{ServerName: entry.Name, Tools: make([]toolSummary, 0, len(entry.Tools))}
		for _, tool := range entry.Tools {
			s.Tools = append(s.Tools, toolSummary{ToolName: tool.Name, Description: tool.Description})
		}
		summaries = append(summaries, s)
	}
	encoded, err := json.Marshal(summaries)
	if err != nil {
		return "", fmt.Errorf("catalog: encode instructions: %w", err)
	}

	var b strings.Builder
	b.WriteString(instructionsPreamble)
	b.WriteString("\n")
	fmt.Fprintf(&b, "`%s` incorporates the following servers and their tools:\n", gatewayName)
	b.Write(encoded)
	return b.String(), nil
}
