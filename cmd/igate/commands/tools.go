package commands

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/EliFuzz/igate/pkg/catalog"
	"github.com/EliFuzz/igate/pkg/mcpmgr"
	"github.com/spf13/cobra"
)

type serverListing struct {
	Server    string        `json:"server"`
	Transport string        `json:"transport"`
	Target    string        `json:"target"`
	Available bool          `json:"available"`
	Tools     []toolSummary `json:"tools"`
}

type toolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

func newToolsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools every server exposes through the gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			format, _ := cmd.Flags().GetString("output")
			format, err := checkOutput(format, outputText, outputJSON, outputYAML)
			if err != nil {
				return err
			}
			mgr := a.newManager(nil)
			reg := a.buildRegistry(cmd.Context(), mgr)
			listings := a.listings(reg)
			if format == outputText {
				return writeListings(cmd.OutOrStdout(), listings)
			}
			return writeStructured(cmd.OutOrStdout(), format, listings)
		},
	}
	cmd.Flags().StringP("output", "o", outputText, "Output format: text | json | yaml")
	return cmd
}

// listings reports every configured server, including the ones whose
// discovery failed.
func (a *app) listings(reg *catalog.Registry) []serverListing {
	names := make([]string, 0, len(a.cfg.Servers))
	for name := range a.cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]serverListing, 0, len(names))
	for _, name := range names {
		conn := a.cfg.Servers[name].Connection()
		listing := serverListing{
			Server:    name,
			Transport: string(mcpmgr.TransportOf(conn)),
			Target:    mcpmgr.Describe(conn),
			Tools:     []toolSummary{},
		}
		if entry, ok := reg.Entry(name); ok {
			listing.Available = true
			for _, tool := range entry.Tools {
				listing.Tools = append(listing.Tools, toolSummary{Name: tool.Name, Description: tool.Description})
			}
		}
		out = append(out, listing)
	}
	return out
}

func writeListings(w io.Writer, listings []serverListing) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVER\tTOOL\tDESCRIPTION")
	for _, listing := range listings {
		switch {
		case !listing.Available:
			fmt.Fprintf(tw, "%s\t-\tunavailable (%s %s)\n", listing.Server, listing.Transport, listing.Target)
		case len(listing.Tools) == 0:
			fmt.Fprintf(tw, "%s\t-\tno visible tools\n", listing.Server)
		default:
			for _, tool := range listing.Tools {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", listing.Server, tool.Name, tool.Description)
			}
		}
	}
	return tw.Flush()
}
