package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"visitorpass/internal/directory"
)

// NewPeopleCommand validates a directory file and lists who the form offers.
func NewPeopleCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "people [directory-file]",
		Short: "List active hosts from the people directory",
		Long:  "List active hosts from a directory file, or DIRECTORY_FILE when no file is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			} else {
				cfg, err := opts.loadConfig()
				if err != nil {
					return err
				}
				path = cfg.DirectoryFile
			}
			d, err := directory.Load(path)
			if err != nil {
				return err
			}
			people := d.Active()
			return emit(cmd.OutOrStdout(), opts, people, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tDEPARTMENT\tMOBILE")
				for _, p := range people {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, p.Department, p.Mobile)
				}
				_ = tw.Flush()
			})
		},
	}
}
