package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"visitorpass/internal/visitor/credential"
)

type passOutput struct {
	VisitorID string `json:"visitor_id"`
	PassLink  string `json:"pass_link"`
	ScanURL   string `json:"scan_url"`
	Token     string `json:"token"`
}

// NewPassCommand prints the credential the server would issue for a visitor.
// It does not check the visitor's status.
func NewPassCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pass <visitor-id>",
		Short: "Print the entry credential for a visitor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer, err := newIssuer(opts)
			if err != nil {
				return err
			}
			cred, err := issuer.Issue(args[0])
			if err != nil {
				return err
			}
			out := passOutput{
				VisitorID: cred.VisitorID,
				PassLink:  cred.PassLink,
				ScanURL:   cred.ScanURL,
				Token:     cred.Token,
			}
			return emit(cmd.OutOrStdout(), opts, out, func(w io.Writer) {
				fmt.Fprintf(w, "visitor:   %s\npass link: %s\nscan url:  %s\ntoken:     %s\n",
					out.VisitorID, out.PassLink, out.ScanURL, out.Token)
			})
		},
	}
}

// NewDecodeCommand decodes any scanned payload the gate accepts.
func NewDecodeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "decode <payload>",
		Short: "Decode a scanned credential to its visitor id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			issuer, err := newIssuer(opts)
			if err != nil {
				return err
			}
			id, err := issuer.Decode(args[0])
			if err != nil {
				return err
			}
			return emit(cmd.OutOrStdout(), opts, map[string]string{"visitor_id": id}, func(w io.Writer) {
				fmt.Fprintln(w, id)
			})
		},
	}
}

func newIssuer(opts *RootOptions) (*credential.Issuer, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return nil, err
	}
	return credential.NewIssuer(cfg.BaseURL, []byte(cfg.Credential.SigningKey), cfg.Credential.Version)
}
