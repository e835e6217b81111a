package main

import (
	"fmt"
	"path/filepath"

	"github.com/danmuck/edgeshare/internal/trust"
	"github.com/spf13/cobra"
)

func newCertgenCmd(root *rootOptions) *cobra.Command {
	var (
		identity string
		dir      string
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "certgen",
		Short: "Generate a self-signed demo identity",
		Long: `Generate a self-signed certificate and key for the server identity.

Clients pin the generated certificate (or its SHA-256 fingerprint). This is a
closed-network demo posture: production deployments should use certificates
issued by an authority and trust.ca_file on clients.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if identity == "" {
				identity = root.cfg.Trust.Identity
			}
			if dir == "" {
				dir = filepath.Dir(root.cfg.Trust.CertFile)
			}
			id, err := trust.GenerateSelfSigned(identity)
			if err != nil {
				return err
			}
			certPath, keyPath, err := trust.WriteIdentity(dir, id, force)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "identity    %s\n", id.Name)
			fmt.Fprintf(out, "certificate %s\n", certPath)
			fmt.Fprintf(out, "key         %s\n", keyPath)
			fmt.Fprintf(out, "sha256      %s\n", trust.Fingerprint(id.Leaf))
			return nil
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "certificate name (default trust.identity)")
	cmd.Flags().StringVar(&dir, "dir", "", "output directory (default dir of trust.cert_file)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing identity")
	return cmd
}
