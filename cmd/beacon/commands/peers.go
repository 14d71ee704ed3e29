package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

func peersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List paired peers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			for _, p := range a.Peers() {
				fmt.Printf("%s\t%s\t%s\tv%s\n", p.PublicKey, p.Name, p.RelayServer, p.Version)
			}
			return nil
		},
	}
}

func permissionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "permissions",
		Short: "List permissions granted to dApps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			perms, err := a.Permissions().List(cmd.Context())
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(perms, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}
