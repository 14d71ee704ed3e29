package commands

import (
	"beacon_p2p/internal/model"
	"beacon_p2p/internal/protocol/wire"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// dapp: print a pairing request, wait for a wallet and ask it for
// permissions.
func dappCmd() *cobra.Command {
	var (
		network string
		scopes  []string
	)
	cmd := &cobra.Command{
		Use:   "dapp",
		Short: "Show a pairing request and ask the paired wallet for permissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())
			if err := a.Start(ctx); err != nil {
				return err
			}

			paired := make(chan model.Peer, 1)
			defer a.OnPaired(func(p model.Peer) {
				select {
				case paired <- p:
				default:
				}
			})()

			req, err := a.PairingRequest(ctx)
			if err != nil {
				return err
			}
			raw, err := json.Marshal(req)
			if err != nil {
				return err
			}
			fmt.Println("pairing request:")
			fmt.Println(wire.EncodeCheck(raw))

			var wallet model.Peer
			select {
			case wallet = <-paired:
			case <-ctx.Done():
				return ctx.Err()
			}
			fmt.Printf("paired with %s (%s)\n", wallet.Name, wallet.PublicKey)

			resp, err := a.Request(ctx, wallet, &model.PermissionRequest{
				AppMetadata: a.AppMetadata(),
				Network:     network,
				Scopes:      scopes,
			})
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return err
			}
			fmt.Printf("%s:\n%s\n", resp.Type(), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&network, "network", "mainnet", "network to request permissions on")
	cmd.Flags().StringSliceVar(&scopes, "scopes", []string{"operation_request", "sign"}, "requested permission scopes")
	return cmd
}
