package commands

import (
	"beacon_p2p/internal/model"
	"beacon_p2p/internal/protocol/wire"
	"beacon_p2p/internal/service/app"
	"beacon_p2p/internal/utils/log"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// wallet [pairing-request]: pair with a dApp if a request is given, then
// answer incoming requests until interrupted.
func walletCmd() *cobra.Command {
	var (
		publicKey string
		address   string
		grant     bool
	)
	cmd := &cobra.Command{
		Use:   "wallet [pairing-request]",
		Short: "Pair with a dApp and answer its requests",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			defer a.OnRequest(func(r model.Request) {
				go answer(ctx, a, r, grant, publicKey, address)
			})()

			if err := a.Start(ctx); err != nil {
				return err
			}

			if len(args) == 1 {
				raw, err := wire.DecodeCheck(args[0])
				if err != nil {
					return fmt.Errorf("decode pairing request: %w", err)
				}
				var req model.PairingRequest
				if err := json.Unmarshal(raw, &req); err != nil {
					return fmt.Errorf("decode pairing request: %w", err)
				}
				if err := a.PairWith(ctx, req); err != nil {
					return err
				}
				fmt.Printf("paired with %s\n", req.Name)
			}

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&publicKey, "public-key", "", "account public key to grant")
	cmd.Flags().StringVar(&address, "address", "", "account address to grant")
	cmd.Flags().BoolVar(&grant, "grant", false, "grant permission requests instead of rejecting them")
	return cmd
}

func answer(ctx context.Context, a *app.App, r model.Request, grant bool, publicKey, address string) {
	id := r.MessageHeader().ID
	fmt.Printf("%s %s from %s\n", r.Type(), id, r.MessageHeader().SenderID)

	if err := a.Respond(ctx, &model.Acknowledge{Header: model.Header{ID: id}}); err != nil {
		log.Error("acknowledge failed", zap.String("id", id), zap.Error(err))
		return
	}

	var resp model.Response
	switch req := r.(type) {
	case *model.PermissionRequest:
		if grant {
			resp = &model.PermissionResponse{
				Header:    model.Header{ID: id},
				PublicKey: publicKey,
				Address:   address,
				Network:   req.Network,
				Scopes:    req.Scopes,
			}
			break
		}
		resp = &model.ErrorResponse{Header: model.Header{ID: id}, ErrorType: "NOT_GRANTED_ERROR"}
	default:
		resp = &model.ErrorResponse{Header: model.Header{ID: id}, ErrorType: "ABORTED_ERROR", Description: "request type not supported by this wallet"}
	}
	if err := a.Respond(ctx, resp); err != nil {
		log.Error("respond failed", zap.String("id", id), zap.Error(err))
	}
}
