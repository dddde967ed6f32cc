package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/pkicash/pkicashd/internal/adminproto"
	"github.com/pkicash/pkicashd/internal/protocol"
)

const adminCommandTimeout = 30 * time.Second

// serveAdmin starts the unix-socket admin control channel at
// datadir/admin.sock, the mechanism pkicash-cli uses to drive
// approve/decline/mint/pay against a running daemon. Exactly one of
// walletH/engineH/issuerH is expected to be non-nil, matching the
// process's configured role. Every command is run on act's goroutine, so
// it interleaves safely with inbound transport envelopes instead of
// racing the store.
func serveAdmin(cfg *config, act *actor, walletH *protocol.WalletHandler, engineH *protocol.EngineHandler, issuerH *protocol.IssuerHandler) (net.Listener, error) {
	sockPath := cfg.path("admin.sock")
	os.Remove(sockPath)

	ln, err := net.Listen("unix", sockPath)
	if err != nil {
		return nil, err
	}
	go acceptAdminConns(ln, act, walletH, engineH, issuerH)
	return ln, nil
}

func acceptAdminConns(ln net.Listener, act *actor, walletH *protocol.WalletHandler, engineH *protocol.EngineHandler, issuerH *protocol.IssuerHandler) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go handleAdminConn(conn, act, walletH, engineH, issuerH)
	}
}

func handleAdminConn(conn net.Conn, act *actor, walletH *protocol.WalletHandler, engineH *protocol.EngineHandler, issuerH *protocol.IssuerHandler) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		var cmd adminproto.Command
		if err := json.Unmarshal(scanner.Bytes(), &cmd); err != nil {
			enc.Encode(adminproto.Response{Error: fmt.Sprintf("malformed command: %v", err)})
			continue
		}

		respCh := make(chan adminproto.Response, 1)
		act.do(func() {
			respCh <- dispatchAdminCommand(cmd, walletH, engineH, issuerH)
		})

		select {
		case resp := <-respCh:
			enc.Encode(resp)
		case <-time.After(adminCommandTimeout):
			enc.Encode(adminproto.Response{Error: "timed out waiting for actor"})
			return
		}
	}
}

func dispatchAdminCommand(cmd adminproto.Command, walletH *protocol.WalletHandler, engineH *protocol.EngineHandler, issuerH *protocol.IssuerHandler) adminproto.Response {
	ctx := context.Background()
	switch {
	case engineH != nil:
		return dispatchEngineAdmin(ctx, cmd, engineH)
	case issuerH != nil:
		return dispatchIssuerAdmin(ctx, cmd, issuerH)
	case walletH != nil:
		return dispatchWalletAdmin(ctx, cmd, walletH)
	default:
		return adminproto.Response{Error: "no handler configured for this role"}
	}
}

func dispatchEngineAdmin(ctx context.Context, cmd adminproto.Command, h *protocol.EngineHandler) adminproto.Response {
	switch cmd.Action {
	case "list-pending":
		return adminproto.Response{OK: true, Data: h.Ledger().IncomingRequests()}
	case "approve-issuer":
		if err := h.ApproveIssuerRegistration(ctx, cmd.RequestID); err != nil {
			return adminproto.Response{Error: err.Error()}
		}
		return adminproto.Response{OK: true}
	case "decline-issuer":
		if err := h.DeclineIssuerRegistration(ctx, cmd.RequestID, cmd.Reason); err != nil {
			return adminproto.Response{Error: err.Error()}
		}
		return adminproto.Response{OK: true}
	default:
		return adminproto.Response{Error: fmt.Sprintf("unknown engine admin action %q", cmd.Action)}
	}
}

func dispatchIssuerAdmin(ctx context.Context, cmd adminproto.Command, h *protocol.IssuerHandler) adminproto.Response {
	switch cmd.Action {
	case "list-pending":
		return adminproto.Response{OK: true, Data: h.Ledger().IncomingRequests()}
	case "approve-coin":
		if err := h.ApproveCoinRequest(ctx, cmd.RequestID, cmd.ValuePerCoin, cmd.EngineDest, cmd.PKEngine); err != nil {
			return adminproto.Response{Error: err.Error()}
		}
		return adminproto.Response{OK: true}
	case "decline-coin":
		if err := h.DeclineCoinRequest(ctx, cmd.RequestID, cmd.Reason); err != nil {
			return adminproto.Response{Error: err.Error()}
		}
		return adminproto.Response{OK: true}
	default:
		return adminproto.Response{Error: fmt.Sprintf("unknown issuer admin action %q", cmd.Action)}
	}
}

func dispatchWalletAdmin(ctx context.Context, cmd adminproto.Command, h *protocol.WalletHandler) adminproto.Response {
	switch cmd.Action {
	case "list-incoming":
		return adminproto.Response{OK: true, Data: h.Ledger().IncomingRequests()}
	case "pay":
		if err := h.SendPayment(ctx, cmd.EngineDest, cmd.CoinID, cmd.PKNext, cmd.RecipientDest, cmd.Description); err != nil {
			return adminproto.Response{Error: err.Error()}
		}
		return adminproto.Response{OK: true}
	case "accept-payment":
		if err := h.AcceptPaymentRequest(ctx, cmd.RequestID, cmd.EngineDest, cmd.CoinIDs); err != nil {
			return adminproto.Response{Error: err.Error()}
		}
		return adminproto.Response{OK: true}
	case "decline-payment":
		if err := h.DeclinePaymentRequest(ctx, cmd.RequestID, cmd.Reason); err != nil {
			return adminproto.Response{Error: err.Error()}
		}
		return adminproto.Response{OK: true}
	case "request-coins":
		if err := h.RequestCoins(ctx, cmd.BankDest, cmd.Amount, cmd.PublicKeys, cmd.Description); err != nil {
			return adminproto.Response{Error: err.Error()}
		}
		return adminproto.Response{OK: true}
	case "request-payment":
		if err := h.RequestPayment(ctx, cmd.PeerDest, cmd.Address, cmd.Amount, cmd.PublicKeys, cmd.Description); err != nil {
			return adminproto.Response{Error: err.Error()}
		}
		return adminproto.Response{OK: true}
	default:
		return adminproto.Response{Error: fmt.Sprintf("unknown wallet admin action %q", cmd.Action)}
	}
}
