// Package approval gates operator-facing administrative actions —
// approving a pending register_issuer or coin_request — behind bearer
// tokens, the way a macaroon-guarded RPC
// admin surface does. A request's protocol.Ledger entry says an action is
// *possible*; a valid macaroon says the bearer is *authorised* to take it.
// This is a supplemented feature: the distilled protocol names the
// pending/approved/declined transitions but not how an operator UI proves
// it may trigger one.
package approval

import (
	"crypto/rand"
	"fmt"
	"time"

	"gopkg.in/macaroon.v2"
)

// caveat condition prefixes. A macaroon's first-party caveats are plain
// strings of the form "key=value"; Verify checks each against the
// expected request being authorised.
const (
	condRequestID  = "request-id="
	condAction     = "action="
	condValidUntil = "valid-until="
)

// Authority mints and verifies approval macaroons for one actor process
// (an engine or a bank daemon). rootKey never leaves the process; it is
// generated fresh at startup and is not persisted, so a restart
// invalidates every token issued before it — acceptable, since pending
// requests have no deadline and an operator simply re-approves.
type Authority struct {
	rootKey []byte
}

// NewAuthority generates a fresh random root key.
func NewAuthority() (*Authority, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("approval: generate root key: %w", err)
	}
	return &Authority{rootKey: key}, nil
}

// Mint issues a macaroon authorising action (e.g. "approve", "decline")
// on requestID, valid until now+ttl.
func (a *Authority) Mint(requestID int64, action string, ttl time.Duration, now time.Time) (*macaroon.Macaroon, error) {
	id := make([]byte, 16)
	if _, err := rand.Read(id); err != nil {
		return nil, fmt.Errorf("approval: generate macaroon id: %w", err)
	}

	m, err := macaroon.New(a.rootKey, id, "pkicashd", macaroon.LatestVersion)
	if err != nil {
		return nil, fmt.Errorf("approval: mint: %w", err)
	}

	caveats := []string{
		fmt.Sprintf("%s%d", condRequestID, requestID),
		condAction + action,
		fmt.Sprintf("%s%s", condValidUntil, now.Add(ttl).UTC().Format(time.RFC3339)),
	}
	for _, c := range caveats {
		if err := m.AddFirstPartyCaveat([]byte(c)); err != nil {
			return nil, fmt.Errorf("approval: add caveat: %w", err)
		}
	}
	return m, nil
}

// Verify checks that m authorises action on requestID as of now. It
// returns nil only if every caveat the macaroon carries is satisfied and
// matches the expected request and action exactly — an operator token
// minted for one request can never be replayed against another.
func (a *Authority) Verify(m *macaroon.Macaroon, requestID int64, action string, now time.Time) error {
	wantRequestID := fmt.Sprintf("%s%d", condRequestID, requestID)
	wantAction := condAction + action
	sawRequestID := false
	sawAction := false

	check := func(caveat string) error {
		switch {
		case len(caveat) > len(condValidUntil) && caveat[:len(condValidUntil)] == condValidUntil:
			deadline, err := time.Parse(time.RFC3339, caveat[len(condValidUntil):])
			if err != nil {
				return fmt.Errorf("approval: malformed valid-until caveat: %w", err)
			}
			if now.After(deadline) {
				return fmt.Errorf("approval: token expired at %s", deadline)
			}
			return nil
		case caveat == wantRequestID:
			sawRequestID = true
			return nil
		case caveat == wantAction:
			sawAction = true
			return nil
		default:
			return fmt.Errorf("approval: unrecognised or mismatched caveat %q", caveat)
		}
	}

	if err := m.Verify(a.rootKey, check, nil); err != nil {
		return fmt.Errorf("approval: verify: %w", err)
	}
	if !sawRequestID || !sawAction {
		return fmt.Errorf("approval: token does not authorise action %q on request %d", action, requestID)
	}
	return nil
}
