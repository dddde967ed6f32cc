package protocol_test

import (
	"testing"
	"time"

	"github.com/pkicash/pkicashd/internal/approval"
	"github.com/pkicash/pkicashd/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestLedgerApproveWithTokenStampsAndVerifies(t *testing.T) {
	authority, err := approval.NewAuthority()
	require.NoError(t, err)

	l := protocol.NewLedger(authority)
	req := l.AddIncoming("coin_request", "bank-dest", protocol.RoleIssuer, nil, time.Now())

	token, err := l.ApproveWithToken(req.ID, "approve_coin_request", protocol.DefaultApprovalTTL, time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, token)

	got := l.IncomingRequests()[0]
	require.Equal(t, protocol.StatusApproved, got.Status)
	require.Equal(t, token, got.ApprovalToken)
}

func TestLedgerApproveWithTokenRequiresAuthority(t *testing.T) {
	l := protocol.NewLedger(nil)
	req := l.AddIncoming("coin_request", "bank-dest", protocol.RoleIssuer, nil, time.Now())

	_, err := l.ApproveWithToken(req.ID, "approve_coin_request", protocol.DefaultApprovalTTL, time.Now())
	require.Error(t, err)
}

func TestLedgerApproveWithTokenIsMonotonic(t *testing.T) {
	authority, err := approval.NewAuthority()
	require.NoError(t, err)

	l := protocol.NewLedger(authority)
	req := l.AddIncoming("coin_request", "bank-dest", protocol.RoleIssuer, nil, time.Now())

	_, err = l.ApproveWithToken(req.ID, "approve_coin_request", protocol.DefaultApprovalTTL, time.Now())
	require.NoError(t, err)

	_, err = l.ApproveWithToken(req.ID, "approve_coin_request", protocol.DefaultApprovalTTL, time.Now())
	require.Error(t, err)
}

func TestLedgerApproveWithTokenUnknownRequest(t *testing.T) {
	authority, err := approval.NewAuthority()
	require.NoError(t, err)

	l := protocol.NewLedger(authority)
	_, err = l.ApproveWithToken(999, "approve_coin_request", protocol.DefaultApprovalTTL, time.Now())
	require.Error(t, err)
}
