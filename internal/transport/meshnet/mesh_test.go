package meshnet_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/pkicash/pkicashd/internal/transport"
	"github.com/pkicash/pkicashd/internal/transport/meshnet"
	"github.com/stretchr/testify/require"
)

type greeting struct {
	Message string `json:"message"`
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestMeshSendRoundTrip(t *testing.T) {
	aliceAddr := freeAddr(t)
	bobAddr := freeAddr(t)

	alice := meshnet.New("alice-hash", aliceAddr, nil)
	defer alice.Close()
	bob := meshnet.New("bob-hash", bobAddr, nil)
	defer bob.Close()

	// Give the listeners a moment to come up.
	time.Sleep(50 * time.Millisecond)

	alice.AddPeerAddr("bob-hash", fmt.Sprintf("ws://%s/mesh", bobAddr))

	received := make(chan transport.Envelope, 1)
	bob.OnMessage(func(e transport.Envelope) { received <- e })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, alice.Send(ctx, "bob-hash", "wallet", "greet", greeting{Message: "hi"}))

	select {
	case env := <-received:
		require.Equal(t, "greet", env.Type)
		require.Equal(t, "alice-hash", env.FromHash)
		var g greeting
		require.NoError(t, env.Decode(&g))
		require.Equal(t, "hi", g.Message)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestMeshSendToUnknownDestFails(t *testing.T) {
	alice := meshnet.New("alice-hash", "", nil)
	defer alice.Close()

	err := alice.Send(context.Background(), "nobody", "wallet", "greet", greeting{Message: "hi"})
	require.ErrorIs(t, err, transport.ErrNoPath)
}
