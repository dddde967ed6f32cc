package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkicash/pkicashd/internal/transport"
	"github.com/stretchr/testify/require"
)

type greeting struct {
	Message string `json:"message"`
}

func TestLoopbackSendDeliversToHandler(t *testing.T) {
	reg := transport.NewRegistry()
	alice := transport.NewLoopback(reg, "alice-hash")
	bob := transport.NewLoopback(reg, "bob-hash")

	received := make(chan transport.Envelope, 1)
	bob.OnMessage(func(e transport.Envelope) { received <- e })

	err := alice.Send(context.Background(), "bob-hash", "wallet", "greet", greeting{Message: "hi"})
	require.NoError(t, err)

	select {
	case env := <-received:
		require.Equal(t, "greet", env.Type)
		require.Equal(t, "alice-hash", env.FromHash)
		var g greeting
		require.NoError(t, env.Decode(&g))
		require.Equal(t, "hi", g.Message)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestLoopbackSendToUnknownDestFails(t *testing.T) {
	reg := transport.NewRegistry()
	alice := transport.NewLoopback(reg, "alice-hash")

	err := alice.Send(context.Background(), "nobody", "wallet", "greet", greeting{Message: "hi"})
	require.ErrorIs(t, err, transport.ErrNoPath)
}

func TestLoopbackAnnounceRecorded(t *testing.T) {
	reg := transport.NewRegistry()
	alice := transport.NewLoopback(reg, "alice-hash")

	require.NoError(t, alice.Announce(context.Background(), "alice", "wallet", "pktx"))

	ann := alice.Announcements()["alice-hash"]
	require.Equal(t, "alice", ann.Name)
	require.Equal(t, "wallet", ann.Role)
	require.Equal(t, "pktx", ann.PKTransaction)
}

func TestEnvelopeEncodeDecodeFrameRoundTrip(t *testing.T) {
	env, err := transport.NewEnvelope("greet", "alice-hash", "wallet", greeting{Message: "hi"})
	require.NoError(t, err)

	frame, err := transport.Encode(env)
	require.NoError(t, err)

	decoded, err := transport.DecodeFrame(frame)
	require.NoError(t, err)
	require.Equal(t, env.Type, decoded.Type)
	require.Equal(t, env.FromHash, decoded.FromHash)

	var g greeting
	require.NoError(t, decoded.Decode(&g))
	require.Equal(t, "hi", g.Message)
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	_, err := transport.DecodeFrame([]byte("not a zlib frame"))
	require.ErrorIs(t, err, transport.ErrMalformedEnvelope)
}
