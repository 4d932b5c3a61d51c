package kshim

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/snu-csl/go-bius/internal/request"
	"github.com/snu-csl/go-bius/internal/status"
	"github.com/snu-csl/go-bius/internal/wire"
)

func TestConnectionTrackAndResolve(t *testing.T) {
	conn := NewConnection(1)
	req := newTestBlockRequest()

	conn.Track(req)
	got, ok := conn.Resolve(req.ID)
	require.True(t, ok)
	require.Same(t, req, got)

	_, ok = conn.Resolve(req.ID)
	require.False(t, ok)
}

func TestConnectionReleaseFailsWaitingRequests(t *testing.T) {
	conn := NewConnection(1)
	var result status.BlockStatus
	req := request.NewBlockRequest(wire.Read, 0, 4096, nil, false, func(r *request.Request) {
		result = r.BlockResult
	})
	conn.Track(req)

	conn.Release()

	require.Equal(t, status.IoError, result)
	require.True(t, conn.Released())
}

func TestConnectionBindOnlyOnce(t *testing.T) {
	conn := NewConnection(1)
	win, err := NewWindow(4)
	require.NoError(t, err)
	defer win.Close()

	conn.Bind(win)
	require.Same(t, win, conn.Window())
	require.Panics(t, func() { conn.Bind(win) })
}

func TestConnectionInlineSendSlotIsExclusive(t *testing.T) {
	conn := NewConnection(1)
	req1 := newTestBlockRequest()
	req2 := newTestBlockRequest()

	require.NoError(t, conn.BeginSend(req1))
	require.Error(t, conn.BeginSend(req2))

	conn.EndSend()
	require.NoError(t, conn.BeginSend(req2))
}

func TestConnectionInlineReceiveSlotIsExclusive(t *testing.T) {
	conn := NewConnection(1)
	req1 := newTestBlockRequest()
	req2 := newTestBlockRequest()

	require.NoError(t, conn.BeginReceive(req1))
	require.Error(t, conn.BeginReceive(req2))

	conn.EndReceive()
	require.NoError(t, conn.BeginReceive(req2))
}

func TestConnectionReleaseClearsInlineSlots(t *testing.T) {
	conn := NewConnection(1)
	req := newTestBlockRequest()
	require.NoError(t, conn.BeginSend(req))

	conn.Release()

	require.NoError(t, conn.BeginSend(newTestBlockRequest()))
}
