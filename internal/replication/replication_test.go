package replication

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"redislite/internal/rdb"
	"redislite/internal/resp"
)

func TestReplIDIsFortyHexChars(t *testing.T) {
	id := generateReplID()
	require.Len(t, id, 40)
	for _, c := range id {
		require.True(t, (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f'))
	}
}

func TestRoleString(t *testing.T) {
	require.Equal(t, "master", RoleLeader.String())
	require.Equal(t, "slave", RoleFollower.String())
}

// TestFullResyncAndPropagation spins up a leader Manager and a follower
// Manager connected over real loopback TCP, drives a PSYNC handshake, and
// confirms a propagated SET round-trips into the follower's executor.
func TestFullResyncAndPropagation(t *testing.T) {
	leader := NewManager(RoleLeader)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	serverErrCh := make(chan error, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			serverErrCh <- err
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		w := bufio.NewWriter(conn)

		// Drain the handshake preamble (PING, REPLCONF x2) with +OK/+PONG,
		// then hand off to HandlePSYNC for the PSYNC request itself.
		framer := resp.NewFramer(r)
		for i := 0; i < 3; i++ {
			v, _, err := framer.Next()
			if err != nil {
				serverErrCh <- err
				return
			}
			cmd, err := resp.CommandFromValue(v)
			if err != nil {
				serverErrCh <- err
				return
			}
			reply := "+OK\r\n"
			if cmd.Name == "PING" {
				reply = "+PONG\r\n"
			}
			if _, err := w.WriteString(reply); err != nil {
				serverErrCh <- err
				return
			}
			w.Flush()
		}

		// The fourth frame is the PSYNC request itself. The framer may
		// hold bytes read past it, but the follower sends nothing more
		// until it has the RDB payload, so handing r to HandlePSYNC
		// loses nothing.
		v, _, err := framer.Next()
		if err != nil {
			serverErrCh <- err
			return
		}
		if _, err := resp.CommandFromValue(v); err != nil {
			serverErrCh <- err
			return
		}

		serverErrCh <- leader.HandlePSYNC(conn, w, r)
	}()

	var gotEntries []rdb.Entry
	var applied []*resp.Command
	follower := NewManager(RoleFollower)
	follower.SetExecutor(func(cmd *resp.Command) error {
		applied = append(applied, cmd)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr := ln.Addr().(*net.TCPAddr)
	err = follower.ConnectToLeader(ctx, "127.0.0.1", addr.Port, func(entries []rdb.Entry) {
		gotEntries = entries
	})
	require.NoError(t, err)
	require.Empty(t, gotEntries)

	leader.Propagate([][]byte{[]byte("SET"), []byte("foo"), []byte("bar")})

	require.Eventually(t, func() bool {
		return len(applied) == 1
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, "SET", applied[0].Name)
	require.Equal(t, [][]byte{[]byte("foo"), []byte("bar")}, applied[0].Args)

	require.Equal(t, int64(len(resp.EncodeCommand([][]byte{[]byte("SET"), []byte("foo"), []byte("bar")}))), leader.Offset())
}

func TestWaitReturnsFollowerCountWhenNothingPropagatedYet(t *testing.T) {
	leader := NewManager(RoleLeader)
	require.Equal(t, 0, leader.Wait(0, 100))
}

func TestWaitOnNonLeaderIsNoop(t *testing.T) {
	follower := NewManager(RoleFollower)
	require.Equal(t, 0, follower.Wait(1, 50))
}
