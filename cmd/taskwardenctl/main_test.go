package main

import (
	"bufio"
	"fmt"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRun_NoCommandIsUsageError(t *testing.T) {
	require.Equal(t, 2, run([]string{}))
}

func TestRun_SendsLineAndPrintsResponse(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "ctl.sock")
	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		scanner := bufio.NewScanner(conn)
		require.True(t, scanner.Scan())
		require.Equal(t, "pause", scanner.Text())
		fmt.Fprintln(conn, "OK")
	}()

	require.Equal(t, 0, run([]string{"--socket", sock, "pause"}))
}

func TestRun_ConnectFailureReturnsOne(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "missing.sock")
	require.Equal(t, 1, run([]string{"--socket", sock, "pause"}))
}
