package testutil

import (
	"net"
	"testing"
	"time"
)

// TCPPair returns the two ends of a loopback TCP connection.
// Both ends are closed on test cleanup.
func TCPPair(t *testing.T) (server, client net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err = net.DialTimeout("tcp", ln.Addr().String(), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}

	select {
	case server = <-accepted:
		if server == nil {
			t.Fatal("accept failed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("accept timeout")
	}

	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return server, client
}

// Eventually polls cond every 10ms until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-deadline:
			t.Fatalf("condition not met: %s", msg)
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
}
