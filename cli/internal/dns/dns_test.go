package dns

import (
	"context"
	"net"
	"testing"
)

func TestLookupPassesIPLiterals(t *testing.T) {
	for _, ip := range []string{"127.0.0.1", "::1"} {
		got, err := Lookup(context.Background(), ip)
		if err != nil || got != ip {
			t.Fatalf("Lookup(%q) = %q, %v", ip, got, err)
		}
	}
}

func TestPreferIPv4(t *testing.T) {
	got, err := preferIPv4([]string{"2001:db8::1", "192.0.2.7"})
	if err != nil || got != "192.0.2.7" {
		t.Fatalf("got %q, %v", got, err)
	}
	if got, _ := preferIPv4([]string{"2001:db8::1"}); got != "2001:db8::1" {
		t.Fatalf("IPv6-only answer should be used, got %q", got)
	}
	if _, err := preferIPv4(nil); err == nil {
		t.Fatal("expected error for empty answer")
	}
}

func TestDialContextLoopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		if c, err := ln.Accept(); err == nil {
			c.Close()
		}
	}()

	conn, err := DialContext(context.Background(), "tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	conn.Close()
}
