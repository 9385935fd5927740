package mdns

import (
	"net"
	"testing"

	"github.com/grandcat/zeroconf"
)

func TestFromEntryCleansInstance(t *testing.T) {
	e := zeroconf.NewServiceEntry(`trxd\ on\ lime`, Service, "local.")
	e.HostName = "lime.local."
	e.Port = 30432
	e.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
	e.AddrIPv4 = []net.IP{net.ParseIP("192.168.1.20")}
	e.Text = []string{"serial=1D40F2", "channels=4"}

	h := fromEntry(e)
	if h.Instance != "trxd on lime" {
		t.Fatalf("unexpected instance %q", h.Instance)
	}
	if h.Addr() != "192.168.1.20:30432" {
		t.Fatalf("expected IPv4 address first, got %s", h.Addr())
	}
	if h.TXTValue("serial") != "1D40F2" || h.TXTValue("missing") != "" {
		t.Fatalf("unexpected TXT lookups")
	}
}

func TestHostAddrFallbacks(t *testing.T) {
	v6 := Host{Addresses: []net.IP{net.ParseIP("fe80::1")}, Port: 1}
	if v6.Addr() != "[fe80::1]:1" {
		t.Fatalf("unexpected v6 addr %s", v6.Addr())
	}
	named := Host{Hostname: "lime.local.", Port: 2}
	if named.Addr() != "lime.local:2" {
		t.Fatalf("unexpected hostname addr %s", named.Addr())
	}
}
