package pipeline

import (
	"testing"
)

func newTestGateway(t *testing.T, trusted []string) *Gateway {
	t.Helper()
	g, err := NewGateway("salt", 2000, trusted)
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestClientIPSpoofingResistance(t *testing.T) {
	g := newTestGateway(t, []string{"10.0.0.1", "192.168.0.0/16"})

	tests := []struct {
		name       string
		remoteAddr string
		forwarded  string
		want       string
	}{
		{
			name:       "untrusted peer, header ignored",
			remoteAddr: "203.0.113.7:4411",
			forwarded:  "1.2.3.4",
			want:       "203.0.113.7",
		},
		{
			name:       "trusted proxy, header honoured",
			remoteAddr: "10.0.0.1:9000",
			forwarded:  "198.51.100.9",
			want:       "198.51.100.9",
		},
		{
			name:       "trusted CIDR, left-most chain entry wins",
			remoteAddr: "192.168.4.5:1234",
			forwarded:  "198.51.100.9, 10.0.0.1",
			want:       "198.51.100.9",
		},
		{
			name:       "trusted proxy, garbage header falls back to peer",
			remoteAddr: "10.0.0.1:9000",
			forwarded:  "not-an-ip, also-bad",
			want:       "10.0.0.1",
		},
		{
			name:       "no header at all",
			remoteAddr: "203.0.113.7:4411",
			forwarded:  "",
			want:       "203.0.113.7",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.ClientIP(tt.remoteAddr, tt.forwarded); got != tt.want {
				t.Errorf("ClientIP(%q, %q) = %q, want %q", tt.remoteAddr, tt.forwarded, got, tt.want)
			}
		})
	}
}

func TestNewGatewayRejectsBadProxyEntry(t *testing.T) {
	if _, err := NewGateway("salt", 2000, []string{"not-a-cidr"}); err == nil {
		t.Fatal("expected error for invalid trusted proxy entry")
	}
}

func TestHashIPStableAndSalted(t *testing.T) {
	g1 := newTestGateway(t, nil)
	g2, err := NewGateway("different-salt", 2000, nil)
	if err != nil {
		t.Fatal(err)
	}

	h := g1.HashIP("203.0.113.7")
	if h != g1.HashIP("203.0.113.7") {
		t.Error("hash is not stable")
	}
	if h == g1.HashIP("203.0.113.8") {
		t.Error("distinct addresses collide")
	}
	if h == g2.HashIP("203.0.113.7") {
		t.Error("salt does not affect the hash")
	}
	// The raw address must not be recoverable by inspection.
	if h == "203.0.113.7" || len(h) < 16 {
		t.Errorf("suspicious hash %q", h)
	}
}

func TestCheckLengthCountsRunes(t *testing.T) {
	g, err := NewGateway("salt", 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !g.CheckLength("0123456789") {
		t.Error("exactly max length should pass")
	}
	if g.CheckLength("0123456789x") {
		t.Error("over max length should fail")
	}
	// Multibyte runes count as characters, not bytes.
	if !g.CheckLength("ääääääääää") {
		t.Error("10 multibyte runes should pass a 10-char limit")
	}
}
