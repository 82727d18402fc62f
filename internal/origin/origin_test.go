package origin

import "testing"

func TestNormalizeHeader(t *testing.T) {
	tests := []struct {
		in             string
		wantNormalized string
		wantHost       string
	}{
		{in: "HTTPS://Rooms.Example.COM", wantNormalized: "https://rooms.example.com", wantHost: "rooms.example.com"},
		{in: "https://rooms.example.com:443", wantNormalized: "https://rooms.example.com", wantHost: "rooms.example.com"},
		{in: "http://localhost:80/", wantNormalized: "http://localhost", wantHost: "localhost"},
		{in: "https://rooms.example.com:80", wantNormalized: "https://rooms.example.com:80", wantHost: "rooms.example.com:80"},
		{in: " http://localhost:5173/ ", wantNormalized: "http://localhost:5173", wantHost: "localhost:5173"},
		{in: "http://[::1]:8080", wantNormalized: "http://[::1]:8080", wantHost: "[::1]:8080"},
		{in: "http://[FE80::1]", wantNormalized: "http://[fe80::1]", wantHost: "[fe80::1]"},
		{in: "null", wantNormalized: "null", wantHost: ""},
	}
	for _, tc := range tests {
		normalized, host, ok := NormalizeHeader(tc.in)
		if !ok {
			t.Fatalf("NormalizeHeader(%q) ok=false", tc.in)
		}
		if normalized != tc.wantNormalized || host != tc.wantHost {
			t.Fatalf("NormalizeHeader(%q)=(%q,%q), want (%q,%q)", tc.in, normalized, host, tc.wantNormalized, tc.wantHost)
		}
	}
}

func TestNormalizeHeader_Rejects(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		"ftp://rooms.example.com",
		"rooms.example.com",
		"https://rooms.example.com/app",
		"https://rooms.example.com?room=lobby",
		"https://rooms.example.com#frag",
		"https://user@rooms.example.com",
		"https://rooms.example.com:0",
		"https://rooms.example.com:65536",
		"https://rooms.example.com:",
		"https://[::1",
		"https://[::1]x",
		"https://rooms.example.com,https://evil.example.com",
	} {
		if normalized, _, ok := NormalizeHeader(in); ok {
			t.Fatalf("NormalizeHeader(%q)=%q, want rejection", in, normalized)
		}
	}
}

func TestNormalizeHeader_Idempotent(t *testing.T) {
	for _, in := range []string{"HTTPS://A.example:8443/", "http://[::FFFF:192.0.2.1]", "http://010.0.0.1"} {
		first, host, ok := NormalizeHeader(in)
		if !ok {
			t.Fatalf("NormalizeHeader(%q) ok=false", in)
		}
		second, host2, ok := NormalizeHeader(first)
		if !ok || second != first || host2 != host {
			t.Fatalf("NormalizeHeader(%q)=(%q,%q,%v), want (%q,%q,true)", first, second, host2, ok, first, host)
		}
	}
}

func TestSameHost(t *testing.T) {
	tests := []struct {
		origin      string
		requestHost string
		want        bool
	}{
		{origin: "https://rooms.example.com", requestHost: "rooms.example.com", want: true},
		{origin: "https://rooms.example.com", requestHost: "ROOMS.example.com:443", want: true},
		{origin: "http://rooms.example.com", requestHost: "rooms.example.com:80", want: true},
		{origin: "http://localhost:5173", requestHost: "localhost:8080", want: false},
		{origin: "https://rooms.example.com", requestHost: "evil.example.com", want: false},
		{origin: "https://rooms.example.com", requestHost: "", want: false},
		{origin: "null", requestHost: "rooms.example.com", want: false},
	}
	for _, tc := range tests {
		normalized, host, ok := NormalizeHeader(tc.origin)
		if !ok {
			t.Fatalf("NormalizeHeader(%q) ok=false", tc.origin)
		}
		if got := sameHost(normalized, host, tc.requestHost); got != tc.want {
			t.Fatalf("sameHost(%q, %q)=%v, want %v", tc.origin, tc.requestHost, got, tc.want)
		}
	}
}
