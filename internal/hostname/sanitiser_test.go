package hostname

import (
	"net"
	"testing"
)

func mustMAC(s string) net.HardwareAddr {
	m, err := net.ParseMAC(s)
	if err != nil {
		panic(err)
	}
	return m
}

func TestSanitise(t *testing.T) {
	mac := mustMAC("aa:bb:cc:dd:ee:ff")

	tests := []struct {
		name     string
		in       string
		want     string
		modified bool
	}{
		{"clean", "workstation-42", "workstation-42", false},
		{"uppercase", "MyHost", "myhost", true},
		{"spaces", "my host", "myhost", true},
		{"special chars", "my@host!name", "myhostname", true},
		{"leading dots", "..myhost", "myhost", true},
		{"trailing hyphens", "myhost--", "myhost", true},
		{"repeated separators", "a..b--c", "a.b-c", true},
		{"unicode stripped", "hôst-nàme", "hst-nme", true},
		{"empty input", "", "dhcp-aabbccddeeff", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, modified := Sanitise(tt.in, mac)
			if got != tt.want {
				t.Errorf("Sanitise(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if modified != tt.modified {
				t.Errorf("Sanitise(%q) modified = %v, want %v", tt.in, modified, tt.modified)
			}
		})
	}
}

func TestSanitiseBuiltinDeny(t *testing.T) {
	mac := mustMAC("aa:bb:cc:dd:ee:ff")

	denied := []string{
		"localhost", "LOCALHOST", "localhost.localdomain",
		"unknown", "none", "null", "test", "default", "changeme",
		"iphone", "ipad", "host", "dhcp",
	}
	for _, h := range denied {
		got, modified := Sanitise(h, mac)
		if got != "dhcp-aabbccddeeff" {
			t.Errorf("Sanitise(%q) = %q, want MAC fallback dhcp-aabbccddeeff", h, got)
		}
		if !modified {
			t.Errorf("Sanitise(%q) modified = false, want true", h)
		}
	}
}

func TestSanitiseAndroidPattern(t *testing.T) {
	got, _ := Sanitise("android-abcdef123456", mustMAC("11:22:33:44:55:66"))
	if got != "dhcp-112233445566" {
		t.Errorf("Sanitise(android pattern) = %q, want MAC fallback", got)
	}
}

func TestSanitiseEmoji(t *testing.T) {
	got, _ := Sanitise("my🔥host💻", mustMAC("aa:bb:cc:dd:ee:ff"))
	if got != "myhost" {
		t.Errorf("emoji strip = %q, want myhost", got)
	}
}

func TestSanitiseMaxLength(t *testing.T) {
	long := ""
	for i := 0; i < 10; i++ {
		long += "abcdefgh-"
	}
	got, _ := Sanitise(long, mustMAC("aa:bb:cc:dd:ee:ff"))
	if len(got) > 63 {
		t.Errorf("length %d exceeds DNS label limit 63: %q", len(got), got)
	}
	if got[len(got)-1] == '-' || got[len(got)-1] == '.' {
		t.Errorf("truncated hostname ends with separator: %q", got)
	}
}

func TestSanitiseControlChars(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"hello\x00world", "helloworld"},
		{"tab\there", "tabhere"},
		{"ok\x7fno", "okno"},
	}
	for _, tt := range tests {
		got, _ := Sanitise(tt.in, mustMAC("aa:bb:cc:dd:ee:ff"))
		if got != tt.want {
			t.Errorf("Sanitise(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitiseInjection(t *testing.T) {
	got, _ := Sanitise("'; DROP TABLE leases;--", mustMAC("aa:bb:cc:dd:ee:ff"))
	for _, c := range got {
		if !((c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '-' || c == '.') {
			t.Errorf("invalid char %q in sanitised result %q", string(c), got)
		}
	}
}

func TestFallback(t *testing.T) {
	if got := Fallback(mustMAC("aa:bb:cc:dd:ee:ff")); got != "dhcp-aabbccddeeff" {
		t.Errorf("Fallback = %q, want dhcp-aabbccddeeff", got)
	}
	if got := Fallback(nil); got != "dhcp-unknown" {
		t.Errorf("Fallback(nil) = %q, want dhcp-unknown", got)
	}
}
