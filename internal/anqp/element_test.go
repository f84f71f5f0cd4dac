package anqp

import (
	"bytes"
	"testing"
)

func TestNetworkKeyPrecedence(t *testing.T) {
	tests := []struct {
		name string
		a, b Network
		same bool
	}{
		{
			"hessid keying groups APs of one homogeneous ESS",
			Network{SSID: "corp", BSSID: "aa:bb:cc:00:00:01", HESSID: 0x1, DomainID: 5},
			Network{SSID: "corp", BSSID: "aa:bb:cc:00:00:02", HESSID: 0x1, DomainID: 5},
			true,
		},
		{
			"zero domain keys per AP even with matching SSID",
			Network{SSID: "corp", BSSID: "aa:bb:cc:00:00:01", DomainID: 0},
			Network{SSID: "corp", BSSID: "aa:bb:cc:00:00:02", DomainID: 0},
			false,
		},
		{
			"zero domain overrides a set HESSID",
			Network{SSID: "corp", BSSID: "aa:bb:cc:00:00:01", HESSID: 0x1, DomainID: 0},
			Network{SSID: "corp", BSSID: "aa:bb:cc:00:00:02", HESSID: 0x1, DomainID: 0},
			false,
		},
		{
			"standard ESS mode keys by SSID without HESSID",
			Network{SSID: "corp", BSSID: "aa:bb:cc:00:00:01", DomainID: 5, StandardESS: true},
			Network{SSID: "corp", BSSID: "aa:bb:cc:00:00:02", DomainID: 5, StandardESS: true},
			true,
		},
		{
			"without standard ESS mode an unset HESSID keys per AP",
			Network{SSID: "corp", BSSID: "aa:bb:cc:00:00:01", DomainID: 5},
			Network{SSID: "corp", BSSID: "aa:bb:cc:00:00:02", DomainID: 5},
			false,
		},
		{
			"same AP always maps to the same key",
			Network{SSID: "corp", BSSID: "aa:bb:cc:00:00:01", DomainID: 0},
			Network{SSID: "corp", BSSID: "aa:bb:cc:00:00:01", DomainID: 0},
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ka, kb := tt.a.Key(), tt.b.Key()
			if (ka == kb) != tt.same {
				t.Errorf("keys %v and %v: equal = %v, want %v", ka, kb, ka == kb, tt.same)
			}
		})
	}
}

func TestNetworkKeyKinds(t *testing.T) {
	hessid := Network{SSID: "corp", BSSID: "aa:bb:cc:00:00:01", HESSID: 0x1, DomainID: 5}
	perAP := Network{SSID: "corp", BSSID: "aa:bb:cc:00:00:01", DomainID: 0}
	ess := Network{SSID: "corp", DomainID: 5, StandardESS: true}

	if k := hessid.Key(); k.kind != keyHESSID {
		t.Errorf("hessid network key kind = %v, want %v", k.kind, keyHESSID)
	}
	if k := perAP.Key(); k.kind != keyAP {
		t.Errorf("zero-domain network key kind = %v, want %v", k.kind, keyAP)
	}
	if k := ess.Key(); k.kind != keySSID {
		t.Errorf("standard-ESS network key kind = %v, want %v", k.kind, keySSID)
	}
}

func TestParseElementDispatch(t *testing.T) {
	elem, err := ParseElement(ElementNAIRealm, buildRealmPayload(buildRealmRecord("example.com")))
	if err != nil {
		t.Fatalf("ParseElement(NAIRealm) error: %v", err)
	}
	realm, ok := elem.(*NAIRealmElement)
	if !ok {
		t.Fatalf("ParseElement(NAIRealm) type = %T, want *NAIRealmElement", elem)
	}
	if len(realm.Records) != 1 {
		t.Errorf("records = %d, want 1", len(realm.Records))
	}
}

func TestParseElementUnknownKeptRaw(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}
	elem, err := ParseElement(ElementVenueName, payload)
	if err != nil {
		t.Fatalf("ParseElement error: %v", err)
	}
	raw, ok := elem.(*RawElement)
	if !ok {
		t.Fatalf("type = %T, want *RawElement", elem)
	}
	if raw.Type() != ElementVenueName {
		t.Errorf("type = %v, want %v", raw.Type(), ElementVenueName)
	}
	if !bytes.Equal(raw.Payload, payload) {
		t.Errorf("payload = %v, want %v", raw.Payload, payload)
	}

	// The raw element owns its bytes.
	payload[0] = 0xff
	if raw.Payload[0] == 0xff {
		t.Error("raw element aliases caller's buffer")
	}
}

func TestElementTypeString(t *testing.T) {
	if got := ElementNAIRealm.String(); got != "NAIRealm" {
		t.Errorf("ElementNAIRealm.String() = %q, want NAIRealm", got)
	}
	if got := ElementType(999).String(); got != "Element(999)" {
		t.Errorf("unknown element String() = %q, want Element(999)", got)
	}
}
