package anqp

import "fmt"

// ElementType is an ANQP info ID (IEEE 802.11-2016 Table 9-271).
type ElementType uint16

const (
	ElementQueryList          ElementType = 256
	ElementCapabilityList     ElementType = 257
	ElementVenueName          ElementType = 258
	ElementEmergencyCallNum   ElementType = 259
	ElementNetworkAuthType    ElementType = 260
	ElementRoamingConsortium  ElementType = 261
	ElementIPAddrAvailability ElementType = 262
	ElementNAIRealm           ElementType = 263
	Element3GPPNetwork        ElementType = 264
	ElementDomainName         ElementType = 268
)

// String returns a human-readable element type name.
func (t ElementType) String() string {
	switch t {
	case ElementQueryList:
		return "QueryList"
	case ElementCapabilityList:
		return "CapabilityList"
	case ElementVenueName:
		return "VenueName"
	case ElementEmergencyCallNum:
		return "EmergencyCallNumber"
	case ElementNetworkAuthType:
		return "NetworkAuthType"
	case ElementRoamingConsortium:
		return "RoamingConsortium"
	case ElementIPAddrAvailability:
		return "IPAddrTypeAvailability"
	case ElementNAIRealm:
		return "NAIRealm"
	case Element3GPPNetwork:
		return "3GPPCellularNetwork"
	case ElementDomainName:
		return "DomainName"
	default:
		return fmt.Sprintf("Element(%d)", uint16(t))
	}
}

// Element is a parsed ANQP element.
type Element interface {
	Type() ElementType
}

// RawElement holds an element this package does not parse further.
type RawElement struct {
	ID      ElementType
	Payload []byte
}

// Type returns the element's info ID.
func (e *RawElement) Type() ElementType { return e.ID }

// ParseElement parses a single ANQP element payload. Types without a
// dedicated parser are preserved as RawElement.
func ParseElement(id ElementType, payload []byte) (Element, error) {
	switch id {
	case ElementNAIRealm:
		return ParseNAIRealm(payload)
	default:
		raw := append([]byte(nil), payload...)
		return &RawElement{ID: id, Payload: raw}, nil
	}
}

// Network identifies a candidate network for cache keying. HESSID zero
// means unset; DomainID zero means the AP advertised no Hotspot 2.0
// domain.
type Network struct {
	SSID        string
	BSSID       string
	HESSID      uint64
	DomainID    int
	StandardESS bool
}

type keyKind uint8

const (
	keyAP keyKind = iota
	keyHESSID
	keySSID
)

// NetworkKey is the comparable cache key for a network. Two networks map
// to the same entry exactly when their keys are equal.
type NetworkKey struct {
	kind   keyKind
	ssid   string
	bssid  string
	hessid uint64
}

// Key derives the cache key for the network.
//
// Precedence: a zero domain ID, or an unset HESSID without standard-ESS
// mode, keys strictly per AP as (SSID, BSSID). A set HESSID with a
// positive domain ID keys the whole homogeneous ESS by HESSID. Anything
// else keys the ESS by SSID alone.
func (n Network) Key() NetworkKey {
	switch {
	case n.DomainID == 0 || (n.HESSID == 0 && !n.StandardESS):
		return NetworkKey{kind: keyAP, ssid: n.SSID, bssid: n.BSSID}
	case n.HESSID != 0 && n.DomainID > 0:
		return NetworkKey{kind: keyHESSID, hessid: n.HESSID}
	default:
		return NetworkKey{kind: keySSID, ssid: n.SSID}
	}
}

// String renders the key for logs.
func (k NetworkKey) String() string {
	switch k.kind {
	case keyHESSID:
		return fmt.Sprintf("hessid:%012x", k.hessid)
	case keySSID:
		return "ess:" + k.ssid
	default:
		return "ap:" + k.ssid + "/" + k.bssid
	}
}
