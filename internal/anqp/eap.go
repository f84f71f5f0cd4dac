package anqp

import "bytes"

// EAP method identifiers (IANA) seen in Hotspot 2.0 realm lists.
const (
	EAPMethodTLS      uint8 = 13
	EAPMethodSIM      uint8 = 18
	EAPMethodTTLS     uint8 = 21
	EAPMethodAKA      uint8 = 23
	EAPMethodAKAPrime uint8 = 50
)

// Authentication parameter IDs (IEEE 802.11-2016 Table 9-275).
const (
	AuthParamExpandedEAP        uint8 = 1
	AuthParamNonEAPInner        uint8 = 2
	AuthParamInnerAuthEAP       uint8 = 3
	AuthParamExpandedInnerEAP   uint8 = 4
	AuthParamCredentialType     uint8 = 5
	AuthParamTunneledCredential uint8 = 6
	AuthParamVendorSpecific     uint8 = 221
)

// AuthParam is one authentication parameter inside an EAP method subfield.
type AuthParam struct {
	ID    uint8
	Value []byte
}

// EAPMethod is one EAP method advertised for a realm, or a reference
// method describing a credential to match against.
type EAPMethod struct {
	Method uint8
	Params []AuthParam
}

// MatchRank orders credential match quality against a realm record.
type MatchRank int

const (
	// MatchNone: nothing usable matched.
	MatchNone MatchRank = iota
	// MatchRealm: the realm matched but no advertised method did.
	MatchRealm
	// MatchMethod: a method ID matched but its parameters did not.
	MatchMethod
	// MatchExact: method and all reference parameters matched.
	MatchExact
)

// String returns the rank name.
func (r MatchRank) String() string {
	switch r {
	case MatchRealm:
		return "realm"
	case MatchMethod:
		return "method"
	case MatchExact:
		return "exact"
	default:
		return "none"
	}
}

// match ranks this advertised method against a reference credential.
func (m *EAPMethod) match(ref EAPMethod) MatchRank {
	if m.Method != ref.Method {
		return MatchNone
	}
	for _, want := range ref.Params {
		if !m.hasParam(want) {
			return MatchMethod
		}
	}
	return MatchExact
}

func (m *EAPMethod) hasParam(want AuthParam) bool {
	for _, p := range m.Params {
		if p.ID == want.ID && bytes.Equal(p.Value, want.Value) {
			return true
		}
	}
	return false
}

// MatchEAPMethods returns the best rank of the reference method across the
// record's advertised methods. A record advertising no methods at all
// matches at realm rank. Short-circuits on an exact match.
func (d *RealmData) MatchEAPMethods(ref EAPMethod) MatchRank {
	if len(d.Methods) == 0 {
		return MatchRealm
	}
	best := MatchNone
	for i := range d.Methods {
		if r := d.Methods[i].match(ref); r > best {
			best = r
			if best == MatchExact {
				break
			}
		}
	}
	return best
}

// Match ranks a credential (realm + reference method) against the element:
// records that do not name the realm are skipped, and the best method rank
// over the remaining records wins.
func (e *NAIRealmElement) Match(realm string, ref EAPMethod) MatchRank {
	best := MatchNone
	for i := range e.Records {
		if !e.Records[i].ContainsRealm(realm) {
			continue
		}
		if r := e.Records[i].MatchEAPMethods(ref); r > best {
			best = r
			if best == MatchExact {
				break
			}
		}
	}
	return best
}
