package anqp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// ErrFormat reports a malformed ANQP element.
var ErrFormat = errors.New("malformed ANQP element")

// NAI Realm encoding flag, bit 0: 0 = RFC 4282, 1 = UTF-8.
const realmEncodingUTF8 = 0x01

// A realm data record carries at minimum a 2-byte length, the encoding
// byte, the realm-string length byte, and the EAP method count byte.
const minRealmRecord = 5

// RealmData is one NAI Realm Data record: a set of realm names and the
// EAP methods advertised for them.
type RealmData struct {
	UTF8    bool
	Realms  []string
	Methods []EAPMethod
}

// ContainsRealm reports whether the record names the realm,
// case-insensitively.
func (d *RealmData) ContainsRealm(realm string) bool {
	for _, r := range d.Realms {
		if strings.EqualFold(r, realm) {
			return true
		}
	}
	return false
}

// NAIRealmElement is a parsed NAI Realm List element.
type NAIRealmElement struct {
	Records []RealmData
}

// Type returns the element's info ID.
func (e *NAIRealmElement) Type() ElementType { return ElementNAIRealm }

// ParseNAIRealm parses a NAI Realm List element payload. An empty payload
// is a valid element with zero records. Truncated fields and lengths
// exceeding the buffer fail with ErrFormat; bytes past the declared record
// count are ignored.
func ParseNAIRealm(payload []byte) (*NAIRealmElement, error) {
	if len(payload) == 0 {
		return &NAIRealmElement{}, nil
	}
	if len(payload) < 2 {
		return nil, fmt.Errorf("nai realm: truncated record count: %w", ErrFormat)
	}
	count := int(binary.LittleEndian.Uint16(payload[0:2]))

	elem := &NAIRealmElement{Records: make([]RealmData, 0, count)}
	rest := payload[2:]
	for i := 0; i < count; i++ {
		rec, n, err := parseRealmData(rest)
		if err != nil {
			return nil, fmt.Errorf("nai realm record %d: %w", i, err)
		}
		elem.Records = append(elem.Records, rec)
		rest = rest[n:]
	}
	return elem, nil
}

// parseRealmData parses one realm data record and returns the number of
// bytes consumed.
func parseRealmData(b []byte) (RealmData, int, error) {
	var rec RealmData

	if len(b) < minRealmRecord {
		return rec, 0, fmt.Errorf("record shorter than %d bytes: %w", minRealmRecord, ErrFormat)
	}
	dataLen := int(binary.LittleEndian.Uint16(b[0:2]))
	body := b[2:]
	if dataLen > len(body) {
		return rec, 0, fmt.Errorf("declared length %d exceeds remaining %d bytes: %w", dataLen, len(body), ErrFormat)
	}
	// Encoding byte, realm length byte, and EAP method count byte are
	// mandatory.
	if dataLen < 3 {
		return rec, 0, fmt.Errorf("declared length %d below field minimum: %w", dataLen, ErrFormat)
	}
	body = body[:dataLen]

	rec.UTF8 = body[0]&realmEncodingUTF8 != 0
	realmLen := int(body[1])
	if 2+realmLen+1 > len(body) {
		return rec, 0, fmt.Errorf("realm string %d bytes overruns record: %w", realmLen, ErrFormat)
	}
	for _, realm := range strings.Split(string(body[2:2+realmLen]), ";") {
		if realm != "" {
			rec.Realms = append(rec.Realms, realm)
		}
	}

	methodCount := int(body[2+realmLen])
	off := 3 + realmLen
	for m := 0; m < methodCount; m++ {
		method, n, err := parseEAPMethod(body[off:])
		if err != nil {
			return rec, 0, fmt.Errorf("eap method %d: %w", m, err)
		}
		rec.Methods = append(rec.Methods, method)
		off += n
	}

	return rec, 2 + dataLen, nil
}

// parseEAPMethod parses one EAP method subfield and returns the number of
// bytes consumed.
func parseEAPMethod(b []byte) (EAPMethod, int, error) {
	var method EAPMethod

	if len(b) < 1 {
		return method, 0, fmt.Errorf("truncated length byte: %w", ErrFormat)
	}
	mLen := int(b[0])
	if 1+mLen > len(b) {
		return method, 0, fmt.Errorf("declared length %d exceeds remaining %d bytes: %w", mLen, len(b)-1, ErrFormat)
	}
	// Method ID byte and auth parameter count byte are mandatory.
	if mLen < 2 {
		return method, 0, fmt.Errorf("declared length %d below field minimum: %w", mLen, ErrFormat)
	}
	body := b[1 : 1+mLen]

	method.Method = body[0]
	paramCount := int(body[1])
	p := 2
	for i := 0; i < paramCount; i++ {
		if p+2 > len(body) {
			return method, 0, fmt.Errorf("auth param %d: truncated header: %w", i, ErrFormat)
		}
		id := body[p]
		pLen := int(body[p+1])
		if p+2+pLen > len(body) {
			return method, 0, fmt.Errorf("auth param %d: value overruns method: %w", i, ErrFormat)
		}
		value := append([]byte(nil), body[p+2:p+2+pLen]...)
		method.Params = append(method.Params, AuthParam{ID: id, Value: value})
		p += 2 + pLen
	}

	return method, 1 + mLen, nil
}
