// Package attrs decodes RADIUS attributes into a closed set of typed values.
//
// Attributes the package does not model, or modelled attributes whose
// payload fails to decode, are kept as Unknown so nothing a NAS sends is
// dropped on the floor.
package attrs

import (
	"errors"
	"net"

	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"
	"layeh.com/radius/rfc2869"
)

// Attribute is one decoded attribute. The concrete types below are the only
// implementations.
type Attribute interface {
	Type() radius.Type
	sealed()
}

type (
	UserName         string
	UserPassword     string
	NASIdentifier    string
	CallingStationID string
	AcctSessionID    string
	NASIPAddress     net.IP
	FramedIPAddress  net.IP
	AcctStatusType   rfc2866.AcctStatusType
	AcctSessionTime  uint32

	AcctInputOctets     uint32
	AcctOutputOctets    uint32
	AcctInputGigawords  uint32
	AcctOutputGigawords uint32
)

// VendorSpecific is a Vendor-Specific attribute split into vendor id and the
// vendor's own sub-attribute bytes.
type VendorSpecific struct {
	VendorID uint32
	Value    []byte
}

// Unknown preserves an attribute verbatim.
type Unknown struct {
	Code radius.Type
	Raw  []byte
}

func (UserName) Type() radius.Type            { return rfc2865.UserName_Type }
func (UserPassword) Type() radius.Type        { return rfc2865.UserPassword_Type }
func (NASIdentifier) Type() radius.Type       { return rfc2865.NASIdentifier_Type }
func (CallingStationID) Type() radius.Type    { return rfc2865.CallingStationID_Type }
func (AcctSessionID) Type() radius.Type       { return rfc2866.AcctSessionID_Type }
func (NASIPAddress) Type() radius.Type        { return rfc2865.NASIPAddress_Type }
func (FramedIPAddress) Type() radius.Type     { return rfc2865.FramedIPAddress_Type }
func (AcctStatusType) Type() radius.Type      { return rfc2866.AcctStatusType_Type }
func (AcctSessionTime) Type() radius.Type     { return rfc2866.AcctSessionTime_Type }
func (AcctInputOctets) Type() radius.Type     { return rfc2866.AcctInputOctets_Type }
func (AcctOutputOctets) Type() radius.Type    { return rfc2866.AcctOutputOctets_Type }
func (AcctInputGigawords) Type() radius.Type  { return rfc2869.AcctInputGigawords_Type }
func (AcctOutputGigawords) Type() radius.Type { return rfc2869.AcctOutputGigawords_Type }
func (VendorSpecific) Type() radius.Type      { return rfc2865.VendorSpecific_Type }
func (u Unknown) Type() radius.Type           { return u.Code }

func (UserName) sealed()            {}
func (UserPassword) sealed()        {}
func (NASIdentifier) sealed()       {}
func (CallingStationID) sealed()    {}
func (AcctSessionID) sealed()       {}
func (NASIPAddress) sealed()        {}
func (FramedIPAddress) sealed()     {}
func (AcctStatusType) sealed()      {}
func (AcctSessionTime) sealed()     {}
func (AcctInputOctets) sealed()     {}
func (AcctOutputOctets) sealed()    {}
func (AcctInputGigawords) sealed()  {}
func (AcctOutputGigawords) sealed() {}
func (VendorSpecific) sealed()      {}
func (Unknown) sealed()             {}

// Set is the decoded attribute list of one packet, in wire order.
type Set struct {
	list []Attribute
}

// Decode converts every attribute of p. User-Password is de-obfuscated with
// the packet's secret and request authenticator.
func Decode(p *radius.Packet) Set {
	s := Set{list: make([]Attribute, 0, len(p.Attributes))}
	for _, avp := range p.Attributes {
		a, err := decodeOne(p, avp.Type, avp.Attribute)
		if err != nil {
			a = Unknown{Code: avp.Type, Raw: append([]byte(nil), avp.Attribute...)}
		}
		s.list = append(s.list, a)
	}
	return s
}

var errEmpty = errors.New("attrs: empty value")

func decodeOne(p *radius.Packet, t radius.Type, a radius.Attribute) (Attribute, error) {
	switch t {
	case rfc2865.UserName_Type:
		return UserName(radius.String(a)), nil
	case rfc2865.UserPassword_Type:
		pw, err := radius.UserPassword(a, p.Secret, p.Authenticator[:])
		if err != nil {
			return nil, err
		}
		return UserPassword(pw), nil
	case rfc2865.NASIdentifier_Type:
		return NASIdentifier(radius.String(a)), nil
	case rfc2865.CallingStationID_Type:
		return CallingStationID(radius.String(a)), nil
	case rfc2866.AcctSessionID_Type:
		if len(a) == 0 {
			return nil, errEmpty
		}
		return AcctSessionID(radius.String(a)), nil
	case rfc2865.NASIPAddress_Type:
		ip, err := radius.IPAddr(a)
		return NASIPAddress(ip), err
	case rfc2865.FramedIPAddress_Type:
		ip, err := radius.IPAddr(a)
		return FramedIPAddress(ip), err
	case rfc2865.VendorSpecific_Type:
		id, value, err := radius.VendorSpecific(a)
		if err != nil {
			return nil, err
		}
		return VendorSpecific{VendorID: id, Value: append([]byte(nil), value...)}, nil
	}

	n, isInt, err := decodeInteger(t, a)
	if !isInt {
		return Unknown{Code: t, Raw: append([]byte(nil), a...)}, nil
	}
	if err != nil {
		return nil, err
	}
	switch t {
	case rfc2866.AcctStatusType_Type:
		return AcctStatusType(n), nil
	case rfc2866.AcctSessionTime_Type:
		return AcctSessionTime(n), nil
	case rfc2866.AcctInputOctets_Type:
		return AcctInputOctets(n), nil
	case rfc2866.AcctOutputOctets_Type:
		return AcctOutputOctets(n), nil
	case rfc2869.AcctInputGigawords_Type:
		return AcctInputGigawords(n), nil
	default:
		return AcctOutputGigawords(n), nil
	}
}

func decodeInteger(t radius.Type, a radius.Attribute) (uint32, bool, error) {
	switch t {
	case rfc2866.AcctStatusType_Type, rfc2866.AcctSessionTime_Type,
		rfc2866.AcctInputOctets_Type, rfc2866.AcctOutputOctets_Type,
		rfc2869.AcctInputGigawords_Type, rfc2869.AcctOutputGigawords_Type:
		n, err := radius.Integer(a)
		return n, true, err
	}
	return 0, false, nil
}

// All returns every decoded attribute in wire order.
func (s Set) All() []Attribute {
	return s.list
}

func first[T Attribute](s Set) (T, bool) {
	for _, a := range s.list {
		if v, ok := a.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

// UserName returns the User-Name attribute; empty values count as absent.
func (s Set) UserName() (string, bool) {
	v, ok := first[UserName](s)
	return string(v), ok && v != ""
}

// UserPassword returns the de-obfuscated password; empty values count as absent.
func (s Set) UserPassword() (string, bool) {
	v, ok := first[UserPassword](s)
	return string(v), ok && v != ""
}

func (s Set) NASIdentifier() (string, bool) {
	v, ok := first[NASIdentifier](s)
	return string(v), ok
}

func (s Set) NASIPAddress() (net.IP, bool) {
	v, ok := first[NASIPAddress](s)
	return net.IP(v), ok
}

func (s Set) FramedIPAddress() (net.IP, bool) {
	v, ok := first[FramedIPAddress](s)
	return net.IP(v), ok
}

func (s Set) CallingStationID() (string, bool) {
	v, ok := first[CallingStationID](s)
	return string(v), ok
}

func (s Set) AcctSessionID() (string, bool) {
	v, ok := first[AcctSessionID](s)
	return string(v), ok
}

func (s Set) AcctStatusType() (rfc2866.AcctStatusType, bool) {
	v, ok := first[AcctStatusType](s)
	return rfc2866.AcctStatusType(v), ok
}

func (s Set) AcctSessionTime() (uint32, bool) {
	v, ok := first[AcctSessionTime](s)
	return uint32(v), ok
}

// InputBytes combines Acct-Input-Octets with Acct-Input-Gigawords. It is
// absent only when neither attribute was sent.
func (s Set) InputBytes() (uint64, bool) {
	lo, okLo := first[AcctInputOctets](s)
	hi, okHi := first[AcctInputGigawords](s)
	return uint64(hi)<<32 | uint64(lo), okLo || okHi
}

// OutputBytes is InputBytes for the output direction.
func (s Set) OutputBytes() (uint64, bool) {
	lo, okLo := first[AcctOutputOctets](s)
	hi, okHi := first[AcctOutputGigawords](s)
	return uint64(hi)<<32 | uint64(lo), okLo || okHi
}

// Vendor returns the Vendor-Specific attributes carrying vendorID.
func (s Set) Vendor(vendorID uint32) []VendorSpecific {
	var out []VendorSpecific
	for _, a := range s.list {
		if v, ok := a.(VendorSpecific); ok && v.VendorID == vendorID {
			out = append(out, v)
		}
	}
	return out
}

// Unknown returns the attributes kept verbatim.
func (s Set) Unknown() []Unknown {
	var out []Unknown
	for _, a := range s.list {
		if u, ok := a.(Unknown); ok {
			out = append(out, u)
		}
	}
	return out
}
