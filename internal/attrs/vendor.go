package attrs

import (
	"errors"

	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
)

// NewVendorAttribute wraps a single vendor sub-attribute (type, length,
// value) in a Vendor-Specific attribute.
func NewVendorAttribute(vendorID uint32, vendorType uint8, value []byte) (radius.Attribute, error) {
	if len(value) > 247 {
		return nil, errors.New("attrs: vendor attribute value too long")
	}
	sub := make([]byte, 0, len(value)+2)
	sub = append(sub, vendorType, byte(len(value)+2))
	sub = append(sub, value...)
	return radius.NewVendorSpecific(vendorID, sub)
}

// AddVendorAttribute appends a Vendor-Specific attribute to p.
func AddVendorAttribute(p *radius.Packet, vendorID uint32, vendorType uint8, value []byte) error {
	a, err := NewVendorAttribute(vendorID, vendorType, value)
	if err != nil {
		return err
	}
	p.Add(rfc2865.VendorSpecific_Type, a)
	return nil
}

// SubAttributes splits the vendor payload into type/value pairs, assuming
// the common one-byte type, one-byte length layout.
func (v VendorSpecific) SubAttributes() (map[uint8][]byte, error) {
	out := make(map[uint8][]byte)
	b := v.Value
	for len(b) > 0 {
		if len(b) < 2 || int(b[1]) < 2 || int(b[1]) > len(b) {
			return nil, errors.New("attrs: malformed vendor sub-attribute")
		}
		out[b[0]] = append([]byte(nil), b[2:b[1]]...)
		b = b[b[1]:]
	}
	return out, nil
}
