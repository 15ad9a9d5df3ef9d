package attrs

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"layeh.com/radius"
	"layeh.com/radius/rfc2865"
	"layeh.com/radius/rfc2866"
	"layeh.com/radius/rfc2869"
)

var secret = []byte("testing123")

func TestDecode_AccessRequest(t *testing.T) {
	p := radius.New(radius.CodeAccessRequest, secret)
	require.NoError(t, rfc2865.UserName_SetString(p, "AA:BB:CC:DD:EE:FF"))
	require.NoError(t, rfc2865.UserPassword_SetString(p, "0123456789abcdef0123456789abcdef"))
	require.NoError(t, rfc2865.NASIdentifier_SetString(p, "hotspot-1"))
	require.NoError(t, rfc2865.NASIPAddress_Set(p, net.IPv4(192, 168, 88, 1)))

	set := Decode(p)

	user, ok := set.UserName()
	assert.True(t, ok)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", user)

	pw, ok := set.UserPassword()
	assert.True(t, ok)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", pw)

	nas, ok := set.NASIdentifier()
	assert.True(t, ok)
	assert.Equal(t, "hotspot-1", nas)

	ip, ok := set.NASIPAddress()
	assert.True(t, ok)
	assert.True(t, ip.Equal(net.IPv4(192, 168, 88, 1)))

	assert.Len(t, set.All(), 4)
	assert.Empty(t, set.Unknown())
}

func TestDecode_MissingAttributes(t *testing.T) {
	set := Decode(radius.New(radius.CodeAccessRequest, secret))

	_, ok := set.UserName()
	assert.False(t, ok)
	_, ok = set.UserPassword()
	assert.False(t, ok)
	_, ok = set.InputBytes()
	assert.False(t, ok)
}

func TestDecode_AccountingCounters(t *testing.T) {
	p := radius.New(radius.CodeAccountingRequest, secret)
	require.NoError(t, rfc2866.AcctStatusType_Set(p, rfc2866.AcctStatusType_Value_InterimUpdate))
	require.NoError(t, rfc2866.AcctSessionID_SetString(p, "sid1"))
	require.NoError(t, rfc2866.AcctInputOctets_Set(p, 1000))
	require.NoError(t, rfc2866.AcctOutputOctets_Set(p, 5))
	require.NoError(t, rfc2869.AcctOutputGigawords_Set(p, 2))
	require.NoError(t, rfc2865.FramedIPAddress_Set(p, net.IPv4(10, 0, 0, 7)))

	set := Decode(p)

	status, ok := set.AcctStatusType()
	assert.True(t, ok)
	assert.Equal(t, rfc2866.AcctStatusType_Value_InterimUpdate, status)

	sid, ok := set.AcctSessionID()
	assert.True(t, ok)
	assert.Equal(t, "sid1", sid)

	in, ok := set.InputBytes()
	assert.True(t, ok)
	assert.Equal(t, uint64(1000), in)

	out, ok := set.OutputBytes()
	assert.True(t, ok)
	assert.Equal(t, uint64(2)<<32+5, out)

	framed, ok := set.FramedIPAddress()
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.7", framed.String())
}

func TestDecode_UnknownAndMalformedAreKept(t *testing.T) {
	p := radius.New(radius.CodeAccountingRequest, secret)
	p.Add(radius.Type(241), radius.Attribute("extended"))
	// Acct-Input-Octets must be four bytes
	p.Add(rfc2866.AcctInputOctets_Type, radius.Attribute{0x01})

	set := Decode(p)
	unknown := set.Unknown()
	require.Len(t, unknown, 2)
	assert.Equal(t, radius.Type(241), unknown[0].Type())
	assert.Equal(t, []byte("extended"), unknown[0].Raw)
	assert.Equal(t, rfc2866.AcctInputOctets_Type, unknown[1].Type())

	_, ok := set.InputBytes()
	assert.False(t, ok)
}

func TestVendorAttribute_RoundTrip(t *testing.T) {
	p := radius.New(radius.CodeAccessAccept, secret)
	require.NoError(t, AddVendorAttribute(p, 14988, 8, []byte("10M/10M")))

	set := Decode(p)
	vsas := set.Vendor(14988)
	require.Len(t, vsas, 1)

	subs, err := vsas[0].SubAttributes()
	require.NoError(t, err)
	assert.Equal(t, []byte("10M/10M"), subs[8])

	assert.Empty(t, set.Vendor(311))
}

func TestVendorAttribute_TooLong(t *testing.T) {
	_, err := NewVendorAttribute(14988, 8, make([]byte, 248))
	assert.Error(t, err)
}

func TestSubAttributes_Malformed(t *testing.T) {
	_, err := VendorSpecific{VendorID: 1, Value: []byte{8, 10, 'x'}}.SubAttributes()
	assert.Error(t, err)
}
