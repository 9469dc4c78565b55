package address

import (
	"testing"

	"github.com/hemlockoak/parcelscan/internal/models"
	"github.com/stretchr/testify/require"
)

func TestIsPOBox(t *testing.T) {
	cases := []struct {
		line string
		want bool
	}{
		{"123 Main Street", false},
		{"PO Box 456", true},
		{"P.O. Box 789", true},
		{"P O Box 123", true},
		{"po box 42", true},
		{"POB 456", true},
		{"Post Office Box 789", true},
		{"Box 123 Main St", true},
		{"555 P.O.B. 123", true},
		{"123 Boxwood Ave", false},
		{"Boxing Gym, 9 Ring Rd", false},
		{"", false},
	}
	for _, c := range cases {
		require.Equal(t, c.want, IsPOBox(c.line), "line %q", c.line)
	}
}

func TestIsDeliverable_POBoxByCarrier(t *testing.T) {
	poBox := "PO Box 456"

	rejecting := []string{models.CarrierUPS, models.CarrierFedEx, models.CarrierDHL, models.CarrierPurolator}
	for _, carrier := range rejecting {
		require.False(t, IsDeliverable(poBox, carrier), "carrier %s", carrier)
	}

	accepting := []string{models.CarrierCanadaPost, models.CarrierUSPS}
	for _, carrier := range accepting {
		require.True(t, IsDeliverable(poBox, carrier), "carrier %s", carrier)
	}

	// Unrecognized carrier fails open.
	require.True(t, IsDeliverable(poBox, "SomeRegionalCourier"))
}

func TestIsDeliverable_StreetAddressAlwaysFine(t *testing.T) {
	for _, carrier := range []string{models.CarrierUPS, models.CarrierCanadaPost, "anything"} {
		require.True(t, IsDeliverable("123 Main Street", carrier))
	}
	require.True(t, IsDeliverable("", models.CarrierUPS))
}

func TestCheckCompatibility_Message(t *testing.T) {
	ok, msg := CheckCompatibility("P.O. Box 12", models.CarrierUPS)
	require.False(t, ok)
	require.Contains(t, msg, "PO Box")
	require.Contains(t, msg, models.CarrierUPS)

	ok, msg = CheckCompatibility("P.O. Box 12", models.CarrierCanadaPost)
	require.True(t, ok)
	require.Empty(t, msg)
}
