package tracking

import (
	"strings"
	"testing"

	"github.com/hemlockoak/parcelscan/internal/models"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1ZAC50886738062302", models.CarrierUPS},
		{"1Z999AA10123456784", models.CarrierUPS},
		{"2016987654321098", models.CarrierCanadaPost},
		{"7428123456789012", models.CarrierCanadaPost}, // 16 digits, no 2016 prefix
		{"123456789012", models.CarrierPurolator},
		{"1234567890", models.CarrierDHL},
		{"12345678901", models.CarrierDHL},
		{"123456789012345", models.CarrierFedEx},
		{"LA123456789US", models.CarrierUSPS},
		{"92055901755477000000000001", models.CarrierUSPS},
		{"", models.CarrierUnknown},
		{"ABC", models.CarrierUnknown},
		{"1Z999", models.CarrierUnknown},
	}
	for _, c := range cases {
		require.Equal(t, c.want, Detect(c.in), "input %q", c.in)
	}
}

func TestNormalize_CanadaPostEnvelope(t *testing.T) {
	// 28-char barcode: 7-char prefix + 16-digit PIN + 5-char suffix.
	raw := "1234567" + "2016987654321098" + "54321"
	require.Len(t, raw, 28)
	require.Equal(t, "2016987654321098", Normalize(raw, models.CarrierCanadaPost))

	// 22-char form: 3 + 16 + 3.
	raw22 := "123" + "2016987654321098" + "321"
	require.Len(t, raw22, 22)
	require.Equal(t, "2016987654321098", Normalize(raw22, models.CarrierCanadaPost))

	// Bare PIN passes through.
	require.Equal(t, "2016987654321098", Normalize("2016987654321098", models.CarrierCanadaPost))
}

func TestNormalize_PurolatorEnvelope(t *testing.T) {
	raw := strings.Repeat("9", 11) + "123456789012" + strings.Repeat("9", 11)
	require.Len(t, raw, 34)
	require.Equal(t, "123456789012", Normalize(raw, models.CarrierPurolator))
}

func TestSplit_TwoUPS(t *testing.T) {
	got := Split("1ZAC508867380623021ZAC50882034286504")
	require.Equal(t, []string{"1ZAC50886738062302", "1ZAC50882034286504"}, got)
}

func TestSplit_TwoCanadaPost(t *testing.T) {
	got := Split("20169876543210982016123456789012")
	require.Equal(t, []string{"2016987654321098", "2016123456789012"}, got)
}

func TestSplit_UnequalSegmentsRejected(t *testing.T) {
	// 34 chars: an 18-char UPS number followed by a 16-char tail. Not an
	// exact multiple of the label length, must come back whole.
	raw := "1Z999AA101234567841Z888BB209876543"
	require.Len(t, raw, 34)
	got := Split(raw)
	require.Len(t, got, 1)
	require.Equal(t, raw, got[0])
}

func TestSplit_36CharsButSecondHalfNotUPS(t *testing.T) {
	raw := "1ZAC50886738062302" + "999999999999999999"
	require.Len(t, raw, 36)
	got := Split(raw)
	require.Equal(t, []string{raw}, got)
}

func TestSplit_ShortInputPassesThrough(t *testing.T) {
	require.Equal(t, []string{"1234567890"}, Split("1234567890"))
}

func TestSplit_PropertyMultiplesOf18(t *testing.T) {
	// k valid UPS segments concatenated always split into k tokens.
	seg := []string{"1ZAC50886738062302", "1ZAC50882034286504", "1Z999AA10123456784"}
	for k := 2; k <= 3; k++ {
		raw := strings.Join(seg[:k], "")
		got := Split(raw)
		require.Len(t, got, k, "k=%d", k)
		for i, s := range got {
			require.Equal(t, seg[i], s)
			require.Equal(t, models.CarrierUPS, Detect(s))
		}
	}
}

func TestClassify_SplitAndDetect(t *testing.T) {
	tokens := Classify("1ZAC508867380623021ZAC50882034286504")
	require.Len(t, tokens, 2)
	for _, tok := range tokens {
		require.Equal(t, models.CarrierUPS, tok.Carrier)
		require.Len(t, tok.Number, 18)
	}
}

func TestClassify_NormalizesEnvelope(t *testing.T) {
	raw := "1234567" + "2016987654321098" + "54321" // 28-char CP barcode
	tokens := Classify(raw)
	require.Len(t, tokens, 1)
	require.Equal(t, models.CarrierCanadaPost, tokens[0].Carrier)
	require.Equal(t, "2016987654321098", tokens[0].Number)
}

func TestClassify_UnknownNeverFails(t *testing.T) {
	tokens := Classify("@@@not-a-label@@@")
	require.Len(t, tokens, 1)
	require.Equal(t, models.CarrierUnknown, tokens[0].Carrier)
}

func TestValidateForBatch(t *testing.T) {
	require.NoError(t, ValidateForBatch("1ZAC50886738062302", models.CarrierUPS))
	require.Error(t, ValidateForBatch("2016987654321098", models.CarrierUPS))

	require.NoError(t, ValidateForBatch("2016987654321098", models.CarrierCanadaPost))
	require.NoError(t, ValidateForBatch("RR123456789CA", models.CarrierCanadaPost))
	require.Error(t, ValidateForBatch("1ZAC50886738062302", models.CarrierCanadaPost))

	require.NoError(t, ValidateForBatch("123456789012", models.CarrierPurolator))
	require.Error(t, ValidateForBatch("12345", models.CarrierPurolator))

	require.NoError(t, ValidateForBatch("1234567890", models.CarrierDHL))
	require.Error(t, ValidateForBatch("123456789012", models.CarrierDHL))

	// No fixed carrier: everything passes.
	require.NoError(t, ValidateForBatch("whatever", ""))
}
