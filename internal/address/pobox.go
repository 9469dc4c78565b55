package address

import (
	"regexp"
	"strings"

	"github.com/hemlockoak/parcelscan/internal/models"
)

var poBoxPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bP\.?\s*O\.?\s+BOX\b`),    // P.O. Box, PO Box, P O Box
	regexp.MustCompile(`\bPO\s+BOX\b`),             // PO BOX
	regexp.MustCompile(`\bP\.O\.B\.?\b`),           // P.O.B, P.O.B.
	regexp.MustCompile(`\bPOB\b`),                  // POB
	regexp.MustCompile(`\bPOST\s+OFFICE\s+BOX\b`),  // POST OFFICE BOX
	regexp.MustCompile(`\bBOX\s+\d+\b`),            // Box 123 (only with a number)
}

var spaceRe = regexp.MustCompile(`\s+`)

// IsPOBox reports whether an address line looks like a post office box.
// Tolerant of punctuation and spacing variants; "123 Boxwood Ave" is not a
// PO Box, "Box 123 Main St" is treated as one.
func IsPOBox(line string) bool {
	if line == "" {
		return false
	}
	normalized := spaceRe.ReplaceAllString(strings.ToUpper(strings.TrimSpace(line)), " ")
	for _, p := range poBoxPatterns {
		if p.MatchString(normalized) {
			return true
		}
	}
	return false
}

// IsDeliverable reports whether the carrier can deliver to the address.
// Canada Post and USPS deliver to PO Boxes; UPS, FedEx, DHL and Purolator do
// not. Carriers outside both sets pass: a wrong block here strands a parcel,
// a wrong pass gets rejected at the carrier anyway.
func IsDeliverable(addr, carrier string) bool {
	if addr == "" || !IsPOBox(addr) {
		return true
	}

	c := strings.ToUpper(carrier)
	if strings.Contains(c, "CANADA") || strings.Contains(c, "POST") || strings.Contains(c, "USPS") {
		return true
	}
	switch {
	case strings.Contains(c, "UPS"),
		strings.Contains(c, "FEDEX"),
		strings.Contains(c, "DHL"),
		strings.Contains(c, "PUROLATOR"):
		return false
	}
	return true
}

// CheckCompatibility wraps IsDeliverable with the operator-facing message
// shown at scan time.
func CheckCompatibility(addr, carrier string) (bool, string) {
	if IsDeliverable(addr, carrier) {
		return true, ""
	}
	return false, "PO Box detected: " + carrier + " cannot deliver to PO Box addresses, use " + models.CarrierCanadaPost + " instead"
}
