package tracking

import (
	"strings"

	"github.com/hemlockoak/parcelscan/internal/models"
)

// Token is one classified tracking number extracted from a raw scan.
type Token struct {
	Number  string
	Carrier string
}

// Detect maps a tracking number to a carrier by shape alone. Order matters:
// Purolator is checked before FedEx because both use 12 digits, and the
// warehouse ships Purolator far more often.
func Detect(trackingNumber string) string {
	t := strings.ToUpper(strings.TrimSpace(trackingNumber))

	if strings.HasPrefix(t, "1Z") && len(t) == 18 {
		return models.CarrierUPS
	}
	if strings.HasPrefix(t, "2016") || (len(t) == 16 && isDigits(t)) {
		return models.CarrierCanadaPost
	}
	if len(t) == 12 && isDigits(t) {
		return models.CarrierPurolator
	}
	if (len(t) == 10 || len(t) == 11) && isDigits(t) {
		return models.CarrierDHL
	}
	if len(t) == 15 && isDigits(t) {
		return models.CarrierFedEx
	}
	if strings.HasPrefix(t, "LA") || (len(t) >= 20 && len(t) <= 30 && isAlnum(t)) {
		return models.CarrierUSPS
	}
	return models.CarrierUnknown
}

// Normalize strips the barcode envelope a label scanner reads around the
// printed tracking number. Canada Post labels carry a 28-char barcode whose
// middle 16 digits are the PIN; some label stock uses a 22-char form.
// Purolator's 34-char barcode embeds the 12-digit PIN in the middle.
func Normalize(raw, carrier string) string {
	code := strings.TrimSpace(raw)
	switch carrier {
	case models.CarrierCanadaPost:
		switch len(code) {
		case 28:
			return code[7:23]
		case 22:
			return code[3:19]
		}
	case models.CarrierPurolator:
		if len(code) == 34 {
			return code[11:23]
		}
	}
	return code
}

// Split detects scans where two labels went through as one swipe and returns
// the individual tracking numbers. A split is accepted only when every
// segment has equal length and independently classifies to the same carrier
// shape; anything else comes back as the single original token.
func Split(raw string) []string {
	code := strings.TrimSpace(raw)
	if len(code) < 18 {
		return []string{code}
	}

	// Two UPS labels: 36 chars, "1Z" at 0 and at 18.
	if len(code) == 36 && strings.HasPrefix(code, "1Z") && code[18:20] == "1Z" {
		first, second := code[:18], code[18:]
		if isValidUPS(first) && isValidUPS(second) {
			return []string{first, second}
		}
	}

	// Two Canada Post PINs: 32 digits.
	if len(code) == 32 && isDigits(code) {
		first, second := code[:16], code[16:]
		if Detect(first) == models.CarrierCanadaPost && Detect(second) == models.CarrierCanadaPost {
			return []string{first, second}
		}
	}

	// Two 12-digit labels: 24 digits. Detect decides the family; both halves
	// must agree or the split is rejected.
	if len(code) == 24 && isDigits(code) {
		first, second := code[:12], code[12:]
		if c := Detect(first); c != models.CarrierUnknown && c == Detect(second) {
			return []string{first, second}
		}
	}

	// Generic: multiple "1Z" markers anywhere in the scan. Take every valid
	// 18-char UPS candidate, keep the non-overlapping ones in scan order.
	if idx := strings.Index(code, "1Z"); idx >= 0 {
		var found []string
		lastEnd := 0
		for pos := 0; pos+18 <= len(code); pos++ {
			if code[pos:pos+2] != "1Z" || pos < lastEnd {
				continue
			}
			candidate := code[pos : pos+18]
			if isValidUPS(candidate) {
				found = append(found, candidate)
				lastEnd = pos + 18
			}
		}
		if len(found) >= 2 {
			return found
		}
	}

	return []string{code}
}

// Classify runs the full pipeline over a raw scan: split concatenated labels,
// then detect and normalize each segment. Never fails; an unrecognizable scan
// yields a single token with CarrierUnknown.
func Classify(raw string) []Token {
	parts := Split(raw)
	out := make([]Token, 0, len(parts))
	for _, p := range parts {
		// Numeric barcode envelopes are longer than the number they wrap and
		// would otherwise shape-match the USPS catch-all, so try the known
		// envelopes first.
		if isDigits(p) {
			if n := Normalize(p, models.CarrierCanadaPost); n != p && Detect(n) == models.CarrierCanadaPost {
				out = append(out, Token{Number: n, Carrier: models.CarrierCanadaPost})
				continue
			}
			if n := Normalize(p, models.CarrierPurolator); n != p && Detect(n) == models.CarrierPurolator {
				out = append(out, Token{Number: n, Carrier: models.CarrierPurolator})
				continue
			}
		}
		carrier := Detect(p)
		out = append(out, Token{Number: Normalize(p, carrier), Carrier: carrier})
	}
	return out
}

// UPS format: "1Z", 6-char shipper number, 2-char service code, 8-char
// package id. 18 chars total, alphanumeric after the prefix.
func isValidUPS(t string) bool {
	if len(t) != 18 || !strings.HasPrefix(t, "1Z") {
		return false
	}
	return isAlnum(t[2:])
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z') {
			return false
		}
	}
	return true
}
