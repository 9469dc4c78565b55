package tracking

import (
	"fmt"
	"strings"

	"github.com/hemlockoak/parcelscan/internal/models"
)

// ValidateForBatch checks a raw scan against the carrier the batch was opened
// for, before any normalization. Catches the wrong label going into the wrong
// bin at the moment of the scan instead of at the carrier counter.
// Returns nil for batches without a fixed carrier.
func ValidateForBatch(raw, batchCarrier string) error {
	code := strings.TrimSpace(raw)
	preview := code
	if len(preview) > 20 {
		preview = preview[:20] + "..."
	}

	switch batchCarrier {
	case models.CarrierUPS:
		if !strings.HasPrefix(code, "1Z") {
			return fmt.Errorf("not a UPS label: UPS tracking numbers start with 1Z (scanned %q)", preview)
		}
	case models.CarrierCanadaPost:
		// 28 = full barcode, 22 = alternate label stock, 16 = bare PIN,
		// 13 = international (RR...CA).
		switch len(code) {
		case 28, 22, 16, 13:
		default:
			return fmt.Errorf("not a Canada Post label: expected 28, 22, 16 or 13 characters, got %d (scanned %q)", len(code), preview)
		}
	case models.CarrierPurolator:
		if !(len(code) == 12 && isDigits(code)) && len(code) != 34 {
			return fmt.Errorf("not a Purolator label: expected 12 digits or a 34-character barcode (scanned %q)", preview)
		}
	case models.CarrierDHL:
		if !(len(code) == 10 && isDigits(code)) {
			return fmt.Errorf("not a DHL label: expected a 10-digit tracking number (scanned %q)", preview)
		}
	}
	return nil
}
