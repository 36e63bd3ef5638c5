// Package normalizer turns raw field values into their canonical stored form.
// Nothing in this package performs I/O.
package normalizer

import (
	"errors"
	"fmt"
	"strings"
)

// GTIN14Length is the length of the canonical barcode storage value.
const GTIN14Length = 14

// UPIDLength is the width generated UPIDs are padded to.
const UPIDLength = 13

// MaxIdentifierLength bounds user supplied UPIDs and SKUs.
const MaxIdentifierLength = 64

// AcceptedBarcodeLengths lists the digit counts of EAN-8, UPC-A, EAN-13 and GTIN-14.
var AcceptedBarcodeLengths = []int{8, 12, 13, 14}

// ErrInvalidBarcode is matched by every barcode format error.
var ErrInvalidBarcode = errors.New("invalid barcode")

// BarcodeError describes a barcode whose digit count is not accepted.
type BarcodeError struct {
	Value  string
	Digits int
}

func (e *BarcodeError) Error() string {
	return fmt.Sprintf("barcode %q must contain 8, 12, 13 or 14 digits (found %d)", e.Value, e.Digits)
}

func (e *BarcodeError) Is(target error) bool {
	return target == ErrInvalidBarcode
}

// NormalizeBarcode strips every non-digit character and left-pads the result
// to a GTIN-14. An empty or blank value means "no barcode" and yields "".
func NormalizeBarcode(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}
	if isGTIN14(raw) {
		return raw, nil
	}

	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	d := digits.String()
	if !acceptedLength(len(d)) {
		return "", &BarcodeError{Value: raw, Digits: len(d)}
	}
	return PadIdentifier(d, GTIN14Length), nil
}

// isGTIN14 reports whether s is already in canonical storage form.
func isGTIN14(s string) bool {
	if len(s) != GTIN14Length {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func acceptedLength(n int) bool {
	for _, l := range AcceptedBarcodeLengths {
		if n == l {
			return true
		}
	}
	return false
}

// PadIdentifier left-pads s with zeros up to width. Longer values are returned unchanged.
func PadIdentifier(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}

// NormalizeIdentifier trims a UPID or SKU. Blank values normalize to "".
func NormalizeIdentifier(raw string) string {
	return strings.TrimSpace(raw)
}

// Handle creates a URL-friendly product handle from a name
func Handle(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	var result strings.Builder
	lastDash := false
	for _, r := range slug {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			result.WriteRune(r)
			lastDash = false
		} else if r == '-' && !lastDash && result.Len() > 0 {
			result.WriteRune(r)
			lastDash = true
		}
	}
	return strings.TrimSuffix(result.String(), "-")
}
