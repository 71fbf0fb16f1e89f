// Package qris builds EMV-style QRIS payment payloads. The only fields it
// computes are the transaction amount (tag 54) and the CRC trailer (tag 63);
// every other tag is opaque text carried over from the merchant's base template.
package qris

import (
	"errors"
	"fmt"
	"strings"
)

// AmountPlaceholder marks where the amount field is spliced into a template.
const AmountPlaceholder = "{AMOUNT_FIELD}"

const (
	amountTag   = "54"
	checksumTag = "6304"
)

var (
	// ErrNoAmountPlaceholder means the template has no {AMOUNT_FIELD} token.
	ErrNoAmountPlaceholder = errors.New("qris: template has no amount placeholder")
	// ErrInvalidAmount means the amount is zero or negative.
	ErrInvalidAmount = errors.New("qris: amount must be positive")
	// ErrChecksumMismatch means a payload's CRC trailer does not match its body.
	ErrChecksumMismatch = errors.New("qris: checksum mismatch")
	// ErrMalformedPayload means a payload is too short to carry a CRC trailer.
	ErrMalformedPayload = errors.New("qris: payload too short")
)

// Encode splices amount into template and appends the CRC-16 trailer.
// The template must contain exactly the {AMOUNT_FIELD} placeholder and must
// not already carry a checksum tag; Encode appends "6304" itself before
// computing the CRC, so identical inputs always yield identical output.
func Encode(template string, amount int64) (string, error) {
	if amount <= 0 {
		return "", ErrInvalidAmount
	}
	if !strings.Contains(template, AmountPlaceholder) {
		return "", ErrNoAmountPlaceholder
	}

	body := strings.Replace(template, AmountPlaceholder, AmountField(amount), 1) + checksumTag
	return body + fmt.Sprintf("%04X", Checksum(body)), nil
}

// AmountField renders the tagged amount field: tag "54", a zero-padded
// 2-digit length of the amount's decimal form, then the digits themselves.
func AmountField(amount int64) string {
	digits := fmt.Sprintf("%d", amount)
	return fmt.Sprintf("%s%02d%s", amountTag, len(digits), digits)
}

// Verify recomputes the checksum over payload minus its 4-character trailer
// and compares it to the trailer. Used by tests and by template validation.
func Verify(payload string) error {
	if len(payload) < 4+len(checksumTag) {
		return ErrMalformedPayload
	}
	body := payload[:len(payload)-4]
	if !strings.HasSuffix(body, checksumTag) {
		return ErrMalformedPayload
	}
	if fmt.Sprintf("%04X", Checksum(body)) != payload[len(payload)-4:] {
		return ErrChecksumMismatch
	}
	return nil
}

// Checksum computes CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF, no
// reflection) over the payload bytes.
func Checksum(payload string) uint16 {
	crc := uint16(0xFFFF)
	for i := 0; i < len(payload); i++ {
		crc ^= uint16(payload[i]) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}
