package qris

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

const testTemplate = "00020101021126610014COM.GO-JEK.WWW01189360091438098430560210G8098430560303UMI51440014ID.CO.QRIS.WWW0215ID10254038798730303UMI5204549953033605802ID5911Pansa Store6010BOJONEGORO61056211162070703A01{AMOUNT_FIELD}"

func TestChecksum(t *testing.T) {
	// Standard CRC-16/CCITT-FALSE check value.
	assert.Equal(t, uint16(0x29B1), Checksum("123456789"))
}

func TestAmountField(t *testing.T) {
	assert.Equal(t, "540550000", AmountField(50000))
	assert.Equal(t, "54011", AmountField(1))
	assert.Equal(t, "5406100123", AmountField(100123))
}

func TestEncode(t *testing.T) {
	t.Run("golden payload", func(t *testing.T) {
		payload, err := Encode(testTemplate, 50457)
		assert.NoError(t, err)
		assert.Equal(t,
			"00020101021126610014COM.GO-JEK.WWW01189360091438098430560210G8098430560303UMI51440014ID.CO.QRIS.WWW0215ID10254038798730303UMI5204549953033605802ID5911Pansa Store6010BOJONEGORO61056211162070703A015405504576304E8AE",
			payload)
	})

	t.Run("golden checksums", func(t *testing.T) {
		for amount, crc := range map[int64]string{
			50000:  "0DBD",
			10000:  "9152",
			25789:  "48D2",
			100123: "F612",
		} {
			payload, err := Encode(testTemplate, amount)
			assert.NoError(t, err)
			assert.Equal(t, crc, payload[len(payload)-4:], "amount %d", amount)
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		first, err := Encode(testTemplate, 75321)
		assert.NoError(t, err)
		second, err := Encode(testTemplate, 75321)
		assert.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("round trip verifies", func(t *testing.T) {
		payload, err := Encode(testTemplate, 50457)
		assert.NoError(t, err)
		assert.NoError(t, Verify(payload))
	})

	t.Run("amount field embedded once", func(t *testing.T) {
		payload, err := Encode(testTemplate, 50000)
		assert.NoError(t, err)
		assert.Equal(t, 1, strings.Count(payload, "540550000"))
		assert.NotContains(t, payload, AmountPlaceholder)
	})

	t.Run("missing placeholder", func(t *testing.T) {
		_, err := Encode("000201010212", 50000)
		assert.ErrorIs(t, err, ErrNoAmountPlaceholder)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		_, err := Encode(testTemplate, 0)
		assert.ErrorIs(t, err, ErrInvalidAmount)
		_, err = Encode(testTemplate, -500)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestVerify(t *testing.T) {
	t.Run("tampered payload", func(t *testing.T) {
		payload, err := Encode(testTemplate, 50457)
		assert.NoError(t, err)
		tampered := strings.Replace(payload, "50457", "50458", 1)
		assert.ErrorIs(t, Verify(tampered), ErrChecksumMismatch)
	})

	t.Run("too short", func(t *testing.T) {
		assert.ErrorIs(t, Verify("6304"), ErrMalformedPayload)
	})

	t.Run("missing checksum tag", func(t *testing.T) {
		assert.ErrorIs(t, Verify("000201010212ABCD"), ErrMalformedPayload)
	})
}
