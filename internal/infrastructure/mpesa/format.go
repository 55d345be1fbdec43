package mpesa

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// The provider validates timestamps against East Africa Time.
var eat = time.FixedZone("EAT", 3*60*60)

const timestampLayout = "20060102150405"

// Password derives the per-request password and the timestamp it was built
// for. Both must be sent together.
func Password(shortcode, passkey string, now time.Time) (password, timestamp string) {
	timestamp = now.In(eat).Format(timestampLayout)
	password = base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
	return password, timestamp
}

// NormalizePhone converts a Kenyan MSISDN into the 2547XXXXXXXX form the
// provider expects.
func NormalizePhone(raw string) (string, error) {
	phone := strings.Join(strings.Fields(raw), "")
	switch {
	case strings.HasPrefix(phone, "0"):
		phone = "254" + phone[1:]
	case strings.HasPrefix(phone, "+"):
		phone = phone[1:]
	}
	if len(phone) != 12 || !strings.HasPrefix(phone, "254") {
		return "", newError(ErrInvalidPhone, "normalize_phone", 0, raw, nil)
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return "", newError(ErrInvalidPhone, "normalize_phone", 0, raw, nil)
		}
	}
	return phone, nil
}

// WholeAmount floors amount to whole shillings; the provider rejects
// fractional amounts.
func WholeAmount(amount decimal.Decimal) (int64, error) {
	whole := amount.Floor()
	if whole.LessThan(decimal.NewFromInt(1)) {
		return 0, newError(ErrInvalidAmount, "whole_amount", 0, amount.String(), nil)
	}
	return whole.IntPart(), nil
}

// AccountReference is the short order reference shown on the payer's phone.
func AccountReference(orderID string) string {
	if len(orderID) > 8 {
		orderID = orderID[:8]
	}
	return "ORDER-" + orderID
}
