package channels

import (
	"fmt"
	"net/url"
	"strings"

	"tinko_recovery/internal/models"
)

// DefaultSubject is used for email reminders.
const DefaultSubject = "Complete your payment"

// MessageData is everything a reminder template can refer to.
type MessageData struct {
	Merchant  *models.Merchant
	Payment   *models.PaymentEvent
	AttemptNo int
	LinkBase  string
}

// Compose renders template with the payment's details. Placeholders are
// $amount, $reason, $link, $merchant and $payment_id. A line whose placeholder
// resolves to nothing is left out.
func Compose(template string, d MessageData) Message {
	values := map[string]string{
		"$payment_id": d.Payment.GatewayPaymentID,
		"$amount":     FormatAmount(d.Payment.Amount, d.Payment.Currency),
		"$reason":     strings.TrimSpace(d.Payment.FailureReason),
		"$link":       DeepLink(d.LinkBase, d.Merchant, d.Payment),
		"$merchant":   "",
	}
	if d.Merchant != nil {
		values["$merchant"] = d.Merchant.Name
	}

	var lines []string
	for _, line := range strings.Split(template, "\n") {
		if out, ok := replacePlaceholders(line, values); ok {
			lines = append(lines, out)
		}
	}

	subject := DefaultSubject
	if d.Merchant != nil && d.Merchant.Name != "" {
		subject = fmt.Sprintf("%s: %s", DefaultSubject, d.Merchant.Name)
	}
	return Message{Subject: subject, Body: strings.Join(lines, "\n")}
}

// replacePlaceholders substitutes every known placeholder in line. It reports
// false when a placeholder on the line has no value.
func replacePlaceholders(line string, values map[string]string) (string, bool) {
	res := line
	for _, key := range []string{"$payment_id", "$amount", "$reason", "$link", "$merchant"} {
		if !strings.Contains(res, key) {
			continue
		}
		if values[key] == "" {
			return "", false
		}
		res = strings.ReplaceAll(res, key, values[key])
	}
	return res, true
}

// FormatAmount renders minor units as "499.00 INR". Currency defaults to INR.
func FormatAmount(minor int64, currency string) string {
	cur := strings.ToUpper(strings.TrimSpace(currency))
	if cur == "" {
		cur = "INR"
	}
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, cur)
}

// NormalizeMSISDN keeps digits only and prefixes bare 10-digit numbers with the
// Indian country code. It returns "" when no digits remain.
func NormalizeMSISDN(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	s := b.String()
	if len(s) == 10 {
		s = "91" + s
	}
	return s
}

// DeepLink picks the retry link for a payment: the merchant's own payment link,
// then the configured link base, then a UPI intent when the merchant has a VPA.
func DeepLink(linkBase string, m *models.Merchant, p *models.PaymentEvent) string {
	if m != nil && strings.HasPrefix(m.PaymentLink, "http") {
		return m.PaymentLink
	}
	if linkBase != "" {
		return strings.TrimRight(linkBase, "/") + "/" + url.PathEscape(p.GatewayPaymentID)
	}
	if m != nil && m.UpiVPA != "" {
		q := url.Values{}
		q.Set("pa", m.UpiVPA)
		if m.Name != "" {
			q.Set("pn", m.Name)
		}
		q.Set("am", fmt.Sprintf("%d.%02d", p.Amount/100, p.Amount%100))
		cur := strings.ToUpper(p.Currency)
		if cur == "" {
			cur = "INR"
		}
		q.Set("cu", cur)
		q.Set("tr", p.GatewayPaymentID)
		return "upi://pay?" + q.Encode()
	}
	return ""
}
