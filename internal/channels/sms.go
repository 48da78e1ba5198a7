package channels

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const twilioBaseURL = "https://api.twilio.com"

// TwilioSender sends SMS through the Twilio Messages API.
type TwilioSender struct {
	accountSID string
	authToken  string
	fromNumber string
	baseURL    string
	httpClient *http.Client
}

func NewTwilioSender(accountSID, authToken, fromNumber string) (*TwilioSender, error) {
	if accountSID == "" {
		return nil, fmt.Errorf("TWILIO_ACCOUNT_SID not set")
	}
	if authToken == "" {
		return nil, fmt.Errorf("TWILIO_AUTH_TOKEN not set")
	}
	if fromNumber == "" {
		return nil, fmt.Errorf("TWILIO_FROM_NUMBER not set")
	}

	return &TwilioSender{
		accountSID: accountSID,
		authToken:  authToken,
		fromNumber: fromNumber,
		baseURL:    twilioBaseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// WithBaseURL points the sender at another API host.
func (t *TwilioSender) WithBaseURL(baseURL string) *TwilioSender {
	t.baseURL = strings.TrimRight(baseURL, "/")
	return t
}

func (t *TwilioSender) Send(ctx context.Context, recipient string, msg Message) (SendResult, error) {
	msisdn := NormalizeMSISDN(recipient)
	if msisdn == "" {
		return SendResult{}, fmt.Errorf("invalid sms recipient %q", recipient)
	}

	apiURL := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, t.accountSID)

	formData := url.Values{}
	formData.Set("To", "+"+msisdn)
	formData.Set("From", t.fromNumber)
	formData.Set("Body", msg.Body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL,
		strings.NewReader(formData.Encode()))
	if err != nil {
		return SendResult{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.SetBasicAuth(t.accountSID, t.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return SendResult{}, fmt.Errorf("twilio request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return SendResult{}, fmt.Errorf("twilio error %s: %s", resp.Status, string(respBody))
	}

	return SendResult{
		MessageID: fmt.Sprintf("twilio-%d", time.Now().UnixNano()),
		SentAt:    time.Now(),
	}, nil
}
