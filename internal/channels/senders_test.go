package channels

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tinko_recovery/internal/config"
	"tinko_recovery/internal/models"
)

func TestWahaSender_Send(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
		text  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		paths = append(paths, r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))
		if r.URL.Path == "/api/sendText" {
			body, _ := io.ReadAll(r.Body)
			text = string(body)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := NewWahaSender(srv.URL, "secret", "default").WithoutDelays()
	res, err := s.Send(context.Background(), "9876543210", Message{Body: "hello"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.MessageID)

	assert.Equal(t, []string{"/api/sendSeen", "/api/startTyping", "/api/stopTyping", "/api/sendText"}, paths)
	assert.Contains(t, text, `"chatId":"919876543210@c.us"`)
	assert.Contains(t, text, `"text":"hello"`)
}

func TestWahaSender_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "session not started", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	s := NewWahaSender(srv.URL, "", "").WithoutDelays()
	_, err := s.Send(context.Background(), "9876543210", Message{Body: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not started")
}

func TestWahaSender_InvalidRecipient(t *testing.T) {
	s := NewWahaSender("http://127.0.0.1:1", "", "").WithoutDelays()
	_, err := s.Send(context.Background(), "", Message{Body: "hello"})
	assert.Error(t, err)
}

func TestTwilioSender_Send(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2010-04-01/Accounts/AC123/Messages.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "token", pass)
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s, err := NewTwilioSender("AC123", "token", "+15550001111")
	require.NoError(t, err)
	s.WithBaseURL(srv.URL)

	_, err = s.Send(context.Background(), "9876543210", Message{Body: "pay now"})
	require.NoError(t, err)
	assert.Equal(t, "+919876543210", form.Get("To"))
	assert.Equal(t, "+15550001111", form.Get("From"))
	assert.Equal(t, "pay now", form.Get("Body"))
}

func TestTwilioSender_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code":21211}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	s, err := NewTwilioSender("AC123", "token", "+15550001111")
	require.NoError(t, err)
	s.WithBaseURL(srv.URL)

	_, err = s.Send(context.Background(), "9876543210", Message{Body: "pay now"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "21211")
}

func TestNewTwilioSender_MissingConfig(t *testing.T) {
	_, err := NewTwilioSender("", "token", "+1")
	assert.Error(t, err)
}

func TestSMTPSender_Send(t *testing.T) {
	s, err := NewSMTPSender("smtp.example.com", "587", "user", "pass", "noreply@example.com")
	require.NoError(t, err)

	var gotAddr string
	var gotTo []string
	var gotMsg string
	s.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, string(msg)
		return nil
	}

	_, err = s.Send(context.Background(), "buyer@example.com", Message{Subject: "Complete your payment", Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"buyer@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "Subject: Complete your payment\r\n")

	s.sendMail = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("535 auth failed") }
	_, err = s.Send(context.Background(), "buyer@example.com", Message{Body: "hi"})
	assert.ErrorContains(t, err, "535")

	_, err = s.Send(context.Background(), "not-an-email", Message{Body: "hi"})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register(models.ChannelSMS, SenderFunc(func(ctx context.Context, recipient string, msg Message) (SendResult, error) {
		called = true
		return SendResult{MessageID: "x"}, nil
	}))

	_, err := r.Send(context.Background(), models.ChannelSMS, "1", Message{})
	require.NoError(t, err)
	assert.True(t, called)

	_, err = r.Send(context.Background(), models.ChannelEmail, "a@b.c", Message{})
	assert.ErrorIs(t, err, ErrNoSender)

	assert.NoError(t, r.Validate([]models.Channel{models.ChannelSMS}))
	assert.ErrorIs(t, r.Validate([]models.Channel{models.ChannelSMS, models.ChannelEmail}), ErrNoSender)
}

func TestBuildRegistry(t *testing.T) {
	log := zap.NewNop()

	r, err := BuildRegistry(config.ChannelsConfig{DryRun: true}, models.Channels, log)
	require.NoError(t, err)
	for _, ch := range models.Channels {
		_, ok := r.Get(ch)
		assert.True(t, ok, ch)
	}

	_, err = BuildRegistry(config.ChannelsConfig{}, []models.Channel{models.ChannelWhatsapp}, log)
	assert.NoError(t, err)

	_, err = BuildRegistry(config.ChannelsConfig{}, []models.Channel{models.ChannelSMS}, log)
	assert.ErrorIs(t, err, ErrNoSender)
}
