package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"tinko_recovery/internal/channels"
	"tinko_recovery/internal/config"
	"tinko_recovery/internal/logger"
	"tinko_recovery/internal/models"
)

// test_channel sends one message through a configured channel, to check provider
// credentials without going through a payment.
func main() {
	channel := flag.String("channel", "whatsapp", "Channel to use (whatsapp, sms, email)")
	to := flag.String("to", "", "Recipient: phone number for whatsapp/sms, address for email (mandatory)")
	msg := flag.String("msg", "Test message from the recovery engine", "Message body")
	subject := flag.String("subject", channels.DefaultSubject, "Subject line (email only)")
	flag.Parse()

	if *to == "" {
		fmt.Println("Usage: test_channel -channel <whatsapp|sms|email> -to <recipient> [-msg <text>]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	// Load envs
	_ = godotenv.Load()
	logger.Initialize("development")
	log := logger.Log

	ch, err := models.ParseChannel(*channel)
	if err != nil {
		log.Fatal("Invalid channel", zap.Error(err))
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	registry, err := channels.BuildRegistry(cfg.Channels, []models.Channel{ch}, log)
	if err != nil {
		log.Fatal("Channel is not configured", zap.Error(err))
	}

	recipient := *to
	if ch.NeedsPhone() {
		recipient = channels.NormalizeMSISDN(recipient)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	log.Info("Sending test message", zap.String("channel", string(ch)), zap.String("recipient", recipient))
	res, err := registry.Send(ctx, ch, recipient, channels.Message{Subject: *subject, Body: *msg})
	if err != nil {
		log.Fatal("Failed to send message", zap.Error(err))
	}

	log.Info("Message sent successfully", zap.String("message_id", res.MessageID))
}
