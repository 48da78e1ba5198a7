package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"tinko_recovery/internal/logger"
	"tinko_recovery/internal/services"
)

// sign_webhook signs a Razorpay-style payload with a merchant webhook secret and
// optionally delivers it, for exercising the webhook endpoint by hand.
func main() {
	secret := flag.String("secret", "", "Merchant webhook secret (mandatory, or WEBHOOK_SECRET)")
	file := flag.String("file", "", "Path to the JSON payload (mandatory, - for stdin)")
	url := flag.String("url", "", "Deliver to this webhook URL, e.g. http://localhost:8080/webhooks/razorpay/<api_key> (optional)")
	flag.Parse()

	_ = godotenv.Load()
	logger.Initialize("development")
	log := logger.Log

	if *secret == "" {
		*secret = os.Getenv("WEBHOOK_SECRET")
	}
	if *secret == "" || *file == "" {
		fmt.Println("Usage: sign_webhook -secret <secret> -file <payload.json> [-url <webhook url>]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	var body []byte
	var err error
	if *file == "-" {
		body, err = io.ReadAll(os.Stdin)
	} else {
		body, err = os.ReadFile(*file)
	}
	if err != nil {
		log.Fatal("Failed to read payload", zap.Error(err))
	}

	signature := services.SignWebhook(*secret, body)
	if *url == "" {
		fmt.Println(signature)
		return
	}

	req, err := http.NewRequest(http.MethodPost, *url, bytes.NewReader(body))
	if err != nil {
		log.Fatal("Invalid URL", zap.Error(err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(services.RazorpaySignatureHeader, signature)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatal("Delivery failed", zap.Error(err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Printf("%s\n%s\n", resp.Status, respBody)
}
