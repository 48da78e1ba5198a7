package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"tinko_recovery/internal/models"
)

// DefaultMessageTemplate is the reminder text. Placeholders are replaced by the
// channel layer: $amount, $reason, $link, $merchant, $payment_id.
const DefaultMessageTemplate = "Hi! Your payment attempt didn't go through last time.\n" +
	"Amount: $amount\n" +
	"Reason: $reason\n" +
	"You can retry securely here: $link\n" +
	"If you already paid, you can ignore this message.\n" +
	"- Team Tinko"

// Step is one row of the retry policy table: fire Delay after the failure, on Channel.
type Step struct {
	Delay   time.Duration
	Channel models.Channel
}

// Policy drives the retry scheduler and the reconciliation sweep.
type Policy struct {
	Steps       []Step
	MaxAttempts int

	// ClaimTTL is how long an in-flight attempt may stay claimed before the sweep
	// treats the executor as dead and takes it again.
	ClaimTTL time.Duration

	// ArmHorizon bounds how far ahead the sweep loads attempts to arm timers
	// for. Later attempts are picked up by a later sweep.
	ArmHorizon time.Duration

	SweepRRule       string
	SweepConcurrency int

	MessageTemplate string
	RetryLinkBase   string
}

// DefaultPolicy mirrors the reminder cadence the product launched with.
func DefaultPolicy() Policy {
	return Policy{
		Steps: []Step{
			{Delay: 15 * time.Minute, Channel: models.ChannelWhatsapp},
			{Delay: 2 * time.Hour, Channel: models.ChannelSMS},
			{Delay: 24 * time.Hour, Channel: models.ChannelEmail},
		},
		MaxAttempts:      3,
		ClaimTTL:         10 * time.Minute,
		ArmHorizon:       time.Hour,
		SweepRRule:       "FREQ=MINUTELY;INTERVAL=5",
		SweepConcurrency: 5,
		MessageTemplate:  DefaultMessageTemplate,
	}
}

// Plan returns the steps that will actually be scheduled, capped at MaxAttempts.
func (p Policy) Plan() []Step {
	if p.MaxAttempts >= 0 && p.MaxAttempts < len(p.Steps) {
		return p.Steps[:p.MaxAttempts]
	}
	return p.Steps
}

// ChannelsInUse lists the distinct channels the plan can fire on.
func (p Policy) ChannelsInUse() []models.Channel {
	seen := make(map[models.Channel]bool)
	var out []models.Channel
	for _, st := range p.Plan() {
		if !seen[st.Channel] {
			seen[st.Channel] = true
			out = append(out, st.Channel)
		}
	}
	return out
}

// Validate checks the policy table. Delays must be strictly increasing so attempt
// numbers follow scheduled time.
func (p Policy) Validate() error {
	if len(p.Steps) == 0 {
		return fmt.Errorf("retry schedule is empty")
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must not be negative, got %d", p.MaxAttempts)
	}
	if p.MaxAttempts > len(p.Steps) {
		return fmt.Errorf("max attempts %d exceeds the %d scheduled steps", p.MaxAttempts, len(p.Steps))
	}
	var prev time.Duration = -1
	for i, st := range p.Steps {
		if _, err := models.ParseChannel(string(st.Channel)); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
		if st.Delay < 0 {
			return fmt.Errorf("step %d: negative delay %s", i+1, st.Delay)
		}
		if st.Delay <= prev {
			return fmt.Errorf("step %d: delay %s does not increase on previous step", i+1, st.Delay)
		}
		prev = st.Delay
	}
	if p.ClaimTTL <= 0 {
		return fmt.Errorf("claim ttl must be positive")
	}
	if p.ArmHorizon <= 0 {
		return fmt.Errorf("arm horizon must be positive")
	}
	if p.SweepConcurrency <= 0 {
		return fmt.Errorf("sweep concurrency must be positive")
	}
	return nil
}

// ParseSchedule reads "15m,2h,24h" or "whatsapp:15m,sms:2h,email:1d". Tokens
// without a channel use defaultChannel.
func ParseSchedule(raw string, defaultChannel models.Channel) ([]Step, error) {
	var steps []Step
	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		ch := defaultChannel
		delayStr := tok
		if name, rest, ok := strings.Cut(tok, ":"); ok {
			parsed, err := models.ParseChannel(name)
			if err != nil {
				return nil, err
			}
			ch, delayStr = parsed, rest
		}
		d, err := ParseDelay(delayStr)
		if err != nil {
			return nil, err
		}
		steps = append(steps, Step{Delay: d, Channel: ch})
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("no schedule entries in %q", raw)
	}
	return steps, nil
}

type policyFile struct {
	MaxAttempts      int    `yaml:"max_attempts"`
	ClaimTTL         string `yaml:"claim_ttl"`
	ArmHorizon       string `yaml:"arm_horizon"`
	SweepRRule       string `yaml:"sweep_rrule"`
	SweepConcurrency int    `yaml:"sweep_concurrency"`
	MessageTemplate  string `yaml:"message_template"`
	RetryLinkBase    string `yaml:"retry_link_base"`
	Schedule         []struct {
		Delay   string `yaml:"delay"`
		Channel string `yaml:"channel"`
	} `yaml:"schedule"`
}

// LoadPolicyFile reads the policy table from YAML. Environment variables in the
// file are expanded before parsing.
func LoadPolicyFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read policy file: %w", err)
	}
	return ParsePolicyYAML([]byte(os.ExpandEnv(string(data))))
}

// ParsePolicyYAML parses and validates a policy document.
func ParsePolicyYAML(data []byte) (Policy, error) {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy file: %w", err)
	}

	p := DefaultPolicy()
	p.Steps = nil
	for i, row := range f.Schedule {
		ch, err := models.ParseChannel(row.Channel)
		if err != nil {
			return Policy{}, fmt.Errorf("schedule[%d]: %w", i, err)
		}
		d, err := ParseDelay(row.Delay)
		if err != nil {
			return Policy{}, fmt.Errorf("schedule[%d]: %w", i, err)
		}
		p.Steps = append(p.Steps, Step{Delay: d, Channel: ch})
	}

	p.MaxAttempts = len(p.Steps)
	if f.MaxAttempts > 0 {
		p.MaxAttempts = f.MaxAttempts
	}
	if f.ClaimTTL != "" {
		d, err := ParseDelay(f.ClaimTTL)
		if err != nil {
			return Policy{}, fmt.Errorf("claim_ttl: %w", err)
		}
		p.ClaimTTL = d
	}
	if f.ArmHorizon != "" {
		d, err := ParseDelay(f.ArmHorizon)
		if err != nil {
			return Policy{}, fmt.Errorf("arm_horizon: %w", err)
		}
		p.ArmHorizon = d
	}
	if f.SweepRRule != "" {
		p.SweepRRule = f.SweepRRule
	}
	if f.SweepConcurrency > 0 {
		p.SweepConcurrency = f.SweepConcurrency
	}
	if f.MessageTemplate != "" {
		p.MessageTemplate = f.MessageTemplate
	}
	p.RetryLinkBase = f.RetryLinkBase

	return p, p.Validate()
}
