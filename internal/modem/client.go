package modem

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"fleetalert/internal/alert"
)

const (
	sessionPath = "/api/webserver/SesTokInfo"
	sendPath    = "/api/sms/send-sms"
)

// Session-expiry codes reported by the modem. A fresh token is acquired
// and the send retried transparently.
var sessionExpiredCodes = map[string]bool{
	"125001": true,
	"125002": true,
	"125003": true,
}

// Config tunes the driver's retry, timeout, and pacing behavior. Zero
// values take the documented defaults.
type Config struct {
	BaseURL string

	// SendTimeout bounds the send-sms request; TokenTimeout bounds the
	// session-token fetch.
	SendTimeout  time.Duration
	TokenTimeout time.Duration

	// SendBackoff is the descending schedule applied when the modem
	// reports a stale session; its length bounds the re-auth retries.
	// Other modem error codes fail the recipient immediately.
	SendBackoff []time.Duration

	// NetworkRetries/NetworkBackoff govern plain transport failures
	// (timeouts, connection resets).
	NetworkRetries int
	NetworkBackoff time.Duration

	// RecipientDelay is the mandatory pause between consecutive
	// recipients, protecting the modem from back-to-back submissions.
	RecipientDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.SendTimeout <= 0 {
		c.SendTimeout = 15 * time.Second
	}
	if c.TokenTimeout <= 0 {
		c.TokenTimeout = 5 * time.Second
	}
	if c.SendBackoff == nil {
		c.SendBackoff = []time.Duration{10 * time.Second, 7 * time.Second}
	}
	if c.NetworkRetries < 0 {
		c.NetworkRetries = 0
	} else if c.NetworkRetries == 0 {
		c.NetworkRetries = 2
	}
	if c.NetworkBackoff <= 0 {
		c.NetworkBackoff = 3 * time.Second
	}
	if c.RecipientDelay <= 0 {
		c.RecipientDelay = 2 * time.Second
	}
}

// Client drives a local cellular modem's HTTP/XML control API. It
// implements notify.Channel: recipients are serialized with a pacing
// delay and one recipient's failure never aborts the batch.
type Client struct {
	base        string
	cfg         Config
	httpClient  *http.Client
	tokenClient *http.Client

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// New validates the modem URL and builds the driver.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("modem base URL cannot be empty")
	}
	cfg.applyDefaults()
	return &Client{
		base:        strings.TrimRight(cfg.BaseURL, "/"),
		cfg:         cfg,
		httpClient:  &http.Client{Timeout: cfg.SendTimeout},
		tokenClient: &http.Client{Timeout: cfg.TokenTimeout},
		sleep:       time.Sleep,
	}, nil
}

func (c *Client) Name() string { return "sms" }

// Send submits the message to each recipient in turn. Every non-OK modem
// response, timeout, or reset counts that recipient as failed; the batch
// always runs to the end of the list.
func (c *Client) Send(ctx context.Context, recipients []string, message string) alert.DispatchResult {
	result := alert.DispatchResult{
		Transport:      c.Name(),
		RecipientCount: len(recipients),
	}

	if len(recipients) == 0 {
		result.Reason = alert.ReasonNoRecipients
		return result
	}
	if strings.TrimSpace(message) == "" {
		result.Reason = alert.ReasonInvalidMsg
		return result
	}

	for i, phone := range recipients {
		if i > 0 {
			c.sleep(c.cfg.RecipientDelay)
		}
		if err := c.sendOne(ctx, phone, message); err != nil {
			result.FailedCount++
			logrus.WithError(err).WithField("recipient", phone).Error("sms send failed")
			continue
		}
		result.SentCount++
	}
	return result
}

// sendOne delivers to a single recipient, acquiring a fresh session token
// per attempt and retrying per the configured schedules.
func (c *Client) sendOne(ctx context.Context, phone, message string) error {
	networkAttempts := 0
	modemAttempts := 0

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.attempt(ctx, phone, message)
		if err == nil {
			return nil
		}

		var modemErr *Error
		if asModemError(err, &modemErr) {
			// Only a stale session is worth retrying: the next attempt
			// acquires a fresh token. Other modem codes (sms disabled,
			// bad number) will not change on retry.
			if !modemErr.SessionExpired() {
				return err
			}
			if modemAttempts < len(c.cfg.SendBackoff) {
				delay := c.cfg.SendBackoff[modemAttempts]
				modemAttempts++
				logrus.WithFields(logrus.Fields{
					"recipient": phone,
					"code":      modemErr.Code,
					"retry_in":  delay,
				}).Warn("modem session expired, re-authenticating")
				c.sleep(delay)
				continue
			}
			return err
		}

		// Transport-level failure.
		if networkAttempts < c.cfg.NetworkRetries {
			networkAttempts++
			c.sleep(c.cfg.NetworkBackoff)
			continue
		}
		return err
	}
}

// attempt performs one token fetch plus one submission.
func (c *Client) attempt(ctx context.Context, phone, message string) error {
	ses, err := c.session(ctx)
	if err != nil {
		return err
	}
	return c.submit(ctx, ses, phone, message)
}

// session acquires a fresh cookie and verification token. Tokens are
// short-lived, so one is fetched per send attempt.
func (c *Client) session(ctx context.Context) (sessionInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+sessionPath, nil)
	if err != nil {
		return sessionInfo{}, fmt.Errorf("build token request: %w", err)
	}

	resp, err := c.tokenClient.Do(req)
	if err != nil {
		return sessionInfo{}, fmt.Errorf("fetch session token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return sessionInfo{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return sessionInfo{}, fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var ses sessionInfo
	if err := xml.Unmarshal(body, &ses); err != nil {
		return sessionInfo{}, fmt.Errorf("parse token response: %w", err)
	}
	if ses.Session == "" || ses.Token == "" {
		return sessionInfo{}, fmt.Errorf("token response missing session or token")
	}
	return ses, nil
}

// submit posts the fixed XML envelope for one recipient.
func (c *Client) submit(ctx context.Context, ses sessionInfo, phone, message string) error {
	envelope := smsRequest{
		Index:    -1,
		Phones:   phoneList{Phone: []string{phone}},
		Content:  message,
		Length:   len(message),
		Reserved: 1,
		Date:     time.Now().Format("2006-01-02 15:04:05"),
	}
	payload, err := xml.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal sms envelope: %w", err)
	}
	payload = append([]byte(xml.Header), payload...)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+sendPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "text/xml; charset=UTF-8")
	req.Header.Set("Cookie", ses.Session)
	req.Header.Set("__RequestVerificationToken", ses.Token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("submit sms: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("read send response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send endpoint returned %d", resp.StatusCode)
	}

	return parseSendResponse(body)
}
