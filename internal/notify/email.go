package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/containrrr/shoutrrr"
	"github.com/sirupsen/logrus"

	"fleetalert/internal/alert"
)

// Sender abstracts message dispatch so the email channel can be tested
// without hitting a real mail relay.
type Sender interface {
	Send(shoutrrrURL, message string) error
}

// ShoutrrrSender dispatches via the Shoutrrr library.
type ShoutrrrSender struct{}

func (ShoutrrrSender) Send(url, message string) error {
	return shoutrrr.Send(url, message)
}

// EmailChannel delivers operator messages over a Shoutrrr smtp URL. Each
// recipient is sent individually so one bad address never fails the rest.
type EmailChannel struct {
	url    string
	sender Sender
}

// NewEmailChannel creates the channel. A nil sender uses Shoutrrr.
func NewEmailChannel(shoutrrrURL string, sender Sender) *EmailChannel {
	if sender == nil {
		sender = ShoutrrrSender{}
	}
	return &EmailChannel{url: shoutrrrURL, sender: sender}
}

func (e *EmailChannel) Name() string { return "email" }

// Send delivers the message to every recipient, counting failures
// individually.
func (e *EmailChannel) Send(ctx context.Context, recipients []string, message string) alert.DispatchResult {
	result := alert.DispatchResult{
		Transport:      e.Name(),
		RecipientCount: len(recipients),
	}

	if e.url == "" {
		result.Reason = alert.ReasonNotConfigured
		return result
	}
	if len(recipients) == 0 {
		result.Reason = alert.ReasonNoRecipients
		return result
	}
	if strings.TrimSpace(message) == "" {
		result.Reason = alert.ReasonInvalidMsg
		return result
	}

	for _, to := range recipients {
		if ctx.Err() != nil {
			result.FailedCount = result.RecipientCount - result.SentCount
			break
		}
		if err := e.sender.Send(e.urlFor(to), message); err != nil {
			result.FailedCount++
			logrus.WithError(err).WithField("recipient", to).Error("email send failed")
			continue
		}
		result.SentCount++
	}
	return result
}

func (e *EmailChannel) urlFor(recipient string) string {
	sep := "?"
	if strings.Contains(e.url, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%sto=%s", e.url, sep, url.QueryEscape(recipient))
}
