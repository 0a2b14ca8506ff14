package integration_test

import (
	"fmt"
	"sync/atomic"
	"time"
)

var sidCounter atomic.Int64

// CarrierMessage is one inbound SMS held by the fake carrier.
type CarrierMessage struct {
	SID      string
	From     string
	Body     string
	DateSent time.Time
}

func (m CarrierMessage) twilioJSON() map[string]string {
	return map[string]string{
		"sid":       m.SID,
		"from":      m.From,
		"to":        testPhone,
		"body":      m.Body,
		"date_sent": m.DateSent.UTC().Format(time.RFC1123Z),
		"direction": "inbound",
	}
}

// NewCarrierMessage builds a message sent age ago with a unique SID.
func NewCarrierMessage(from, body string, age time.Duration) CarrierMessage {
	return CarrierMessage{
		SID:      fmt.Sprintf("SM%032d", sidCounter.Add(1)),
		From:     from,
		Body:     body,
		DateSent: time.Now().Add(-age).Truncate(time.Second),
	}
}

// Common message bodies seen from verification senders.
var (
	BodyLabeledCode = "Your verification code is 482913. It expires in 10 minutes."
	BodyDashedCode  = "Use G-552901 to verify your account"
	BodyFourDigit   = "PIN: 7734"
	BodyNoCode      = "Thanks for signing up! Reply STOP to opt out."
)
