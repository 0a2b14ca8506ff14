package models

import (
	"time"
)

// UnknownSender is stored when the carrier does not report an origin number
const UnknownSender = "unknown"

// Message is an inbound SMS as stored in sms_messages
type Message struct {
	ID          string    `db:"id" json:"id"`
	PhoneNumber string    `db:"phone_number" json:"phone_number"`
	FromNumber  string    `db:"from_number" json:"from_number"`
	BodyText    string    `db:"body_text" json:"body_text"`
	DateSent    time.Time `db:"date_sent" json:"date_sent"`
	MessageSID  string    `db:"message_sid" json:"message_sid"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// Code is a one-time passcode extracted from a Message. BodyText and
// FromNumber are joined in from the parent message on lookup.
type Code struct {
	ID         int64     `db:"id" json:"id"`
	SMSID      string    `db:"sms_id" json:"sms_id"`
	Code       string    `db:"code" json:"code"`
	Used       bool      `db:"used" json:"used"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	BodyText   string    `db:"body_text" json:"body_text"`
	FromNumber string    `db:"from_number" json:"from_number"`
}
