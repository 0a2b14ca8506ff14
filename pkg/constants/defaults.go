package constants

// Default values used by the carrier client packages
const (
	DefaultHTTPTimeoutSec = 30
	DefaultPageSize       = 20
	MaxErrorBodyBytes     = 4096
)

// Base URLs of the hosted carrier APIs
const (
	TwilioAPIBaseURL = "https://api.twilio.com"
	PlivoAPIBaseURL  = "https://api.plivo.com"
)
