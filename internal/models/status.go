package models

import "time"

// PollerState is the lifecycle state of the polling scheduler
type PollerState int

const (
	StateDisconnected PollerState = iota
	StateConnecting
	StatePolling
	StateStopped
)

func (s PollerState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Status is the point-in-time health projection of the poller
type Status struct {
	Connected   bool       `json:"connected"`
	PhoneNumber string     `json:"phoneNumber"`
	Polling     bool       `json:"polling"`
	LastChecked *time.Time `json:"lastChecked"`
	State       string     `json:"state"`
	Provider    string     `json:"provider"`
}
