package main

import (
	"encoding/json"
	"net/http"
	"time"

	"smsrelay/internal/constants"
	"smsrelay/internal/errors"
	"smsrelay/internal/models"
	"smsrelay/internal/validation"

	"github.com/gorilla/mux"
)

type dataResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message string      `json:"message,omitempty"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type statusResponse struct {
	Success    bool          `json:"success"`
	Status     string        `json:"status"`
	SMSService models.Status `json:"sms_service"`
	Timestamp  string        `json:"timestamp"`
}

type rootResponse struct {
	Success   bool     `json:"success"`
	Message   string   `json:"message"`
	Version   string   `json:"version"`
	Endpoints []string `json:"endpoints"`
}

var endpoints = []string{
	"GET /api/last-sms - Get last SMS message",
	"GET /api/last-code - Get last 2FA code",
	"GET /api/last-code-from/{fromNumber} - Get last code from specific sender",
	"GET /api/status - Service status",
	"GET /health - Liveness probe",
	"GET /metrics - In-memory metrics",
}

func (s *Server) handleRoot() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, rootResponse{
			Success:   true,
			Message:   "SMS Polling Service",
			Version:   constants.ServiceVersion,
			Endpoints: endpoints,
		})
	}
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}
}

func (s *Server) handleLastSMS() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msg, err := s.store.GetLastMessage(r.Context(), s.phone)
		if err != nil {
			s.fail(w, r, errors.NewDatabaseError("get last message", err), "Failed to get last SMS")
			return
		}
		if msg == nil {
			s.writeJSON(w, http.StatusOK, dataResponse{Success: true, Message: "No SMS messages found"})
			return
		}
		s.writeJSON(w, http.StatusOK, dataResponse{Success: true, Data: msg})
	}
}

func (s *Server) handleLastCode() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code, err := s.store.GetLastUnusedCode(r.Context(), s.phone)
		if err != nil {
			s.fail(w, r, errors.NewDatabaseError("get last code", err), "Failed to get last code")
			return
		}
		if code == nil {
			s.writeJSON(w, http.StatusOK, dataResponse{Success: true, Message: "No codes found"})
			return
		}
		s.writeJSON(w, http.StatusOK, dataResponse{Success: true, Data: code})
	}
}

func (s *Server) handleLastCodeFrom() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		from, err := validation.NormalizeSender(mux.Vars(r)["fromNumber"])
		if err != nil {
			s.logger.WithError(err).Debug("Rejected sender path parameter")
			s.writeJSON(w, http.StatusBadRequest, errorResponse{Success: false, Error: "Invalid sender number"})
			return
		}

		code, err := s.store.GetLastUnusedCodeFrom(r.Context(), s.phone, from)
		if err != nil {
			s.fail(w, r, errors.NewDatabaseError("get last code from sender", err), "Failed to get last code from sender")
			return
		}
		if code == nil {
			s.writeJSON(w, http.StatusOK, dataResponse{Success: true, Message: "No codes found from this sender"})
			return
		}
		s.writeJSON(w, http.StatusOK, dataResponse{Success: true, Data: code})
	}
}

func (s *Server) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, statusResponse{
			Success:    true,
			Status:     "running",
			SMSService: s.poller.Status(),
			Timestamp:  s.now().UTC().Format(time.RFC3339Nano),
		})
	}
}

// fail logs the cause and answers 500 without leaking it.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, appErr *errors.AppError, public string) {
	s.errLog.LogError(errors.WithContextFromRequest(appErr, r.Context()), public)
	s.writeJSON(w, http.StatusInternalServerError, errorResponse{Success: false, Error: public})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}
