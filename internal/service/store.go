package service

import (
	"context"

	"smsrelay/internal/models"
)

// Store is the persistence used by the poller and the HTTP API.
type Store interface {
	InsertMessage(ctx context.Context, msg *models.Message) (bool, error)
	InsertCode(ctx context.Context, smsID, code string) (int64, error)
	GetLastMessage(ctx context.Context, phone string) (*models.Message, error)
	GetLastUnusedCode(ctx context.Context, phone string) (*models.Code, error)
	GetLastUnusedCodeFrom(ctx context.Context, phone, from string) (*models.Code, error)
}

// Pruner removes rows past the retention window.
type Pruner interface {
	PruneOlderThan(ctx context.Context, days int) (int64, error)
}
