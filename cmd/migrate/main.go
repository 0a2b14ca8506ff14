// Command migrate applies the embedded schema to an smsrelay database and
// optionally prunes old messages.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"smsrelay/internal/database"

	"github.com/sirupsen/logrus"
)

func main() {
	dbPath := flag.String("db", "./data/smsrelay.db", "Path to the database file")
	pruneDays := flag.Int("prune-days", 0, "Delete messages older than this many days (0 keeps everything)")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := run(context.Background(), *dbPath, *pruneDays, os.Stdout, logger); err != nil {
		logger.WithError(err).Fatal("Migration failed")
	}
}

func run(ctx context.Context, dbPath string, pruneDays int, out io.Writer, logger *logrus.Logger) error {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		logger.WithField("path", dbPath).Info("Database file not found, creating it")
	}

	db, err := database.New(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if pruneDays > 0 {
		removed, err := db.PruneOlderThan(ctx, pruneDays)
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"retention_days": pruneDays,
			"removed":        removed,
		}).Info("Pruned old messages")
	}

	count, err := db.CountMessages(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Schema up to date: %s (%d messages stored)\n", dbPath, count)
	return nil
}
