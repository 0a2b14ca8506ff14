package database

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"smsrelay/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const line = "+15550001111"

func setupTestDB(t *testing.T) *Database {
	t.Helper()
	t.Setenv(EnvEnableEncryption, "false")

	db, err := New(filepath.Join(t.TempDir(), "data", "smsrelay-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// fixedClock lets tests control created_at ordering.
func fixedClock(db *Database, start time.Time) func(time.Duration) {
	current := start
	db.now = func() time.Time { return current }
	return func(d time.Duration) { current = current.Add(d) }
}

func newMessage(sid, from, body string) *models.Message {
	return &models.Message{
		ID:          uuid.NewString(),
		PhoneNumber: line,
		FromNumber:  from,
		BodyText:    body,
		DateSent:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		MessageSID:  sid,
	}
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)

	_, err = New("../escape.db")
	assert.Error(t, err)
}

func TestNew_ReopenKeepsData(t *testing.T) {
	t.Setenv(EnvEnableEncryption, "false")
	path := filepath.Join(t.TempDir(), "reopen.db")

	db, err := New(path)
	require.NoError(t, err)
	_, err = db.InsertMessage(context.Background(), newMessage("SM1", "+1555", "hello"))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = New(path)
	require.NoError(t, err)
	defer db.Close()

	n, err := db.CountMessages(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestInsertMessage_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first := newMessage("SM100", "+15551230000", "code: 123456")
	inserted, err := db.InsertMessage(ctx, first)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.False(t, first.CreatedAt.IsZero())

	dup := newMessage("SM100", "+15551230000", "different body")
	inserted, err = db.InsertMessage(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.True(t, dup.CreatedAt.IsZero())

	n, err := db.CountMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	last, err := db.GetLastMessage(ctx, line)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, first.ID, last.ID)
	assert.Equal(t, "code: 123456", last.BodyText)
}

func TestInsertMessage_Validation(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.InsertMessage(context.Background(), nil)
	assert.Error(t, err)

	_, err = db.InsertMessage(context.Background(), newMessage("", "+1", "x"))
	assert.Error(t, err)
}

func TestGetLastMessage(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	advance := fixedClock(db, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	msg, err := db.GetLastMessage(ctx, line)
	require.NoError(t, err)
	assert.Nil(t, msg)

	for i := 1; i <= 3; i++ {
		_, err := db.InsertMessage(ctx, newMessage(fmt.Sprintf("SM%d", i), "+1555", fmt.Sprintf("body %d", i)))
		require.NoError(t, err)
		advance(time.Second)
	}

	msg, err = db.GetLastMessage(ctx, line)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "SM3", msg.MessageSID)
	assert.Equal(t, "body 3", msg.BodyText)
	assert.True(t, msg.DateSent.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))

	other, err := db.GetLastMessage(ctx, "+19998887777")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestGetLastMessage_SameTimestampUsesInsertionOrder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	fixedClock(db, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	for _, sid := range []string{"SMa", "SMb"} {
		_, err := db.InsertMessage(ctx, newMessage(sid, "+1555", sid))
		require.NoError(t, err)
	}

	msg, err := db.GetLastMessage(ctx, line)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "SMb", msg.MessageSID)
}

func TestGetLastUnusedCode_ConsumeOnce(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	msg := newMessage("SM1", "+15551230000", "Your code: 4821")
	_, err := db.InsertMessage(ctx, msg)
	require.NoError(t, err)
	_, err = db.InsertCode(ctx, msg.ID, "4821")
	require.NoError(t, err)

	code, err := db.GetLastUnusedCode(ctx, line)
	require.NoError(t, err)
	require.NotNil(t, code)
	assert.Equal(t, "4821", code.Code)
	assert.Equal(t, msg.ID, code.SMSID)
	assert.True(t, code.Used)
	assert.Equal(t, "Your code: 4821", code.BodyText)
	assert.Equal(t, "+15551230000", code.FromNumber)

	again, err := db.GetLastUnusedCode(ctx, line)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestGetLastUnusedCode_NewestFirst(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	advance := fixedClock(db, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	for i, c := range []string{"1111", "2222", "3333"} {
		msg := newMessage(fmt.Sprintf("SM%d", i), "+1555", "code "+c)
		_, err := db.InsertMessage(ctx, msg)
		require.NoError(t, err)
		_, err = db.InsertCode(ctx, msg.ID, c)
		require.NoError(t, err)
		advance(time.Second)
	}

	var got []string
	for {
		code, err := db.GetLastUnusedCode(ctx, line)
		require.NoError(t, err)
		if code == nil {
			break
		}
		got = append(got, code.Code)
	}
	assert.Equal(t, []string{"3333", "2222", "1111"}, got)
}

func TestGetLastUnusedCodeFrom(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	advance := fixedClock(db, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	bank := newMessage("SM1", "+15550009999", "pin 7788")
	_, err := db.InsertMessage(ctx, bank)
	require.NoError(t, err)
	_, err = db.InsertCode(ctx, bank.ID, "7788")
	require.NoError(t, err)
	advance(time.Second)

	shop := newMessage("SM2", "+15551112222", "code 123456")
	_, err = db.InsertMessage(ctx, shop)
	require.NoError(t, err)
	_, err = db.InsertCode(ctx, shop.ID, "123456")
	require.NoError(t, err)

	code, err := db.GetLastUnusedCodeFrom(ctx, line, "+15550009999")
	require.NoError(t, err)
	require.NotNil(t, code)
	assert.Equal(t, "7788", code.Code)

	none, err := db.GetLastUnusedCodeFrom(ctx, line, "+15550009999")
	require.NoError(t, err)
	assert.Nil(t, none)

	// the other sender's code is untouched
	code, err = db.GetLastUnusedCode(ctx, line)
	require.NoError(t, err)
	require.NotNil(t, code)
	assert.Equal(t, "123456", code.Code)
}

func TestGetLastUnusedCode_ConcurrentConsumers(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	msg := newMessage("SM1", "+1555", "otp 902134")
	_, err := db.InsertMessage(ctx, msg)
	require.NoError(t, err)
	_, err = db.InsertCode(ctx, msg.ID, "902134")
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	results := make(chan *models.Code, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := db.GetLastUnusedCode(ctx, line)
			assert.NoError(t, err)
			results <- code
		}()
	}
	wg.Wait()
	close(results)

	delivered := 0
	for code := range results {
		if code != nil {
			delivered++
		}
	}
	assert.Equal(t, 1, delivered)
}

func TestInsertCode_OnePerMessage(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	msg := newMessage("SM1", "+1555", "code 1234")
	_, err := db.InsertMessage(ctx, msg)
	require.NoError(t, err)

	_, err = db.InsertCode(ctx, msg.ID, "1234")
	require.NoError(t, err)
	_, err = db.InsertCode(ctx, msg.ID, "5678")
	assert.Error(t, err)
}

func TestInsertCode_UnknownMessage(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.InsertCode(context.Background(), "missing", "1234")
	assert.Error(t, err)
}

func TestPruneOlderThan(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	advance := fixedClock(db, start)

	old := newMessage("SMold", "+1555", "code 1111")
	_, err := db.InsertMessage(ctx, old)
	require.NoError(t, err)
	_, err = db.InsertCode(ctx, old.ID, "1111")
	require.NoError(t, err)

	advance(6 * 24 * time.Hour)
	fresh := newMessage("SMnew", "+1555", "code 2222")
	_, err = db.InsertMessage(ctx, fresh)
	require.NoError(t, err)
	_, err = db.InsertCode(ctx, fresh.ID, "2222")
	require.NoError(t, err)

	advance(2 * 24 * time.Hour)
	removed, err := db.PruneOlderThan(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	n, err := db.CountMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var orphans int
	err = db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sms_codes WHERE sms_id = ?`, old.ID).Scan(&orphans)
	require.NoError(t, err)
	assert.Zero(t, orphans)

	code, err := db.GetLastUnusedCode(ctx, line)
	require.NoError(t, err)
	require.NotNil(t, code)
	assert.Equal(t, "2222", code.Code)

	removed, err = db.PruneOlderThan(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestPruneOlderThan_InvalidDays(t *testing.T) {
	db := setupTestDB(t)

	_, err := db.PruneOlderThan(context.Background(), 0)
	assert.Error(t, err)
}

func TestEncryptedBodyAtRest(t *testing.T) {
	enableEncryption(t)

	db, err := New(filepath.Join(t.TempDir(), "enc.db"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	msg := newMessage("SM1", "+1555", "Your code: 5566")
	_, err = db.InsertMessage(ctx, msg)
	require.NoError(t, err)
	_, err = db.InsertCode(ctx, msg.ID, "5566")
	require.NoError(t, err)

	var raw string
	err = db.db.QueryRowContext(ctx, `SELECT body_text FROM sms_messages WHERE id = ?`, msg.ID).Scan(&raw)
	require.NoError(t, err)
	assert.NotContains(t, raw, "5566")

	last, err := db.GetLastMessage(ctx, line)
	require.NoError(t, err)
	assert.Equal(t, "Your code: 5566", last.BodyText)

	code, err := db.GetLastUnusedCode(ctx, line)
	require.NoError(t, err)
	assert.Equal(t, "Your code: 5566", code.BodyText)
}

func TestPrefixedBodyWithoutEncryption(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	body := cipherPrefix + "your code 4821"
	msg := newMessage("SM1", "+15551230000", body)
	_, err := db.InsertMessage(ctx, msg)
	require.NoError(t, err)
	_, err = db.InsertCode(ctx, msg.ID, "4821")
	require.NoError(t, err)

	last, err := db.GetLastMessage(ctx, line)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, body, last.BodyText)

	code, err := db.GetLastUnusedCode(ctx, line)
	require.NoError(t, err)
	require.NotNil(t, code)
	assert.Equal(t, "4821", code.Code)
	assert.Equal(t, body, code.BodyText)

	again, err := db.GetLastUnusedCode(ctx, line)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestGetLastUnusedCode_DecryptFailureKeepsCode(t *testing.T) {
	enableEncryption(t)

	db, err := New(filepath.Join(t.TempDir(), "enc.db"))
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	msg := newMessage("SM1", "+1555", "Your code: 5566")
	_, err = db.InsertMessage(ctx, msg)
	require.NoError(t, err)
	_, err = db.InsertCode(ctx, msg.ID, "5566")
	require.NoError(t, err)

	keyed := db.encryptor
	db.encryptor = &encryptor{}

	_, err = db.GetLastUnusedCode(ctx, line)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to decrypt body")

	var used bool
	err = db.db.QueryRowContext(ctx, `SELECT used FROM sms_codes WHERE sms_id = ?`, msg.ID).Scan(&used)
	require.NoError(t, err)
	assert.False(t, used)

	db.encryptor = keyed
	code, err := db.GetLastUnusedCode(ctx, line)
	require.NoError(t, err)
	require.NotNil(t, code)
	assert.Equal(t, "5566", code.Code)
	assert.Equal(t, "Your code: 5566", code.BodyText)
}

func TestForeignKeysEnabled(t *testing.T) {
	db := setupTestDB(t)

	var enabled int
	require.NoError(t, db.db.QueryRow(`PRAGMA foreign_keys`).Scan(&enabled))
	assert.Equal(t, 1, enabled)
}
