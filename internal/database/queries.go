package database

// Message queries
const (
	InsertMessageQuery = `
		INSERT OR IGNORE INTO sms_messages (
			id, phone_number, from_number, body_text, date_sent, message_sid, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	SelectLastMessageQuery = `
		SELECT id, phone_number, from_number, body_text, date_sent, message_sid, created_at
		FROM sms_messages
		WHERE phone_number = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`

	CountMessagesQuery = `SELECT COUNT(*) FROM sms_messages`
)

// Code queries
const (
	InsertCodeQuery = `
		INSERT INTO sms_codes (sms_id, code, used, created_at)
		VALUES (?, ?, FALSE, ?)
	`

	SelectLastUnusedCodeQuery = `
		SELECT c.id, c.sms_id, c.code, c.used, c.created_at, s.body_text, s.from_number
		FROM sms_codes c
		JOIN sms_messages s ON c.sms_id = s.id
		WHERE s.phone_number = ? AND c.used = FALSE
		ORDER BY c.created_at DESC, c.id DESC
		LIMIT 1
	`

	SelectLastUnusedCodeFromQuery = `
		SELECT c.id, c.sms_id, c.code, c.used, c.created_at, s.body_text, s.from_number
		FROM sms_codes c
		JOIN sms_messages s ON c.sms_id = s.id
		WHERE s.phone_number = ? AND s.from_number = ? AND c.used = FALSE
		ORDER BY c.created_at DESC, c.id DESC
		LIMIT 1
	`

	MarkCodeUsedQuery = `UPDATE sms_codes SET used = TRUE WHERE id = ? AND used = FALSE`
)

// Retention queries
const (
	DeleteOldCodesQuery = `
		DELETE FROM sms_codes
		WHERE sms_id IN (SELECT id FROM sms_messages WHERE created_at < ?)
	`

	DeleteOldMessagesQuery = `DELETE FROM sms_messages WHERE created_at < ?`
)
