package database

// Pending sign-in challenge queries
const (
	UpsertPendingLoginQuery = `
		INSERT INTO pending_logins (phone_hash, phone, phone_code_hash, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(phone_hash) DO UPDATE SET
			phone = excluded.phone,
			phone_code_hash = excluded.phone_code_hash,
			created_at = excluded.created_at
	`

	SelectPendingLoginQuery = `
		SELECT phone, phone_code_hash, created_at
		FROM pending_logins
		WHERE phone_hash = ?
	`

	DeletePendingLoginQuery = `
		DELETE FROM pending_logins WHERE phone_hash = ?
	`

	PurgePendingLoginsQuery = `
		DELETE FROM pending_logins WHERE created_at < ?
	`

	CountPendingLoginsQuery = `
		SELECT COUNT(*) FROM pending_logins
	`
)
