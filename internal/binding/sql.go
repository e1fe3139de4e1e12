package binding

const activationColumns = `activation_id, license_id, fingerprint, first_seen_at, last_seen_at, status`

const getActiveActivationSQL = `
	SELECT ` + activationColumns + `
	FROM activation
	WHERE license_id = ? AND status = 'active';
`

// idx_activation_one_active makes a losing concurrent insert a no-op
const insertActivationSQL = `
	INSERT INTO activation (license_id, fingerprint, first_seen_at, last_seen_at, status)
	VALUES (?, ?, ?, ?, 'active')
	ON CONFLICT DO NOTHING;
`

const touchActivationSQL = `
	UPDATE activation
	SET last_seen_at = ?
	WHERE activation_id = ?;
`

const releaseActivationSQL = `
	UPDATE activation
	SET status = 'revoked'
	WHERE license_id = ? AND fingerprint = ? AND status = 'active';
`

const revokeActivationsSQL = `
	UPDATE activation
	SET status = 'revoked'
	WHERE license_id = ? AND status = 'active';
`

const getActivationsSQL = `
	SELECT ` + activationColumns + `
	FROM activation
	WHERE license_id = ?
	ORDER BY activation_id;
`
