package trial

const getTrialDeviceSQL = `
	SELECT fingerprint, email, trial_started_at, trial_expires_at, client_version, last_ip, last_seen_at
	FROM trial_device
	WHERE fingerprint = ?;
`

// first writer wins, later inserts are ignored
const insertTrialDeviceSQL = `
	INSERT INTO trial_device (fingerprint, email, trial_started_at, trial_expires_at, client_version, last_ip, last_seen_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (fingerprint) DO NOTHING;
`

// the trial window columns are deliberately absent
const touchTrialDeviceSQL = `
	UPDATE trial_device
	SET client_version = CASE WHEN ? = '' THEN client_version ELSE ? END,
		last_ip = CASE WHEN ? = '' THEN last_ip ELSE ? END,
		last_seen_at = ?
	WHERE fingerprint = ?;
`
