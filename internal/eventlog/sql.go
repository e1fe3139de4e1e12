package eventlog

const insertPingSQL = `
	INSERT INTO activation_ping (license_key, fingerprint, status, seen_at)
	VALUES (:license_key, :fingerprint, :status, :seen_at);
`

const insertWebhookEventSQL = `
	INSERT INTO webhook_event (event_id, event_type, classification, email, applied_days, payload, received_at)
	VALUES (:event_id, :event_type, :classification, :email, :applied_days, :payload, :received_at);
`

const insertDownloadSQL = `
	INSERT INTO download (ip, user_agent, referer, downloaded_at)
	VALUES (:ip, :user_agent, :referer, :downloaded_at);
`

const getRecentWebhookEventsSQL = `
	SELECT event_id, event_type, classification, email, applied_days, payload, received_at
	FROM webhook_event
	ORDER BY received_at DESC
	LIMIT ?;
`
