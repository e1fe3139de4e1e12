package webhook

const claimDeliverySQL = `
	INSERT INTO webhook_delivery (delivery_key, license_key, claimed_at)
	VALUES (?, ?, ?)
	ON CONFLICT (delivery_key, license_key) DO NOTHING;
`

const releaseDeliverySQL = `
	DELETE FROM webhook_delivery
	WHERE delivery_key = ? AND license_key = ?;
`
