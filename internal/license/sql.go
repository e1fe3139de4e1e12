package license

// Placeholders are written as ? and rebound for the active driver.

const licenseColumns = `license_id, license_key, email, status, expires_at, created_at, updated_at, revision`

const getLicenseByKeySQL = `
	SELECT ` + licenseColumns + `
	FROM license
	WHERE license_key = ?;
`

const getLicensesByEmailSQL = `
	SELECT ` + licenseColumns + `
	FROM license
	WHERE email = ?
	ORDER BY license_id;
`

const getLicensesSQL = `
	SELECT ` + licenseColumns + `
	FROM license
	ORDER BY license_id;
`

const createLicenseSQL = `
	INSERT INTO license (license_key, email, status, expires_at, created_at, updated_at, revision)
	VALUES (?, ?, ?, ?, ?, ?, 0)
	RETURNING license_id;
`

// the revision predicate turns the update into a compare-and-swap
const updateLicenseSQL = `
	UPDATE license
	SET email = ?,
		status = ?,
		expires_at = ?,
		updated_at = ?,
		revision = revision + 1
	WHERE license_id = ? AND revision = ?;
`
