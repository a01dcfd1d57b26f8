// Package twofactor manages TOTP second factors and their single-use backup
// codes. An enrollment is speculative until the user proves possession of
// the secret; only then are the enabled flag, the secret and the backup code
// set written, together, to the user's settings.
package twofactor

import "time"

const (
	// BackupCodeCount is the number of codes issued per enrollment or regeneration.
	BackupCodeCount = 10

	// totpPeriod and totpSkew accept codes from two steps either side of now.
	totpPeriod = 30
	totpSkew   = 2

	// pendingTTL bounds how long an unconfirmed enrollment survives.
	pendingTTL = 30 * time.Minute

	// qrSize is the edge length of the provisioning QR code in pixels.
	qrSize = 200
)

// Method names the mechanism that satisfied a verification.
type Method string

const (
	MethodTOTP       Method = "totp"
	MethodBackupCode Method = "backup_code"
)

// Enrollment is what a user needs to configure an authenticator app. The
// backup codes are shown once and never retrievable again.
type Enrollment struct {
	Secret      string   `json:"secret"`
	OTPAuthURL  string   `json:"otpauth_url"`
	QRCode      string   `json:"qr_code"` // data:image/png;base64,...
	BackupCodes []string `json:"backup_codes"`
}

// Status summarizes a user's second factor.
type Status struct {
	Enabled              bool `json:"enabled"`
	BackupCodesRemaining int  `json:"backup_codes_remaining"`
}

// pendingEnrollment is held in Redis between Begin and Confirm.
type pendingEnrollment struct {
	Secret     string    `json:"secret"`
	CodeHashes []string  `json:"code_hashes"`
	CreatedAt  time.Time `json:"created_at"`
}
