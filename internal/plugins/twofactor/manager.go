package twofactor

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"strconv"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/lolerskatez/landio/internal/apperror"
	"github.com/lolerskatez/landio/internal/plugins/settings"
)

// FactorStore is the slice of the settings repository that holds confirmed
// second-factor state.
type FactorStore interface {
	GetUserValues(ctx context.Context, userID int64, keys ...string) (map[string]string, error)
	SetUserValues(ctx context.Context, userID int64, values map[string]string) error
	DeleteUserValues(ctx context.Context, userID int64, keys ...string) error
	UpdateUserValue(ctx context.Context, userID int64, key string, fn func(current string, found bool) (string, error)) error
}

// Manager is the second-factor contract used by the orchestrator.
type Manager interface {
	// Begin generates a fresh secret and backup codes. Nothing is written to
	// the user's settings; calling it again replaces the pending attempt.
	Begin(ctx context.Context, userID int64, accountName string) (*Enrollment, error)

	// Confirm checks code against the pending secret and, on success, writes
	// flag, secret and backup codes in one transaction. An empty secret
	// means the pending one.
	Confirm(ctx context.Context, userID int64, secret, code string) error

	// Verify accepts a current TOTP code or an unused backup code. A backup
	// code is consumed. Failures are always InvalidCode.
	Verify(ctx context.Context, userID int64, code string) (Method, error)

	// Disable removes flag, secret and backup codes together.
	Disable(ctx context.Context, userID int64) error

	// Status reports enrollment and the number of unused backup codes.
	Status(ctx context.Context, userID int64) (Status, error)

	// IsEnrolled reports whether the user has an active second factor.
	IsEnrolled(ctx context.Context, userID int64) (bool, error)

	// RegenerateBackupCodes replaces the backup code set of an enrolled user.
	RegenerateBackupCodes(ctx context.Context, userID int64) ([]string, error)
}

// manager implements Manager.
type manager struct {
	store   FactorStore
	pending PendingStore
	issuer  string
	now     func() time.Time
}

// NewManager creates a second-factor manager. issuer is the name shown in
// authenticator apps.
func NewManager(store FactorStore, pending PendingStore, issuer string) Manager {
	return &manager{store: store, pending: pending, issuer: issuer, now: time.Now}
}

// errCodeGone signals that a matched backup code was consumed concurrently.
var errCodeGone = errors.New("backup code already used")

func (m *manager) Begin(ctx context.Context, userID int64, accountName string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      m.issuer,
		AccountName: accountName,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("generating totp secret: %w", err))
	}

	codes, hashes, err := generateBackupCodes(BackupCodeCount)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}

	qr, err := qrDataURL(key)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}

	p := &pendingEnrollment{Secret: key.Secret(), CodeHashes: hashes, CreatedAt: m.now().UTC()}
	if err := m.pending.Save(ctx, userID, p); err != nil {
		return nil, apperror.NewInternal(err)
	}

	return &Enrollment{
		Secret:      key.Secret(),
		OTPAuthURL:  key.URL(),
		QRCode:      qr,
		BackupCodes: codes,
	}, nil
}

func (m *manager) Confirm(ctx context.Context, userID int64, secret, code string) error {
	p, err := m.pending.Load(ctx, userID)
	if err != nil {
		return apperror.NewInternal(err)
	}
	if p == nil {
		return apperror.NewBadRequest("No two-factor setup is in progress. Start again.")
	}
	if secret != "" && subtle.ConstantTimeCompare([]byte(secret), []byte(p.Secret)) != 1 {
		return apperror.NewInvalidCode()
	}
	if !m.validTOTP(code, p.Secret) {
		return apperror.NewInvalidCode()
	}

	encoded, err := encodeHashes(p.CodeHashes)
	if err != nil {
		return apperror.NewInternal(err)
	}
	if err := m.store.SetUserValues(ctx, userID, map[string]string{
		settings.KeyTwoFAEnabled:     "true",
		settings.KeyTwoFASecret:      p.Secret,
		settings.KeyTwoFABackupCodes: encoded,
	}); err != nil {
		return apperror.NewInternal(fmt.Errorf("saving second factor: %w", err))
	}

	// The factor is live; a stale pending entry only expires.
	_ = m.pending.Delete(ctx, userID)
	return nil
}

func (m *manager) Verify(ctx context.Context, userID int64, code string) (Method, error) {
	vals, err := m.store.GetUserValues(ctx, userID, settings.TwoFactorKeys...)
	if err != nil {
		return "", apperror.NewInternal(fmt.Errorf("loading second factor: %w", err))
	}
	secret := vals[settings.KeyTwoFASecret]
	if !enabled(vals) || secret == "" {
		return "", apperror.NewNotEnrolled()
	}

	hashes, err := decodeHashes(vals[settings.KeyTwoFABackupCodes])
	if err != nil {
		return "", apperror.NewInternal(err)
	}

	// Both checks always run so timing does not reveal which one applied.
	totpOK := m.validTOTP(code, secret)
	candidate := hashBackupCode(code)
	backupOK := matchIndex(hashes, candidate) >= 0

	if totpOK {
		return MethodTOTP, nil
	}
	if !backupOK {
		return "", apperror.NewInvalidCode()
	}

	err = m.store.UpdateUserValue(ctx, userID, settings.KeyTwoFABackupCodes, func(current string, _ bool) (string, error) {
		live, err := decodeHashes(current)
		if err != nil {
			return "", err
		}
		idx := matchIndex(live, candidate)
		if idx < 0 {
			return "", errCodeGone
		}
		live = append(live[:idx], live[idx+1:]...)
		return encodeHashes(live)
	})
	if errors.Is(err, errCodeGone) {
		return "", apperror.NewInvalidCode()
	}
	if err != nil {
		return "", apperror.NewInternal(fmt.Errorf("consuming backup code: %w", err))
	}
	return MethodBackupCode, nil
}

func (m *manager) Disable(ctx context.Context, userID int64) error {
	if err := m.store.DeleteUserValues(ctx, userID, settings.TwoFactorKeys...); err != nil {
		return apperror.NewInternal(fmt.Errorf("removing second factor: %w", err))
	}
	_ = m.pending.Delete(ctx, userID)
	return nil
}

func (m *manager) Status(ctx context.Context, userID int64) (Status, error) {
	vals, err := m.store.GetUserValues(ctx, userID, settings.KeyTwoFAEnabled, settings.KeyTwoFABackupCodes)
	if err != nil {
		return Status{}, apperror.NewInternal(fmt.Errorf("loading second factor: %w", err))
	}
	if !enabled(vals) {
		return Status{}, nil
	}
	hashes, err := decodeHashes(vals[settings.KeyTwoFABackupCodes])
	if err != nil {
		return Status{}, apperror.NewInternal(err)
	}
	return Status{Enabled: true, BackupCodesRemaining: len(hashes)}, nil
}

func (m *manager) IsEnrolled(ctx context.Context, userID int64) (bool, error) {
	st, err := m.Status(ctx, userID)
	return st.Enabled, err
}

func (m *manager) RegenerateBackupCodes(ctx context.Context, userID int64) ([]string, error) {
	enrolled, err := m.IsEnrolled(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !enrolled {
		return nil, apperror.NewNotEnrolled()
	}

	codes, hashes, err := generateBackupCodes(BackupCodeCount)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	encoded, err := encodeHashes(hashes)
	if err != nil {
		return nil, apperror.NewInternal(err)
	}
	if err := m.store.SetUserValues(ctx, userID, map[string]string{settings.KeyTwoFABackupCodes: encoded}); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("saving backup codes: %w", err))
	}
	return codes, nil
}

// validTOTP checks a six-digit code with the configured skew. Malformed
// input is simply invalid.
func (m *manager) validTOTP(code, secret string) bool {
	ok, err := totp.ValidateCustom(normalizeCode(code), secret, m.now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func enabled(vals map[string]string) bool {
	b, _ := strconv.ParseBool(vals[settings.KeyTwoFAEnabled])
	return b
}

// qrDataURL renders the provisioning URL as a PNG data URL.
func qrDataURL(key *otp.Key) (string, error) {
	img, err := key.Image(qrSize, qrSize)
	if err != nil {
		return "", fmt.Errorf("rendering qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encoding qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
