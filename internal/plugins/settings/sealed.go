package settings

import (
	"context"
	"fmt"
)

// SecretKeys are stored encrypted. Everything else is plaintext.
var SecretKeys = []string{KeyTwoFASecret, KeySSOClientSecret}

// sealedRepository wraps a SettingsRepository and encrypts SecretKeys on
// the way in and decrypts them on the way out. Callers see plaintext.
type sealedRepository struct {
	SettingsRepository
	box *cipherBox
}

// NewSealedRepository wraps repo so that secret values are encrypted at
// rest with a key derived from secret.
func NewSealedRepository(repo SettingsRepository, secret string) (SettingsRepository, error) {
	box, err := newCipherBox(secret)
	if err != nil {
		return nil, err
	}
	return &sealedRepository{SettingsRepository: repo, box: box}, nil
}

func isSecret(key string) bool {
	for _, k := range SecretKeys {
		if k == key {
			return true
		}
	}
	return false
}

func (r *sealedRepository) sealValue(key, value string) (string, error) {
	if !isSecret(key) {
		return value, nil
	}
	sealed, err := r.box.seal(value)
	if err != nil {
		return "", fmt.Errorf("encrypting %s: %w", key, err)
	}
	return sealed, nil
}

func (r *sealedRepository) openValue(key, value string) (string, error) {
	if !isSecret(key) {
		return value, nil
	}
	plain, err := r.box.open(value)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", key, err)
	}
	return plain, nil
}

func (r *sealedRepository) openAll(values map[string]string) (map[string]string, error) {
	for k, v := range values {
		plain, err := r.openValue(k, v)
		if err != nil {
			return nil, err
		}
		values[k] = plain
	}
	return values, nil
}

func (r *sealedRepository) Get(ctx context.Context, userID int64, key string) (string, bool, error) {
	v, ok, err := r.SettingsRepository.Get(ctx, userID, key)
	if err != nil || !ok {
		return v, ok, err
	}
	v, err = r.openValue(key, v)
	return v, err == nil, err
}

func (r *sealedRepository) GetSystem(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := r.SettingsRepository.GetSystem(ctx, key)
	if err != nil || !ok {
		return v, ok, err
	}
	v, err = r.openValue(key, v)
	return v, err == nil, err
}

func (r *sealedRepository) GetAllSystem(ctx context.Context) (map[string]string, error) {
	all, err := r.SettingsRepository.GetAllSystem(ctx)
	if err != nil {
		return nil, err
	}
	return r.openAll(all)
}

func (r *sealedRepository) SetSystem(ctx context.Context, key, value string) error {
	v, err := r.sealValue(key, value)
	if err != nil {
		return err
	}
	return r.SettingsRepository.SetSystem(ctx, key, v)
}

func (r *sealedRepository) SetUser(ctx context.Context, userID int64, key, value string) error {
	v, err := r.sealValue(key, value)
	if err != nil {
		return err
	}
	return r.SettingsRepository.SetUser(ctx, userID, key, v)
}

func (r *sealedRepository) GetUserValues(ctx context.Context, userID int64, keys ...string) (map[string]string, error) {
	values, err := r.SettingsRepository.GetUserValues(ctx, userID, keys...)
	if err != nil {
		return nil, err
	}
	return r.openAll(values)
}

func (r *sealedRepository) SetUserValues(ctx context.Context, userID int64, values map[string]string) error {
	sealed := make(map[string]string, len(values))
	for k, v := range values {
		s, err := r.sealValue(k, v)
		if err != nil {
			return err
		}
		sealed[k] = s
	}
	return r.SettingsRepository.SetUserValues(ctx, userID, sealed)
}

func (r *sealedRepository) UpdateUserValue(ctx context.Context, userID int64, key string, fn func(current string, found bool) (string, error)) error {
	return r.SettingsRepository.UpdateUserValue(ctx, userID, key, func(current string, found bool) (string, error) {
		plain := current
		if found {
			var err error
			if plain, err = r.openValue(key, current); err != nil {
				return "", err
			}
		}
		next, err := fn(plain, found)
		if err != nil {
			return "", err
		}
		return r.sealValue(key, next)
	})
}
