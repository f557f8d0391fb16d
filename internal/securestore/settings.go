package securestore

import "github.com/illarion/privkeep/internal/session"

// Setting keys understood by the security layer
const (
	KeyAutoLockMinutes  = "security.autoLockMinutes"
	KeyBiometricEnabled = "security.biometricEnabled"
)

// AutoLockMinutes returns the persisted auto-lock timeout, defaulting to 15
func (s *Store) AutoLockMinutes() (int, error) {
	minutes := session.DefaultAutoLockMinutes
	if _, err := s.GetSetting(KeyAutoLockMinutes, &minutes); err != nil {
		return session.DefaultAutoLockMinutes, err
	}
	return minutes, nil
}

// SetAutoLockMinutes persists the auto-lock timeout
func (s *Store) SetAutoLockMinutes(minutes int) error {
	return s.SaveSetting(KeyAutoLockMinutes, minutes)
}

// BiometricEnabled returns the persisted biometric flag, defaulting to false
func (s *Store) BiometricEnabled() (bool, error) {
	var enabled bool
	if _, err := s.GetSetting(KeyBiometricEnabled, &enabled); err != nil {
		return false, err
	}
	return enabled, nil
}

// SetBiometricEnabled persists the biometric flag
func (s *Store) SetBiometricEnabled(enabled bool) error {
	return s.SaveSetting(KeyBiometricEnabled, enabled)
}
