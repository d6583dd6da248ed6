package password

import "unicode/utf8"

// Validate checks password policy. It does not mutate input.
func (c Config) Validate(password string) error {
	// Count runes, not bytes, to be user-friendly.
	n := utf8.RuneCountInString(password)

	if n < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if n > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}
	return nil
}
