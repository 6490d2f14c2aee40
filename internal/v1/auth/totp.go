package auth

import (
	"github.com/pquerna/otp/totp"
)

// GenerateTOTPSecret provisions a new TOTP secret for a user enabling 2FA.
// Returns the base32 secret and the otpauth:// provisioning URL.
func GenerateTOTPSecret(username string) (secret, url string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "VeilChat",
		AccountName: username,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}

// ValidateTOTP reports whether code is currently valid for the secret.
func ValidateTOTP(secret, code string) bool {
	return totp.Validate(code, secret)
}
