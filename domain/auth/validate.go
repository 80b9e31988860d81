package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"unicode"

	"github.com/artpar/faunagate/core/schema"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// SignupRequest is a user sign-up.
type SignupRequest struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// ValidateSignup checks the password rules of a sign-up. Field rules
// are checked by the User model.
func ValidateSignup(req SignupRequest) error {
	var ve schema.ValidationError
	if msg := passwordProblem(req.Password); msg != "" {
		ve.Add(schema.FieldError{Field: "password", Kind: schema.KindWrongType, Message: msg})
	}
	if req.Username == "" {
		ve.Add(schema.FieldError{Field: FieldUsername, Kind: schema.KindMissingRequired, Message: "this field is required"})
	}
	return ve.Err()
}

// ChangePasswordRequest is a password change by a logged in user.
type ChangePasswordRequest struct {
	CurrentPassword string
	NewPassword     string
}

// ValidateChangePassword checks a password change.
func ValidateChangePassword(req ChangePasswordRequest) error {
	var ve schema.ValidationError
	if req.CurrentPassword == "" {
		ve.Add(schema.FieldError{Field: "current_password", Kind: schema.KindMissingRequired, Message: "this field is required"})
	}
	switch msg := passwordProblem(req.NewPassword); {
	case msg != "":
		ve.Add(schema.FieldError{Field: "new_password", Kind: schema.KindWrongType, Message: msg})
	case req.NewPassword == req.CurrentPassword:
		ve.Add(schema.FieldError{Field: "new_password", Kind: schema.KindWrongType, Message: "new password must be different from current password"})
	}
	return ve.Err()
}

// ValidateResetPassword checks the new password of a forgot-password change.
func ValidateResetPassword(key, password string) error {
	var ve schema.ValidationError
	if key == "" {
		ve.Add(schema.FieldError{Field: "key", Kind: schema.KindMissingRequired, Message: "reset key is required"})
	}
	if msg := passwordProblem(password); msg != "" {
		ve.Add(schema.FieldError{Field: "password", Kind: schema.KindWrongType, Message: msg})
	}
	return ve.Err()
}

// HashKey hashes a verification or reset key for storage and lookup.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

func passwordProblem(password string) string {
	switch {
	case password == "":
		return "password is required"
	case len(password) < MinPasswordLength:
		return "password must be at least 8 characters"
	case !isStrongPassword(password):
		return "password must contain uppercase, lowercase, and number"
	}
	return ""
}

func isStrongPassword(password string) bool {
	var hasUpper, hasLower, hasDigit bool
	for _, c := range password {
		switch {
		case unicode.IsUpper(c):
			hasUpper = true
		case unicode.IsLower(c):
			hasLower = true
		case unicode.IsDigit(c):
			hasDigit = true
		}
	}
	return hasUpper && hasLower && hasDigit
}

// PasswordStrength returns a score from 0-4 for password strength.
func PasswordStrength(password string) int {
	score := 0

	if len(password) >= 8 {
		score++
	}
	if len(password) >= 12 {
		score++
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, c := range password {
		switch {
		case unicode.IsUpper(c):
			hasUpper = true
		case unicode.IsLower(c):
			hasLower = true
		case unicode.IsDigit(c):
			hasDigit = true
		case unicode.IsPunct(c) || unicode.IsSymbol(c):
			hasSpecial = true
		}
	}

	if hasUpper && hasLower {
		score++
	}
	if hasDigit && hasSpecial {
		score++
	}

	return score
}
