package validation

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"tgtriage/internal/constants"
	"tgtriage/internal/errors"
)

// ValidateAccountKey checks an account key. Empty is valid and selects the default session.
func ValidateAccountKey(account string) error {
	if len(account) > constants.MaxAccountKeyLength {
		return errors.NewValidationError("account", "", fmt.Sprintf("too long (max %d characters)", constants.MaxAccountKeyLength))
	}
	for _, char := range account {
		if unicode.IsControl(char) || char == '/' || char == '\\' {
			return errors.NewValidationError("account", "", "contains invalid characters")
		}
	}
	return nil
}

// ValidatePhoneNumber checks a phone number after stripping formatting characters.
// The messages are shown to the operator as is.
func ValidatePhoneNumber(phone string) error {
	if strings.TrimSpace(phone) == "" {
		return invalidPhone("phone number cannot be empty")
	}

	digits := DigitsOnly(phone)
	if len(digits) < constants.MinPhoneNumberLength {
		return invalidPhone(fmt.Sprintf("phone number must be at least %d digits", constants.MinPhoneNumberLength))
	}
	if len(digits) > constants.MaxPhoneNumberLength {
		return invalidPhone(fmt.Sprintf("phone number too long (max %d digits)", constants.MaxPhoneNumberLength))
	}

	for _, char := range phone {
		if !unicode.IsDigit(char) && !strings.ContainsRune("+ ()-.", char) {
			return invalidPhone("phone number contains invalid characters")
		}
	}
	return nil
}

func invalidPhone(message string) error {
	return errors.New(errors.ErrCodeInvalidInput, message).WithUserMessage(message)
}

// DigitsOnly drops every non-digit rune
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, char := range s {
		if char >= '0' && char <= '9' {
			b.WriteRune(char)
		}
	}
	return b.String()
}

// NormalizePhoneE164 turns operator input into +<digits>. Eleven digits
// starting with 7 or 8 and bare ten-digit numbers are treated as Russian numbers.
// Input without digits is returned unchanged.
func NormalizePhoneE164(phone string) string {
	digits := DigitsOnly(phone)
	if digits == "" {
		return phone
	}

	switch {
	case len(digits) == 11 && (digits[0] == '7' || digits[0] == '8'):
		return "+7" + digits[1:]
	case len(digits) == 10:
		return "+7" + digits
	case digits[0] == '7':
		return "+" + digits
	case strings.HasPrefix(phone, "+"):
		return phone
	default:
		return "+" + digits
	}
}

// ParseUsername strips a leading @ and checks the Telegram username alphabet
func ParseUsername(raw string) (string, error) {
	name := strings.TrimPrefix(strings.TrimSpace(raw), "@")
	if name == "" {
		return "", errors.NewValidationError("username", raw, "cannot be empty")
	}
	if len(name) < constants.MinUsernameLength || len(name) > constants.MaxUsernameLength {
		return "", errors.NewValidationError("username", raw,
			fmt.Sprintf("must be %d-%d characters", constants.MinUsernameLength, constants.MaxUsernameLength))
	}
	for _, char := range name {
		if !(char == '_' || (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9')) {
			return "", errors.NewValidationError("username", raw, "may contain only letters, digits and underscores")
		}
	}
	return name, nil
}

// ParseChatID parses a query-string chat id
func ParseChatID(raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, errors.NewRequiredError("chat_id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errors.NewValidationError("chat_id", raw, "must be an integer")
	}
	return id, nil
}

// ParseUserID accepts a JSON number or a numeric string
func ParseUserID(raw json.RawMessage) (int64, error) {
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, errors.NewRequiredError("invalid user_id")
		}
		n = json.Number(strings.TrimSpace(s))
	}

	if id, err := n.Int64(); err == nil {
		return id, nil
	}
	// 1.0 style numbers are accepted when they are whole
	if f, err := n.Float64(); err == nil && f == math.Trunc(f) && math.Abs(f) < math.MaxInt64 {
		return int64(f), nil
	}
	return 0, errors.NewRequiredError("invalid user_id")
}

// ValidateMessageText validates outgoing text
func ValidateMessageText(text string) error {
	if strings.TrimSpace(text) == "" {
		return errors.NewRequiredError("chat_id and text are required")
	}
	if len([]rune(text)) > constants.MaxMessageTextLength {
		return errors.NewValidationError("text", "", fmt.Sprintf("too long (max %d characters)", constants.MaxMessageTextLength))
	}
	return nil
}

// ParseLimit reads an optional positive limit, applying the default and cap
func ParseLimit(raw string, def, max int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewValidationError("limit", raw, "must be an integer")
	}
	if err := ValidateNumericRange(limit, "limit", 1, max); err != nil {
		return 0, err
	}
	return limit, nil
}

// ValidateHTTPRequestSize validates incoming HTTP request size
func ValidateHTTPRequestSize(r *http.Request, maxSizeBytes int64) error {
	if r.ContentLength > maxSizeBytes {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("request too large: %d bytes (max %d bytes)", r.ContentLength, maxSizeBytes)).
			WithUserMessage("Request body too large")
	}
	return nil
}

// ValidateNumericRange validates numeric values against bounds
func ValidateNumericRange(value int, fieldName string, min, max int) error {
	if value < min {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too small (min %d)", fieldName, min)).
			WithUserMessage(fmt.Sprintf("%s must be at least %d", fieldName, min))
	}

	if value > max {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max %d)", fieldName, max)).
			WithUserMessage(fmt.Sprintf("%s must be at most %d", fieldName, max))
	}

	return nil
}

// ValidateTimeout validates timeout values
func ValidateTimeout(timeoutSec int, fieldName string) error {
	if timeoutSec < 1 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s must be at least 1 second", fieldName))
	}

	if timeoutSec > 3600 {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("%s too large (max 3600 seconds)", fieldName))
	}

	return nil
}
