package privacy

import (
	"strconv"
	"strings"

	"tgtriage/internal/constants"
)

const defaultAccountLabel = "default"

// MaskPhoneNumber masks a phone number showing only the last 4 digits
// Example: "+79991234567" -> "+*******4567"
func MaskPhoneNumber(phone string) string {
	if phone == "" {
		return ""
	}

	keep := constants.DefaultPhoneMaskLength
	if strings.HasPrefix(phone, "+") {
		if len(phone) == 1 {
			return phone
		}
		return "+" + maskString(phone[1:], keep)
	}
	return maskString(phone, keep)
}

// MaskAccount masks an account key. The empty key is the default session and is shown as such.
func MaskAccount(account string) string {
	account = strings.TrimSpace(account)
	switch {
	case account == "":
		return defaultAccountLabel
	case strings.HasPrefix(account, "+") || (len(account) >= 10 && isNumeric(account)):
		return MaskPhoneNumber(account)
	default:
		return MaskSessionName(account)
	}
}

// MaskChatID keeps the last four digits of a chat or user id. The sign is kept
// because it distinguishes basic groups and channels from users.
func MaskChatID(chatID int64) string {
	s := strconv.FormatInt(chatID, 10)
	if strings.HasPrefix(s, "-") {
		return "-" + maskString(s[1:], 4)
	}
	return maskString(s, 4)
}

// MaskUsername keeps the first two characters of a public username
// Example: "@durov" -> "@du***"
func MaskUsername(username string) string {
	name := strings.TrimPrefix(strings.TrimSpace(username), "@")
	if name == "" {
		return ""
	}
	if len(name) <= 2 {
		return "@" + strings.Repeat("*", len(name))
	}
	return "@" + name[:2] + strings.Repeat("*", len(name)-2)
}

// MaskSessionName masks a session name while keeping some readability for debugging
// Example: "primary-session-user123" -> "primary-*******-****123"
func MaskSessionName(sessionName string) string {
	if sessionName == "" {
		return ""
	}

	parts := strings.Split(sessionName, "-")
	if len(parts) < 2 {
		return maskString(sessionName, 3)
	}

	var b strings.Builder
	b.WriteString(parts[0])
	for _, middle := range parts[1 : len(parts)-1] {
		b.WriteString("-")
		b.WriteString(strings.Repeat("*", len(middle)))
	}
	b.WriteString("-")
	b.WriteString(maskString(parts[len(parts)-1], 3))
	return b.String()
}

// maskString masks a string showing only the last n characters
func maskString(s string, keepLast int) string {
	if len(s) <= keepLast {
		return strings.Repeat("*", len(s))
	}
	return strings.Repeat("*", len(s)-keepLast) + s[len(s)-keepLast:]
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// MaskSensitiveFields applies appropriate masking to common logging fields
func MaskSensitiveFields(fields map[string]interface{}) map[string]interface{} {
	if fields == nil {
		return nil
	}

	masked := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		switch k {
		case "phone", "phone_number":
			masked[k] = maskWith(v, MaskPhoneNumber)
		case "account":
			masked[k] = maskWith(v, MaskAccount)
		case "session", "session_name":
			masked[k] = maskWith(v, MaskSessionName)
		case "username":
			masked[k] = maskWith(v, MaskUsername)
		case "chat_id", "user_id", "from_user_id":
			switch id := v.(type) {
			case int64:
				masked[k] = MaskChatID(id)
			case int:
				masked[k] = MaskChatID(int64(id))
			default:
				masked[k] = v
			}
		case "code", "password", "phone_code_hash":
			masked[k] = "[REDACTED]"
		default:
			masked[k] = v
		}
	}

	return masked
}

func maskWith(v interface{}, fn func(string) string) interface{} {
	if s, ok := v.(string); ok {
		return fn(s)
	}
	return v
}
