package logging

import (
	"net/url"
	"regexp"
)

const RedactedValue = "[REDACTED]"

// sensitiveKey matches setting and query parameter names whose values are
// credentials.
var sensitiveKey = regexp.MustCompile(`(?i)(pass(word|wd)?|secret|token|api[-_]?key|auth|credential|private[-_]?key|access[-_]?key)`)

var (
	bearerToken      = regexp.MustCompile(`(?i)bearer\s+[a-z0-9._-]{20,}`)
	credentialAssign = regexp.MustCompile(`(?i)\b(key|token|secret|password|auth)[=:]["']?[a-z0-9+/=_-]{32,}["']?`)

	// libpq keyword form: host=db user=grid password=...
	keywordPassword = regexp.MustCompile(`(?i)(password=)\S+`)
)

// Redact blanks bearer tokens and long credential assignments in free text.
func Redact(s string) string {
	s = bearerToken.ReplaceAllString(s, RedactedValue)
	return credentialAssign.ReplaceAllString(s, RedactedValue)
}

func IsSensitiveField(name string) bool {
	return sensitiveKey.MatchString(name)
}

// RedactMap copies a settings tree with credential values blanked and any
// connection strings passed through RedactDSN.
func RedactMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if IsSensitiveField(k) {
			out[k] = RedactedValue
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return RedactMap(v)
	case []any:
		items := make([]any, len(v))
		for i, item := range v {
			items[i] = redactValue(item)
		}
		return items
	case string:
		return RedactDSN(v)
	default:
		return v
	}
}

// RedactDSN hides the password in a postgres URL or keyword connection
// string. File paths and host:port addresses come back unchanged.
func RedactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return keywordPassword.ReplaceAllString(Redact(dsn), "${1}"+RedactedValue)
	}
	if _, hasPassword := u.User.Password(); hasPassword {
		u.User = url.UserPassword(u.User.Username(), RedactedValue)
	}
	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if IsSensitiveField(key) {
				q.Set(key, RedactedValue)
			}
		}
		u.RawQuery = q.Encode()
	}
	if plain, err := url.PathUnescape(u.String()); err == nil {
		return plain
	}
	return u.String()
}
