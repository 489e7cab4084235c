package logging

import (
	"regexp"
	"strings"
)

// Redacted replaces secret values in logs and config dumps.
const Redacted = "***REDACTED***"

var redactKeys = map[string]struct{}{
	"password":    {},
	"api_key":     {},
	"apikey":      {},
	"private_key": {},
	"secret":      {},
	"infura_key":  {},
	"sepolia_key": {},
}

// URL-valued keys whose last path segment may be a project key.
var urlKeys = map[string]struct{}{
	"rpc_url": {},
}

// RedactSettings returns a copy of a nested settings map with secrets masked.
func RedactSettings(settings map[string]any) map[string]any {
	out, _ := redactValue(settings).(map[string]any)
	return out
}

// RedactURL masks the project key of provider URLs such as
// https://sepolia.infura.io/v3/<key>.
func RedactURL(u string) string {
	i := strings.Index(u, "/v3/")
	if i < 0 || i+4 >= len(u) {
		return u
	}
	return u[:i+4] + Redacted
}

// projectKeyPattern matches the project key path segment of Infura (/v3/)
// and Alchemy (/v2/) endpoints wherever they appear in free text.
var projectKeyPattern = regexp.MustCompile(`(/v[23]/)[A-Za-z0-9_-]+`)

// RedactText masks provider project keys inside arbitrary text, such as the
// error strings go-ethereum builds from the endpoint URL.
func RedactText(s string) string {
	if !strings.Contains(s, "/v") {
		return s
	}
	return projectKeyPattern.ReplaceAllString(s, "${1}"+Redacted)
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

// RedactError returns err with project keys masked in its message. The
// original stays reachable through errors.Is and errors.As.
func RedactError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	masked := RedactText(msg)
	if masked == msg {
		return err
	}
	return &redactedError{msg: masked, err: err}
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			key := strings.ToLower(k)
			if _, ok := redactKeys[key]; ok {
				if s, isStr := vv.(string); isStr && s == "" {
					out[k] = ""
				} else {
					out[k] = Redacted
				}
				continue
			}
			if _, ok := urlKeys[key]; ok {
				if s, isStr := vv.(string); isStr {
					out[k] = RedactURL(s)
					continue
				}
			}
			out[k] = redactValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = redactValue(t[i])
		}
		return out
	default:
		return v
	}
}
