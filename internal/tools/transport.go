package tools

import (
	"encoding/base64"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Fields that the front-end base64-encodes so arbitrary source text survives
// JSON transport unchanged.
var encodedFields = map[string][]string{
	"create":       {"luaCode", "source"},
	"modifyObject": {"luaCode", "source"},
	"editScript":   {"old_string", "new_string"},
	"insertLines":  {"lines"},
}

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

var systemPrefixes = []string{"[SUCCESS]", "[ERROR]", "[WARNING]", "[DEBUG]", "[INFO]", "✅", "⚠️"}

func looksLikeSystemMessage(s string) bool {
	for _, p := range systemPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return strings.Contains(s, "[INFO]")
}

// DecodeString reverses EncodeString. Anything that does not look like
// base64, or decodes to nothing usable, is returned unchanged.
func DecodeString(s string) string {
	if len(s) < 4 || looksLikeSystemMessage(s) || !base64Pattern.MatchString(s) {
		return s
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
		if err != nil {
			return s
		}
	}
	if len(decoded) == 0 || !utf8.Valid(decoded) {
		return s
	}
	return string(decoded)
}

func EncodeString(s string) string {
	if s == "" {
		return s
	}
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// DecodeArgs returns a copy of args with the tool's transport fields decoded.
func DecodeArgs(tool string, args map[string]any) map[string]any {
	return mapTransport(tool, args, DecodeString)
}

// EncodeArgs returns a copy of args with the tool's transport fields encoded.
func EncodeArgs(tool string, args map[string]any) map[string]any {
	return mapTransport(tool, args, EncodeString)
}

func mapTransport(tool string, args map[string]any, fn func(string) string) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = v
	}
	for _, field := range encodedFields[tool] {
		switch v := out[field].(type) {
		case string:
			out[field] = fn(v)
		case []any:
			lines := make([]any, len(v))
			for i, line := range v {
				if s, ok := line.(string); ok {
					lines[i] = fn(s)
				} else {
					lines[i] = line
				}
			}
			out[field] = lines
		case []string:
			lines := make([]string, len(v))
			for i, s := range v {
				lines[i] = fn(s)
			}
			out[field] = lines
		}
	}
	return out
}
