package tool

import (
	"fmt"
	"strconv"
	"strings"
)

// StringArg returns the trimmed string argument for key. Missing or non-string
// values yield "".
func StringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

// RequiredStringArg is StringArg that reports a blank value as an error.
func RequiredStringArg(args map[string]any, key string) (string, error) {
	s := StringArg(args, key)
	if s == "" {
		return "", fmt.Errorf("%s must not be empty", key)
	}
	return s, nil
}

// BoolArg returns the boolean argument for key. Models occasionally send
// booleans as strings ("true"), which are accepted as well.
func BoolArg(args map[string]any, key string, def bool) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}
