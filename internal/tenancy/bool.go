package tenancy

import (
	"fmt"
	"strings"
)

// ParseBool normalizes the boolean encodings raw catalog queries come back
// with: native bool, text ('t', 'true', 'yes', 'on', '1'), bytes, integers
// and NULL. Every existence probe funnels through here.
func ParseBool(v any) (bool, error) {
	switch b := v.(type) {
	case nil:
		return false, nil
	case bool:
		return b, nil
	case *bool:
		return b != nil && *b, nil
	case string:
		return parseBoolText(b)
	case []byte:
		return parseBoolText(string(b))
	case int:
		return b != 0, nil
	case int16:
		return b != 0, nil
	case int32:
		return b != 0, nil
	case int64:
		return b != 0, nil
	}
	return false, fmt.Errorf("tenancy: unsupported boolean encoding %T", v)
}

func parseBoolText(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t", "true", "y", "yes", "on", "1":
		return true, nil
	case "f", "false", "n", "no", "off", "0", "":
		return false, nil
	}
	return false, fmt.Errorf("tenancy: unrecognized boolean %q", s)
}
