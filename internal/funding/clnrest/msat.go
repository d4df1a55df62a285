package clnrest

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// MilliSat is a millisatoshi amount as reported by the node. Depending on
// the node version the wire encoding is either a bare integer or a string
// with an "msat" suffix; both are accepted, anything else is rejected
// loudly rather than coerced.
type MilliSat int64

func (m *MilliSat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}

	if strings.HasPrefix(s, `"`) {
		var raw string
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		if !strings.HasSuffix(raw, "msat") {
			return fmt.Errorf("unexpected millisatoshi encoding %q", string(data))
		}
		v, err := strconv.ParseInt(strings.TrimSuffix(raw, "msat"), 10, 64)
		if err != nil {
			return fmt.Errorf("unexpected millisatoshi encoding %q", string(data))
		}
		*m = MilliSat(v)
		return nil
	}

	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("unexpected millisatoshi encoding %q", string(data))
	}
	*m = MilliSat(v)
	return nil
}

// satToMsat converts satoshi to millisatoshi. Integer arithmetic only;
// the conversion is exact for every non-negative amount.
func satToMsat(sat int64) int64 {
	return sat * 1000
}
