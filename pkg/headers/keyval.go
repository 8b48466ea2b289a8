package headers

import (
	"fmt"
	"strings"
)

// keyValParse parses a list of key=value pairs.
// Values can be enclosed in double quotes and then contain the separator.
func keyValParse(str string, separator byte) (map[string]string, error) {
	ret := make(map[string]string)
	rest := str

	for rest != "" {
		eq := strings.IndexByte(rest, '=')
		sep := strings.IndexByte(rest, separator)
		if eq < 0 || (sep >= 0 && sep < eq) {
			return nil, fmt.Errorf("unable to find key (%v)", str)
		}

		key := rest[:eq]
		rest = rest[eq+1:]

		var val string

		if strings.HasPrefix(rest, `"`) {
			end := strings.IndexByte(rest[1:], '"')
			if end < 0 {
				return nil, fmt.Errorf("apexes not closed (%v)", rest)
			}
			val = rest[1 : end+1]
			rest = rest[end+2:]
		} else {
			end := strings.IndexByte(rest, separator)
			if end < 0 {
				end = len(rest)
			}
			val = rest[:end]
			rest = rest[end:]
		}

		ret[key] = val

		if rest != "" && rest[0] == separator {
			rest = rest[1:]
		}
		rest = strings.TrimLeft(rest, " ")
	}

	return ret, nil
}
