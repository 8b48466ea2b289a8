package rtspengine

import (
	"github.com/bluenviron/rtspengine/pkg/base"
)

// Credentials are the credentials used to authenticate against the server.
type Credentials struct {
	User string
	Pass string
}

// resolveCredentials merges explicit credentials with the ones in the URL.
// Explicit fields always win. URL credentials fill the missing fields.
func resolveCredentials(u *base.URL, user string, pass string) Credentials {
	ret := Credentials{
		User: user,
		Pass: pass,
	}

	if u.User != nil {
		if ret.User == "" {
			ret.User = u.User.Username()
		}
		if ret.Pass == "" {
			ret.Pass, _ = u.User.Password()
		}
	}

	return ret
}

func (c Credentials) isEmpty() bool {
	return c.User == "" && c.Pass == ""
}
