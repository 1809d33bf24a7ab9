// human readable and writable stdlib types
// which can be used inside config file
package model

import (
	"errors"
	"net/url"
	"os"
)

type URL struct {
	*url.URL
}

// UnmarshalText expands $VARIABLES before parsing, so secrets and hosts can
// come from the environment or a .env file.
func (u *URL) UnmarshalText(text []byte) error {
	if u == nil {
		return errors.New("can't unmarshal to nil")
	}
	parsed, err := url.Parse(os.ExpandEnv(string(text)))
	if err != nil {
		return err
	}
	u.URL = parsed
	return nil
}

func (u URL) MarshalText() ([]byte, error) {
	if u.URL == nil {
		return []byte{}, nil
	}
	return []byte(u.String()), nil
}
