// Package homedir resolves the current user's home directory, used
// for the default local state location.
package homedir

import (
	"os"
	"os/user"
)

func Get() string {
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return h
	}
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	usr, err := user.Current()
	if err != nil {
		panic(err)
	}
	return usr.HomeDir
}
