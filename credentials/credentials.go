package credentials

import (
	_ "embed"
	"strings"
)

var (
	//go:embed ssid.text
	ssid string
	//go:embed password.text
	pass string
)

// SSID returns the contents of the ssid.text file in this package.
// Fill ssid.text and password.text with the network this unit joins
// before building; the build fails if the files are missing.
func SSID() string {
	return strings.TrimSpace(ssid)
}

// Password returns the contents of the password.text file in this
// package.
func Password() string {
	return strings.TrimSpace(pass)
}
