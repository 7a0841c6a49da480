//go:build !tinygo

package main

// Host builds exclude the tinygo-tagged firmware entry point; this stub
// keeps the package linkable so `go build ./...` and `go test` work on
// the host. The real main is in main.go (tinygo build tag).
func main() {}
