// fwserve is the firmware origin the tracker pulls updates from. It
// serves one image over HTTP(S) with the length and SHA-256 digest
// headers the device validates, optionally behind a bearer token.
package main

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

const tokenEnvVar = "FWSERVE_TOKEN"

func main() {
	// Load .env file before parsing flags
	loadEnvFile()

	listen := flag.String("listen", ":8080", "Listen address")
	fwPath := flag.String("fw", "", "Firmware file to serve (.uf2 or raw binary, required)")
	urlPath := flag.String("path", "/firmware.bin", "URL path the image is served at")
	token := flag.String("token", "", "Bearer token (or use "+tokenEnvVar+" env var)")
	auth := flag.Bool("auth", false, "Require bearer auth, prompting for a token if none is set")
	certFile := flag.String("cert", "", "TLS certificate (serve plain HTTP when empty)")
	keyFile := flag.String("key", "", "TLS private key")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if *fwPath == "" {
		fmt.Fprintln(os.Stderr, "Usage: fwserve -fw <firmware.uf2|firmware.bin> [-listen :8080] [-auth]")
		os.Exit(1)
	}

	fw, err := loadFirmware(*fwPath)
	if err != nil {
		logger.Error("fwserve:load-failed", slog.String("err", err.Error()))
		os.Exit(1)
	}
	sum := sha256.Sum256(fw)
	digest := hex.EncodeToString(sum[:])

	bearer := getToken(*token, *auth)
	if *auth && bearer == "" {
		fmt.Fprintln(os.Stderr, "fwserve: -auth set but no token provided")
		os.Exit(1)
	}

	logger.Info("fwserve:serving",
		slog.String("fw", *fwPath),
		slog.Int("bytes", len(fw)),
		slog.String("sha256", digest),
		slog.String("listen", *listen),
		slog.Bool("auth", bearer != ""),
	)

	http.HandleFunc(*urlPath, firmwareHandler(logger, fw, digest, bearer))

	if *certFile != "" {
		err = http.ListenAndServeTLS(*listen, *certFile, *keyFile, nil)
	} else {
		err = http.ListenAndServe(*listen, nil)
	}
	logger.Error("fwserve:exit", slog.String("err", err.Error()))
	os.Exit(1)
}

// firmwareHandler serves the image with the headers the device checks.
func firmwareHandler(logger *slog.Logger, fw []byte, digest, bearer string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger.Info("fwserve:request",
			slog.String("remote", r.RemoteAddr),
			slog.String("method", r.Method),
		)
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if bearer != "" && !tokenMatches(r.Header.Get("Authorization"), bearer) {
			logger.Warn("fwserve:unauthorized", slog.String("remote", r.RemoteAddr))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", strconv.Itoa(len(fw)))
		w.Header().Set("X-Firmware-Sha256", digest)
		if r.Method == http.MethodHead {
			return
		}
		if _, err := w.Write(fw); err != nil {
			logger.Warn("fwserve:write-failed", slog.String("err", err.Error()))
		}
	}
}

// tokenMatches checks an Authorization header against the configured
// bearer token in constant time.
func tokenMatches(header, bearer string) bool {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	got := header[len(prefix):]
	return subtle.ConstantTimeCompare([]byte(got), []byte(bearer)) == 1
}

// loadFirmware reads the image, extracting the raw binary when given a
// UF2 container so a build artifact can be served directly.
func loadFirmware(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(strings.ToLower(path), ".uf2") {
		fw, err := extractUF2Binary(data)
		if err != nil {
			return nil, fmt.Errorf("extract UF2: %w", err)
		}
		return fw, nil
	}
	return data, nil
}

// getToken resolves the bearer token.
// Priority: flag > env > .env (already loaded) > interactive prompt.
func getToken(flagValue string, allowPrompt bool) string {
	if flagValue != "" {
		return flagValue
	}
	if envTok := os.Getenv(tokenEnvVar); envTok != "" {
		return envTok
	}
	if allowPrompt && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print("Token: ")
		tok, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err == nil && len(tok) > 0 {
			return string(tok)
		}
	}
	return ""
}

// loadEnvFile loads environment variables from .env file in current directory
func loadEnvFile() {
	data, err := os.ReadFile(".env")
	if err != nil {
		return // File doesn't exist or can't be read, that's fine
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present
		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}

		// Only set if not already set in environment
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
