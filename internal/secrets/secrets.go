// Package secrets resolves credential values that reference the
// environment or a mounted secret file, so config.yaml never has to hold
// the secret itself.
//
// A value is resolved as follows:
//
//	"file:/run/secrets/mysql"  contents of the file, trailing newline trimmed
//	"${MYSQL_PASSWORD}"        the environment variable, which must be set
//	"${MQTT_PASS:-guest}"      the variable, or "guest" when unset
//	"literal"                  unchanged
package secrets

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/idconsensus/internal/errors"
	"github.com/tphakala/idconsensus/internal/logger"
)

const (
	filePrefix = "file:"

	// secrets are tokens and passwords, not documents
	maxSecretFileSize = 64 * 1024
)

// Resolve returns the secret value referenced by value.
func Resolve(field, value string) (string, error) {
	if path, ok := strings.CutPrefix(value, filePrefix); ok {
		return ReadFile(field, path)
	}
	return ExpandString(field, value)
}

// ExpandString expands ${VAR} and ${VAR:-default} references. A variable
// without a default must be set and non-empty.
func ExpandString(field, s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if v := os.Getenv(name); v != "" {
			return v
		}
		if !hasFallback {
			missing = append(missing, name)
		}
		return fallback
	})

	if len(missing) > 0 {
		return "", errors.Newf("missing environment variable(s) %s", strings.Join(missing, ", ")).
			Component("secrets").
			Category(errors.CategoryConfiguration).
			Context("field", field).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret from a regular file such as a Docker or
// Kubernetes secret mount. Files readable by group or others are accepted
// with a warning.
func ReadFile(field, path string) (string, error) {
	if path == "" {
		return "", fileError(field, path, "secret file path is empty", nil)
	}
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	switch {
	case err != nil:
		return "", fileError(field, clean, "cannot stat secret file", err)
	case !info.Mode().IsRegular():
		return "", fileError(field, clean, "secret path is not a regular file", nil)
	case info.Size() > maxSecretFileSize:
		return "", fileError(field, clean, "secret file too large", nil)
	}

	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Global().Module("secrets").Warn("secret file is readable by group or others",
			logger.String("field", field),
			logger.String("path", clean),
			logger.String("mode", perm.String()))
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return "", fileError(field, clean, "cannot read secret file", err)
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", fileError(field, clean, "secret file is empty", nil)
	}
	return secret, nil
}

func fileError(field, path, msg string, cause error) error {
	var b *errors.ErrorBuilder
	if cause != nil {
		b = errors.New(cause)
	} else {
		b = errors.Newf("%s", msg)
	}
	return b.Component("secrets").
		Category(errors.CategoryConfiguration).
		Context("field", field).
		Context("path", path).
		Context("reason", msg).
		Build()
}
