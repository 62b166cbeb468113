package util

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Errors collects the problems found while reading configuration so we
// can report all of them at once instead of failing on the first.
type Errors []error

func (e Errors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// RequireEnv returns the value of the named environment variable,
// recording an error in errs if it is unset or empty.
func RequireEnv(varName string, errs *Errors) string {
	envVar := os.Getenv(varName)
	if len(envVar) == 0 {
		*errs = append(*errs, fmt.Errorf("environment variable %s must be set", varName))
	}
	return envVar
}

// EnvOrDefault returns the value of the named environment variable, or
// fallback if it is unset or empty.
func EnvOrDefault(varName string, fallback string) string {
	envVar := os.Getenv(varName)
	if len(envVar) == 0 {
		envVar = fallback
	}
	return envVar
}

// ValidPort transforms the given port string into the ":<port>" form
// expected by net/http, validating that it is numeric.
func ValidPort(port string) (string, error) {
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("given portstring %s is invalid", port)
	}
	return fmt.Sprintf(":%s", port), nil
}
