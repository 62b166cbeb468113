package util

import (
	"os"
	"testing"
)

func TestInvalidPort(t *testing.T) {
	portString, err := ValidPort("8000")
	if err != nil {
		t.Fatalf("Should not have errored on valid string: %v", err)
	}
	if portString != ":8000" {
		t.Fatalf("Expected portstring be :8000 instead of %s", portString)
	}
	portString, err = ValidPort("80a")
	if err == nil {
		t.Fatalf("Expected error on invalid port")
	}
}

func TestRequireEnvCollectsErrors(t *testing.T) {
	os.Unsetenv("FAKE_ENV_VAR_ONE")
	os.Unsetenv("FAKE_ENV_VAR_TWO")
	varErrs := Errors{}
	RequireEnv("FAKE_ENV_VAR_ONE", &varErrs)
	RequireEnv("FAKE_ENV_VAR_TWO", &varErrs)
	if len(varErrs) != 2 {
		t.Fatalf("expected 2 errors, got %d", len(varErrs))
	}
	if varErrs.Error() == "" {
		t.Errorf("combined error message should name the missing variables")
	}
}

func TestEnvOrDefault(t *testing.T) {
	os.Unsetenv("FAKE_ENV_VAR")
	if got := EnvOrDefault("FAKE_ENV_VAR", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %s", got)
	}
	os.Setenv("FAKE_ENV_VAR", "value")
	defer os.Unsetenv("FAKE_ENV_VAR")
	if got := EnvOrDefault("FAKE_ENV_VAR", "fallback"); got != "value" {
		t.Errorf("expected value, got %s", got)
	}
}
