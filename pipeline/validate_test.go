package pipeline

import "testing"

func TestValidEmail(t *testing.T) {
	valid := []string{
		"a@example.com",
		"first.last@example.co.uk",
		"user+tag@example.org",
		"user%routed@sub.example.com",
		"user@bücher.example", // IDN domain normalizes to ASCII.
	}
	for _, address := range valid {
		if !ValidEmail(address) {
			t.Errorf("ValidEmail(%q) = false, want true", address)
		}
	}
	invalid := []string{
		"",
		"plainstring",
		"@example.com",
		"user@",
		"user@@example.com",
		"user..name@example.com",
		"user__name@example.com",
		"user--name@example.com",
		"user@example",
		"user@.example.com",
		"user name@example.com",
	}
	for _, address := range invalid {
		if ValidEmail(address) {
			t.Errorf("ValidEmail(%q) = true, want false", address)
		}
	}
}
