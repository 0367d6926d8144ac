package core

import "testing"

func TestParseEnvironment(t *testing.T) {
	cases := map[string]Environment{
		"production":  Production,
		"staging":     Staging,
		"testing":     Testing,
		"development": Development,
		"":            Development,
		"whatever":    Development,
	}
	for in, want := range cases {
		if got := ParseEnvironment(in); got != want {
			t.Errorf("ParseEnvironment(%q) = %s, want %s", in, got, want)
		}
	}
	if !Production.IsProduction() || Development.IsProduction() {
		t.Fatal("IsProduction misclassifies environments")
	}
}
