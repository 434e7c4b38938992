package validation

import (
	"strings"
	"testing"
)

type sample struct {
	Name  string `validate:"required,identifier"`
	Kind  string `validate:"oneof=CRON SIMPLE"`
	Count int    `validate:"min=1,max=10"`
}

func TestStructReportsEveryField(t *testing.T) {
	err := Struct(&sample{Name: "bad name!", Kind: "WEEKLY", Count: 0})
	if err == nil {
		t.Fatal("Expected validation error")
	}
	for _, want := range []string{"Name", "Kind", "Count"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Expected error mentioning %s, got: %v", want, err)
		}
	}

	if err := Struct(&sample{Name: "nightly-chaos", Kind: "CRON", Count: 3}); err != nil {
		t.Errorf("Expected valid struct, got %v", err)
	}
}

func TestIdentifier(t *testing.T) {
	valid := []string{"plugin.http", "scheduler", "node-1", "a:b"}
	for _, s := range valid {
		if err := ValidateIdentifier("name", s); err != nil {
			t.Errorf("%q: unexpected error %v", s, err)
		}
	}

	invalid := []string{"", "-leading", "has space", strings.Repeat("x", MaxIdentifierLength+1)}
	for _, s := range invalid {
		if IsIdentifier(s) {
			t.Errorf("%q: expected invalid identifier", s)
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	if err := RegisterValidation("even_len", func(v string) bool { return len(v)%2 == 0 }); err != nil {
		t.Fatalf("RegisterValidation: %v", err)
	}

	type evenOnly struct {
		V string `validate:"even_len"`
	}
	if err := Struct(&evenOnly{V: "abc"}); err == nil {
		t.Error("Expected custom validator to reject odd length")
	}
	if err := Struct(&evenOnly{V: "ab"}); err != nil {
		t.Errorf("Expected custom validator to accept even length, got %v", err)
	}
}
