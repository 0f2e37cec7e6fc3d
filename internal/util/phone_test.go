package util_test

import (
	"errors"
	"testing"

	"github.com/example/sms-dispatch/internal/util"
)

func TestNormalizeGuatemalaNumber(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"plain eight digit", "+50255551234", "+50255551234"},
		{"nine digit subscriber", "+502555512345", "+502555512345"},
		{"internal spaces", "+502 5555 1234", "+50255551234"},
		{"surrounding whitespace", "  +50255551234\t", "+50255551234"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := util.NormalizeGuatemalaNumber(tc.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestNormalizeGuatemalaNumberRejections(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"wrong country code", "+50155551234"},
		{"no plus", "50255551234"},
		{"too short", "+5025555123"},
		{"too long", "+5025555123456"},
		{"letters", "+5025555123a"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := util.NormalizeGuatemalaNumber(tc.input); !errors.Is(err, util.ErrInvalidPhone) {
				t.Fatalf("expected ErrInvalidPhone, got %v", err)
			}
		})
	}
}
