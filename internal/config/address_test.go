package config_test

import (
	"testing"

	"github.com/messa/logline/internal/config"
)

func TestParseAddress(t *testing.T) {
	cases := []struct {
		in       string
		wantHost string
		wantPort int
		wantErr  bool
	}{
		{"h:42", "h", 42, false},
		{":42", "", 42, false},
		{"42", "", 42, false},
		{"bad", "", 0, true},
		{"", "", 0, true},
	}
	for _, c := range cases {
		host, port, err := config.ParseAddress(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseAddress(%q): expected error, got host=%q port=%d", c.in, host, port)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseAddress(%q): unexpected error: %v", c.in, err)
			continue
		}
		if host != c.wantHost || port != c.wantPort {
			t.Errorf("ParseAddress(%q) = (%q, %d), want (%q, %d)", c.in, host, port, c.wantHost, c.wantPort)
		}
	}
}
