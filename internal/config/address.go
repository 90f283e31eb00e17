package config

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/messa/logline/internal/errs"
)

var (
	hostPortRe = regexp.MustCompile(`^([^:]+):([0-9]+)$`)
	portOnlyRe = regexp.MustCompile(`^:?([0-9]+)$`)
)

// ParseAddress parses the "host:port", ":port", or bare "port" forms spec.md
// §6 requires. An empty host means wildcard/bind-all.
func ParseAddress(s string) (host string, port int, err error) {
	if m := hostPortRe.FindStringSubmatch(s); m != nil {
		p, err := strconv.Atoi(m[2])
		if err != nil {
			return "", 0, errs.New(errs.Config, "parse address", err)
		}
		return m[1], p, nil
	}
	if m := portOnlyRe.FindStringSubmatch(s); m != nil {
		p, err := strconv.Atoi(m[1])
		if err != nil {
			return "", 0, errs.New(errs.Config, "parse address", err)
		}
		return "", p, nil
	}
	return "", 0, errs.New(errs.Config, "parse address", fmt.Errorf("unknown address format: %q", s))
}
