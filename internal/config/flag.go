package config

import (
	"flag"
	"strings"
)

type stringSlice struct {
	p      *[]string
	wasSet bool
}

// StringSliceVar defines a list flag, values are separated by ',' or ';'.
// Repeated flags append to the list, the first one replaces the default.
func StringSliceVar(f *flag.FlagSet, p *[]string, name string, value string, usage string) {
	*p = parseList(value)
	f.Var(&stringSlice{p: p}, name, usage)
}

func (s *stringSlice) Set(v string) error {
	if s.wasSet {
		*s.p = append(*s.p, parseList(v)...)
	} else {
		*s.p = parseList(v)
		s.wasSet = true
	}
	return nil
}

func (s *stringSlice) String() string {
	if s == nil || s.p == nil {
		return ""
	}
	return strings.Join(*s.p, ",")
}

// parseList skips empty elements, so "" means an empty list.
func parseList(s string) []string {
	res := []string{}
	for _, v := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if v = strings.TrimSpace(v); v != "" {
			res = append(res, v)
		}
	}
	return res
}
