// Package flags provides reusable flag types for CLI commands.
package flags

import (
	"fmt"
	"net/http"
	"strings"
)

// Header implements pflag.Value for repeatable "Name: value" header flags.
type Header http.Header

// String returns the headers as a comma separated list.
func (h *Header) String() string {
	if h == nil || len(*h) == 0 {
		return ""
	}
	parts := make([]string, 0, len(*h))
	for name, values := range *h {
		for _, v := range values {
			parts = append(parts, name+": "+v)
		}
	}
	return strings.Join(parts, ",")
}

// Set parses one "Name: value" or "Name=value" header and adds it.
func (h *Header) Set(value string) error {
	name, val, ok := cutHeader(value)
	if !ok {
		return fmt.Errorf("invalid header %q: expected Name: value", value)
	}
	if *h == nil {
		*h = Header{}
	}
	http.Header(*h).Add(name, val)
	return nil
}

// Type specifies the type label for Cobra flags.
func (h *Header) Type() string {
	return "header"
}

func cutHeader(s string) (name, value string, ok bool) {
	sep := strings.IndexAny(s, ":=")
	if sep <= 0 {
		return "", "", false
	}
	name = strings.TrimSpace(s[:sep])
	if name == "" {
		return "", "", false
	}
	return name, strings.TrimSpace(s[sep+1:]), true
}
