package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/criyle/go-fdmap/pkg/fdmap"
)

// parseDup parses a TARGET=SOURCE pair of inherited descriptor numbers
func parseDup(s string) (fdmap.Mapping, error) {
	t, src, ok := strings.Cut(s, "=")
	if !ok {
		return fdmap.Mapping{}, fmt.Errorf("dup: expect TARGET=SOURCE: %q", s)
	}
	target, err := strconv.Atoi(t)
	if err != nil {
		return fdmap.Mapping{}, fmt.Errorf("dup: invalid target %q", t)
	}
	source, err := strconv.Atoi(src)
	if err != nil {
		return fdmap.Mapping{}, fmt.Errorf("dup: invalid source %q", src)
	}
	return fdmap.Mapping{Source: source, Target: target}, nil
}

// parseOpen parses TARGET=PATH[:ro|rw|wo] and opens PATH in the given
// mode (read only when no mode is present). The returned file must stay
// open until the program started.
func parseOpen(s string) (fdmap.Mapping, *os.File, error) {
	t, rest, ok := strings.Cut(s, "=")
	if !ok {
		return fdmap.Mapping{}, nil, fmt.Errorf("open: expect TARGET=PATH: %q", s)
	}
	target, err := strconv.Atoi(t)
	if err != nil {
		return fdmap.Mapping{}, nil, fmt.Errorf("open: invalid target %q", t)
	}
	path, flag := rest, os.O_RDONLY
	switch {
	case strings.HasSuffix(rest, ":ro"):
		path = rest[:len(rest)-3]
	case strings.HasSuffix(rest, ":rw"):
		path, flag = rest[:len(rest)-3], os.O_RDWR|os.O_CREATE
	case strings.HasSuffix(rest, ":wo"):
		path, flag = rest[:len(rest)-3], os.O_WRONLY|os.O_CREATE|os.O_TRUNC
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return fdmap.Mapping{}, nil, err
	}
	return fdmap.Mapping{Source: int(f.Fd()), Target: target}, f, nil
}
