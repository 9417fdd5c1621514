package main

import (
	"fmt"
	"os"
	"syscall"

	"gopkg.in/yaml.v2"

	"github.com/criyle/go-fdmap/pkg/seccomp"
	"github.com/criyle/go-fdmap/pkg/seccomp/libseccomp"
)

// profile is the YAML schema for a seccomp filter: a default action
// plus syscall names to allow or to fail with EPERM
type profile struct {
	Default string   `yaml:"default"`
	Allow   []string `yaml:"allow"`
	ErrNo   []string `yaml:"errno"`
}

// loadProfile builds the seccomp filter program from a YAML profile file
func loadProfile(path string) (*syscall.SockFprog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var p profile
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, err
	}
	act, err := parseAction(p.Default)
	if err != nil {
		return nil, err
	}
	builder := libseccomp.Builder{
		Allow:   p.Allow,
		ErrNo:   p.ErrNo,
		Default: act,
	}
	filter, err := builder.Build()
	if err != nil {
		return nil, err
	}
	return filter.SockFprog(), nil
}

func parseAction(s string) (seccomp.Action, error) {
	switch s {
	case "", "kill":
		return seccomp.ActionKill, nil
	case "errno":
		return seccomp.ActionErrno.WithReturnCode(int16(syscall.EPERM)), nil
	case "allow":
		return seccomp.ActionAllow, nil
	}
	return 0, fmt.Errorf("profile: unknown default action %q", s)
}
