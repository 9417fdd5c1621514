package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v2"

	"github.com/criyle/go-fdmap/pkg/rlimit"
)

// config holds the fdserve settings. Values from the config file are
// overridden by flags given explicitly on the command line.
type config struct {
	Socket      string   `yaml:"socket"`
	LogLevel    string   `yaml:"log_level"`
	Env         []string `yaml:"env"`
	CloseStdio  bool     `yaml:"close_stdio"`
	OutputLimit string   `yaml:"output_limit"`

	outputLimit rlimit.Size
}

func loadConfig(ctx *cli.Context) (*config, error) {
	conf := &config{
		Socket:   ctx.String("socket"),
		LogLevel: ctx.String("log-level"),
	}
	if path := ctx.String("config"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read config")
		}
		if err := yaml.Unmarshal(b, conf); err != nil {
			return nil, errors.Wrap(err, "failed to parse config")
		}
	}
	if ctx.IsSet("socket") || conf.Socket == "" {
		conf.Socket = ctx.String("socket")
	}
	if ctx.IsSet("log-level") || conf.LogLevel == "" {
		conf.LogLevel = ctx.String("log-level")
	}
	if ctx.IsSet("close-stdio") {
		conf.CloseStdio = true
	}
	if conf.OutputLimit != "" {
		if err := conf.outputLimit.Set(conf.OutputLimit); err != nil {
			return nil, errors.Wrapf(err, "invalid output limit %q", conf.OutputLimit)
		}
	}
	return conf, nil
}
