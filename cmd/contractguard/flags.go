package main

import (
	"flag"
	"strings"
)

type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSlice) Set(v string) error {
	*s = append(*s, v)
	return nil
}

type rootArgs struct {
	cfgPath   string
	overrides []string
}

func parseRootArgs(args []string) (rootArgs, []string, error) {
	fs := flag.NewFlagSet("contractguard", flag.ContinueOnError)
	var root rootArgs
	var overrides stringSlice
	fs.StringVar(&root.cfgPath, "config", "", "Path to config file (default ~/.contractguard/config.toml)")
	fs.Var(&overrides, "c", "Override config value key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return rootArgs{}, nil, err
	}
	root.overrides = append([]string{}, overrides...)
	return root, fs.Args(), nil
}
