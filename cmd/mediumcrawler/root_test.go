package main

import (
	"testing"
)

func TestNewRootCmd(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()

	if cmd.Use != "mediumcrawler" {
		t.Errorf("use = %q", cmd.Use)
	}
	if cmd.Version == "" {
		t.Error("expected non-empty version")
	}

	flag := cmd.PersistentFlags().Lookup("config")
	if flag == nil {
		t.Fatal("expected config flag")
	}
	if flag.Shorthand != "c" || flag.DefValue != "" {
		t.Errorf("config flag = -%s default %q", flag.Shorthand, flag.DefValue)
	}

	want := map[string]bool{"serve": false, "crawl": false, "migrate": false, "version": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestServeHasCrawlFlag(t *testing.T) {
	t.Parallel()

	flag := NewServeCmd().Flags().Lookup("crawl")
	if flag == nil || flag.DefValue != "false" {
		t.Fatalf("crawl flag = %+v", flag)
	}
}
