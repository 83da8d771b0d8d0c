// Chavruta - tool-calling gateway for a canonical text library
// License: MIT
//
// Copyright (c) 2026 Chavruta contributors

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/chavruta/chavruta/pkg/config"
	"github.com/chavruta/chavruta/pkg/logger"
	"github.com/chavruta/chavruta/pkg/sefaria"
	"github.com/chavruta/chavruta/pkg/tools"
)

var (
	version   = "dev"
	gitCommit string
)

func formatVersion() string {
	if gitCommit != "" {
		return fmt.Sprintf("%s (%s, %s)", version, gitCommit, runtime.Version())
	}
	return fmt.Sprintf("%s (%s)", version, runtime.Version())
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chavruta.json"
	}
	return filepath.Join(home, ".chavruta", "config.json")
}

func main() {
	var configPath string
	var debug bool

	root := &cobra.Command{
		Use:   "chavruta",
		Short: "Caching tool gateway for a canonical text library",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "config file path")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	loadCfg := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		if debug {
			logger.SetLevel(logger.DEBUG)
		} else {
			logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
		}
		if cfg.Log.File != "" {
			if err := logger.EnableFileLogging(cfg.Log.File); err != nil {
				return nil, fmt.Errorf("enable file logging: %w", err)
			}
		}
		return cfg, nil
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("chavruta %s\n", formatVersion())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "tools",
		Short: "List the tool definitions exposed to the LLM",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadCfg()
			if err != nil {
				return err
			}
			registry := buildRegistry(cfg)
			out, err := json.MarshalIndent(registry.GetDefinitions(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	})

	root.AddCommand(newReplCommand(loadCfg))

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// buildRegistry wires the gateway stack: shared cache, gateway, tool set.
func buildRegistry(cfg *config.Config) *tools.Registry {
	cache := sefaria.NewCache(cfg.Library.CacheCapacity, cfg.Library.CacheTTL)
	gateway := sefaria.New(cfg.Library, cache)
	registry := tools.NewRegistry()
	tools.RegisterAll(registry, gateway)
	return registry
}
