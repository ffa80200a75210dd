package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"blockips/constant"
	"blockips/internal/source"
	"blockips/models"
	"blockips/models/config"

	"gopkg.in/yaml.v3"
)

const configVersion = "0.1.0"

var ErrConfigUnsupportedVersion = errors.New("config unsupported version")

func DefaultConfig() models.Config {
	return models.Config{
		Blocklist: models.Blocklist{
			SetName:  "blocked_ips",
			Capacity: 2097152,
			Chain:    "OUTPUT",
			Target:   "DROP",
			Backend:  BackendNetlink,
		},
		Sources: models.Sources{
			IPListURL:     "https://antifilter.network/download/ip.lst",
			DomainListURL: "https://github.com/1andrevich/Re-filter-lists/releases/download/13062025/ruleset-domain-refilter_domains.json",
			FetchTimeout:  source.DefaultTimeout,
		},
		Resolver: models.Resolver{
			Service:       "unbound",
			ZoneFile:      "/etc/unbound/blocked-domains.conf",
			ResolvConf:    "/etc/resolv.conf",
			LocalAddress:  "127.0.0.1",
			PublicAddress: "8.8.8.8",
		},
		Services: models.Services{
			IPUpdater:     "block-ips.service",
			DomainUpdater: "block-domains.service",
		},
		Control: models.Control{
			HTTP: models.ControlHTTP{
				Enabled: false,
				Address: "127.0.0.1",
				Port:    8089,
			},
		},
		LogDir:   constant.LogDir,
		LogLevel: "info",
	}
}

// LoadConfig reads path over the defaults. A missing file is not an error.
func LoadConfig(path string) (models.Config, error) {
	cfg := DefaultConfig()

	cfgFile, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	file := config.Config{}
	if err := yaml.Unmarshal(cfgFile, &file); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config file: %w", err)
	}
	if err := ImportConfig(&cfg, file); err != nil {
		return cfg, fmt.Errorf("failed to import config file: %w", err)
	}
	return cfg, nil
}

func SaveConfig(path string, cfg models.Config) error {
	out, err := yaml.Marshal(ExportConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to marshal config file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config folder: %w", err)
	}
	if err := os.WriteFile(path, out, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func override[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// ImportConfig merges the fields present in file into cfg.
func ImportConfig(cfg *models.Config, file config.Config) error {
	if !strings.HasPrefix(file.ConfigVersion, "0.1.") {
		return ErrConfigUnsupportedVersion
	}

	if app := file.App; app != nil {
		if b := app.Blocklist; b != nil {
			override(&cfg.Blocklist.SetName, b.SetName)
			override(&cfg.Blocklist.Capacity, b.Capacity)
			override(&cfg.Blocklist.Chain, b.Chain)
			override(&cfg.Blocklist.Target, b.Target)
			override(&cfg.Blocklist.Backend, b.Backend)
			override(&cfg.Blocklist.EnableIPv6, b.EnableIPv6)
		}
		if s := app.Sources; s != nil {
			override(&cfg.Sources.IPListURL, s.IPListURL)
			override(&cfg.Sources.DomainListURL, s.DomainListURL)
			if s.FetchTimeout != nil {
				d, err := time.ParseDuration(*s.FetchTimeout)
				if err != nil {
					return fmt.Errorf("invalid fetch timeout: %w", err)
				}
				cfg.Sources.FetchTimeout = d
			}
		}
		if r := app.Resolver; r != nil {
			override(&cfg.Resolver.Service, r.Service)
			override(&cfg.Resolver.ZoneFile, r.ZoneFile)
			override(&cfg.Resolver.ResolvConf, r.ResolvConf)
			override(&cfg.Resolver.LocalAddress, r.LocalAddress)
			override(&cfg.Resolver.PublicAddress, r.PublicAddress)
		}
		if s := app.Services; s != nil {
			override(&cfg.Services.IPUpdater, s.IPUpdater)
			override(&cfg.Services.DomainUpdater, s.DomainUpdater)
		}
		if c := app.Control; c != nil {
			override(&cfg.Control.OperatorID, c.OperatorID)
			if h := c.HTTP; h != nil {
				override(&cfg.Control.HTTP.Enabled, h.Enabled)
				override(&cfg.Control.HTTP.Address, h.Address)
				override(&cfg.Control.HTTP.Port, h.Port)
			}
		}
		override(&cfg.LogDir, app.LogDir)
		override(&cfg.LogLevel, app.LogLevel)
	}

	switch cfg.Blocklist.Backend {
	case BackendNetlink, BackendExec:
	default:
		return fmt.Errorf("unknown ipset backend %q", cfg.Blocklist.Backend)
	}
	if cfg.Blocklist.Capacity == 0 {
		return errors.New("blocklist capacity must be positive")
	}

	if file.Exclusions != nil {
		cfg.Exclusions = make([]*models.Rule, len(*file.Exclusions))
		for idx, rule := range *file.Exclusions {
			cfg.Exclusions[idx] = &models.Rule{
				Name:   rule.Name,
				Type:   rule.Type,
				Rule:   rule.Rule,
				Enable: rule.Enable,
			}
		}
	}
	return nil
}

func ExportConfig(cfg models.Config) config.Config {
	exclusions := make([]config.Rule, len(cfg.Exclusions))
	for idx, rule := range cfg.Exclusions {
		exclusions[idx] = config.Rule{
			Name:   rule.Name,
			Type:   rule.Type,
			Rule:   rule.Rule,
			Enable: rule.Enable,
		}
	}
	fetchTimeout := cfg.Sources.FetchTimeout.String()

	return config.Config{
		ConfigVersion: configVersion,
		App: &config.App{
			Blocklist: &config.Blocklist{
				SetName:    &cfg.Blocklist.SetName,
				Capacity:   &cfg.Blocklist.Capacity,
				Chain:      &cfg.Blocklist.Chain,
				Target:     &cfg.Blocklist.Target,
				Backend:    &cfg.Blocklist.Backend,
				EnableIPv6: &cfg.Blocklist.EnableIPv6,
			},
			Sources: &config.Sources{
				IPListURL:     &cfg.Sources.IPListURL,
				DomainListURL: &cfg.Sources.DomainListURL,
				FetchTimeout:  &fetchTimeout,
			},
			Resolver: &config.Resolver{
				Service:       &cfg.Resolver.Service,
				ZoneFile:      &cfg.Resolver.ZoneFile,
				ResolvConf:    &cfg.Resolver.ResolvConf,
				LocalAddress:  &cfg.Resolver.LocalAddress,
				PublicAddress: &cfg.Resolver.PublicAddress,
			},
			Services: &config.Services{
				IPUpdater:     &cfg.Services.IPUpdater,
				DomainUpdater: &cfg.Services.DomainUpdater,
			},
			Control: &config.Control{
				OperatorID: &cfg.Control.OperatorID,
				HTTP: &config.ControlHTTP{
					Enabled: &cfg.Control.HTTP.Enabled,
					Address: &cfg.Control.HTTP.Address,
					Port:    &cfg.Control.HTTP.Port,
				},
			},
			LogDir:   &cfg.LogDir,
			LogLevel: &cfg.LogLevel,
		},
		Exclusions: &exclusions,
	}
}
