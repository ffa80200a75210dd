package config

type Rule struct {
	Name   string `yaml:"name"`
	Type   string `yaml:"type"`
	Rule   string `yaml:"rule"`
	Enable bool   `yaml:"enable"`
}
