package config

import (
	"fmt"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/ini.v1"

	"github.com/reckless-huang/updatesg/pkg/types"
)

const (
	appDir   = "update_ec2_sg"
	fileName = "config.ini"

	SectionSettings = "SETTINGS"
	SectionLog      = "LOG"

	DefaultSecurityGroupDesc = "ssh_from_dc_admins_ips"
	DefaultProvider          = "aws"
)

// Config 是配置文件 SETTINGS 段的内容，空字符串表示未配置
type Config struct {
	Path              string    `yaml:"path"`
	SecurityGroupDesc string    `yaml:"security_group_desc"`
	TagKey            string    `yaml:"tag_key"`
	IPAddress         string    `yaml:"ip_address,omitempty"`
	Description       string    `yaml:"description,omitempty"`
	Provider          string    `yaml:"provider"`
	Region            string    `yaml:"region,omitempty"`
	Profile           string    `yaml:"profile,omitempty"`
	Log               LogConfig `yaml:"log"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file,omitempty"`
}

// HasIPAddress 是否在配置文件中指定了 IP
func (c *Config) HasIPAddress() bool {
	return c.IPAddress != ""
}

// HasDescription 是否在配置文件中指定了规则描述
func (c *Config) HasDescription() bool {
	return c.Description != ""
}

// TagFilter 返回定位安全组使用的标签过滤条件
func (c *Config) TagFilter() types.TagFilter {
	return types.TagFilter{Key: c.TagKey, Value: c.SecurityGroupDesc}
}

type pathEnv struct {
	ConfigHome string `env:"XDG_CONFIG_HOME"`
	Home       string `env:"HOME"`
}

// DefaultPath 返回 ${XDG_CONFIG_HOME:-$HOME/.config}/update_ec2_sg/config.ini，
// environ 为 nil 时读取进程环境变量
func DefaultPath(environ map[string]string) (string, error) {
	var e pathEnv
	if err := env.ParseWithOptions(&e, env.Options{Environment: environ}); err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrInvalidConfig, err)
	}

	configHome := e.ConfigHome
	if configHome == "" {
		if e.Home == "" {
			return "", fmt.Errorf("%w: neither XDG_CONFIG_HOME nor HOME is set", types.ErrInvalidConfig)
		}
		configHome = filepath.Join(e.Home, ".config")
	}
	return filepath.Join(configHome, appDir, fileName), nil
}

// Default 返回全部使用默认值的配置
func Default() *Config {
	return &Config{
		SecurityGroupDesc: DefaultSecurityGroupDesc,
		TagKey:            types.DefaultTagKey,
		Provider:          DefaultProvider,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load 读取配置文件，文件或配置项不存在时使用默认值
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.Path = path

	f, err := ini.LoadSources(ini.LoadOptions{Loose: true, Insensitive: true}, path)
	if err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", types.ErrInvalidConfig, path, err)
	}

	settings := f.Section(SectionSettings)
	cfg.SecurityGroupDesc = lookup(settings, "SECURITY_GROUP_DESC", cfg.SecurityGroupDesc)
	cfg.TagKey = lookup(settings, "TAG_KEY", cfg.TagKey)
	cfg.IPAddress = lookup(settings, "IP_ADDRESS", "")
	cfg.Description = lookup(settings, "DESCRIPTION", "")
	cfg.Provider = lookup(settings, "PROVIDER", cfg.Provider)
	cfg.Region = lookup(settings, "REGION", "")
	cfg.Profile = lookup(settings, "PROFILE", "")

	logSection := f.Section(SectionLog)
	cfg.Log.Level = lookup(logSection, "LEVEL", cfg.Log.Level)
	cfg.Log.Format = lookup(logSection, "FORMAT", cfg.Log.Format)
	cfg.Log.File = lookup(logSection, "FILE", "")

	return cfg, nil
}

func lookup(s *ini.Section, name, fallback string) string {
	key, err := s.GetKey(name)
	if err != nil {
		return fallback
	}
	if v := key.String(); v != "" {
		return v
	}
	return fallback
}
