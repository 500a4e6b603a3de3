package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/chainguard-dev/clog"
	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"

	"github.com/reckless-huang/updatesg/pkg/config"
	"github.com/reckless-huang/updatesg/pkg/ipaddr"
	"github.com/reckless-huang/updatesg/pkg/providers"
	"github.com/reckless-huang/updatesg/pkg/sshaccess"
	"github.com/reckless-huang/updatesg/pkg/types"
)

// rootOptions 全局命令行参数，非空时覆盖配置文件
type rootOptions struct {
	configPath string
	provider   string
	region     string
	profile    string
	logLevel   string
	accessKey  string
	secretKey  string
}

// credentialEnv 阿里云和火山引擎的凭证环境变量
type credentialEnv struct {
	AliyunAccessKey     string `env:"ALICLOUD_ACCESS_KEY"`
	AliyunSecretKey     string `env:"ALICLOUD_SECRET_KEY"`
	VolcengineAccessKey string `env:"VOLCENGINE_ACCESS_KEY"`
	VolcengineSecretKey string `env:"VOLCENGINE_SECRET_KEY"`
}

type app struct {
	opts     rootOptions
	settings *config.Config
	closeLog func() error

	// environ 为 nil 时读取进程环境变量
	environ     map[string]string
	discover    func(ctx context.Context) (string, error)
	newProvider func(ctx context.Context, cfg types.SecurityGroupConfig) (types.SecurityGroupProvider, error)
}

func newApp() *app {
	return &app{
		discover:    ipaddr.NewDiscoverer().Discover,
		newProvider: providers.New,
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	a := newApp()
	err := a.execute(ctx, newRootCmd(a))
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// execute 运行命令，无论成功与否都会关闭日志文件
func (a *app) execute(ctx context.Context, cmd *cobra.Command) error {
	err := cmd.ExecuteContext(ctx)
	if a.closeLog != nil {
		if closeErr := a.closeLog(); closeErr != nil && err == nil {
			err = fmt.Errorf("close log file failed: %w", closeErr)
		}
		a.closeLog = nil
	}
	return err
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "update-sg",
		Short: "Keep your current public IP authorized for SSH on a tagged security group",
		Long: "Without a subcommand update-sg runs add: it finds the security group tagged with\n" +
			"SECURITY_GROUP_DESC, revokes the SSH rule carrying your label and authorizes your\n" +
			"current public IP in its place.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.loadSettings(); err != nil {
				return err
			}
			logger, closeLog, err := initLogger(a.settings.Log, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			a.closeLog = closeLog
			slog.SetDefault(&logger.Logger)
			cmd.SetContext(clog.WithLogger(cmd.Context(), logger))
			logger.Debug("Loaded config", "path", a.settings.Path, "provider", a.settings.Provider)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAdd(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.opts.configPath, "config", "c", a.opts.configPath, "Config file (default ${XDG_CONFIG_HOME:-$HOME/.config}/update_ec2_sg/config.ini)")
	flags.StringVar(&a.opts.provider, "provider", a.opts.provider, fmt.Sprintf("Cloud provider %v (overrides SETTINGS.PROVIDER)", providers.Names))
	flags.StringVarP(&a.opts.region, "region", "r", a.opts.region, "Region ID (overrides SETTINGS.REGION)")
	flags.StringVar(&a.opts.profile, "profile", a.opts.profile, "AWS shared config profile (overrides SETTINGS.PROFILE)")
	flags.StringVar(&a.opts.logLevel, "log-level", a.opts.logLevel, "Log level: debug, info, warn, error (overrides LOG.LEVEL)")
	flags.StringVar(&a.opts.accessKey, "access-key", a.opts.accessKey, "Access Key ID for aliyun and volcengine")
	flags.StringVar(&a.opts.secretKey, "secret-key", a.opts.secretKey, "Access Key Secret for aliyun and volcengine")

	rootCmd.AddCommand(
		newAddCmd(a),
		newRemoveCmd(a),
		newRulesCmd(a),
		newGroupsCmd(a),
		newIPCmd(a),
		newConfigCmd(a),
	)
	return rootCmd
}

// loadSettings 读取配置文件并应用命令行覆盖
func (a *app) loadSettings() error {
	path := a.opts.configPath
	if path == "" {
		var err error
		if path, err = config.DefaultPath(a.environ); err != nil {
			return err
		}
	}

	settings, err := config.Load(path)
	if err != nil {
		return err
	}
	if a.opts.provider != "" {
		settings.Provider = a.opts.provider
	}
	if a.opts.region != "" {
		settings.Region = a.opts.region
	}
	if a.opts.profile != "" {
		settings.Profile = a.opts.profile
	}
	if a.opts.logLevel != "" {
		settings.Log.Level = a.opts.logLevel
	}
	a.settings = settings
	return nil
}

func initLogger(cfg config.LogConfig, w io.Writer) (*clog.Logger, func() error, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	handler := newLogHandler(cfg.Format, w, opts)
	closeLog := func() error { return nil }

	// 同时写入日志文件
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file failed: %w", err)
		}
		handler = slogmulti.Fanout(handler, newLogHandler(cfg.Format, f, opts))
		closeLog = f.Close
	}

	return clog.New(handler), closeLog, nil
}

func newLogHandler(format string, w io.Writer, opts *slog.HandlerOptions) slog.Handler {
	if format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// createProvider 根据配置创建云服务商实例
func (a *app) createProvider(ctx context.Context) (types.SecurityGroupProvider, error) {
	sgConfig := types.SecurityGroupConfig{
		Provider: a.settings.Provider,
		Region:   a.settings.Region,
		Profile:  a.settings.Profile,
	}

	switch a.settings.Provider {
	case providers.ALIYUN, providers.VOLCENGINE:
		ak, sk, err := a.credentials(a.settings.Provider)
		if err != nil {
			return nil, err
		}
		sgConfig.Credential = map[string]string{
			"access_key_id":     ak,
			"access_key_secret": sk,
		}
	}

	return a.newProvider(ctx, sgConfig)
}

// credentials 优先使用命令行参数，其次读取环境变量
func (a *app) credentials(provider string) (string, string, error) {
	if a.opts.accessKey != "" && a.opts.secretKey != "" {
		return a.opts.accessKey, a.opts.secretKey, nil
	}

	var e credentialEnv
	if err := env.ParseWithOptions(&e, env.Options{Environment: a.environ}); err != nil {
		return "", "", fmt.Errorf("read credentials from environment failed: %w", err)
	}
	if provider == providers.ALIYUN {
		return e.AliyunAccessKey, e.AliyunSecretKey, nil
	}
	return e.VolcengineAccessKey, e.VolcengineSecretKey, nil
}

func (a *app) newManager(ctx context.Context) (*sshaccess.Manager, error) {
	p, err := a.createProvider(ctx)
	if err != nil {
		return nil, err
	}
	return sshaccess.NewManager(p, a.settings, sshaccess.WithDiscover(a.discover)), nil
}
