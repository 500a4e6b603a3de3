package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/reckless-huang/updatesg/pkg/config"
	"github.com/reckless-huang/updatesg/pkg/providers"
	"github.com/reckless-huang/updatesg/pkg/types"
)

type fakeProvider struct {
	groups     []types.SecurityGroup
	authorized []types.IngressRule
	revoked    []types.IngressRule
}

func (f *fakeProvider) ListSecurityGroups(context.Context, types.TagFilter) ([]types.SecurityGroup, error) {
	return f.groups, nil
}

func (f *fakeProvider) AuthorizeIngress(_ context.Context, _ string, rule types.IngressRule) error {
	f.authorized = append(f.authorized, rule)
	return nil
}

func (f *fakeProvider) RevokeIngress(_ context.Context, _ string, rule types.IngressRule) error {
	f.revoked = append(f.revoked, rule)
	return nil
}

type harness struct {
	app      *app
	provider *fakeProvider
	configs  []types.SecurityGroupConfig
	out      bytes.Buffer
	errOut   bytes.Buffer
}

func newHarness(t *testing.T, ini string) *harness {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.ini")
	require.NoError(t, os.WriteFile(path, []byte(ini), 0o600))

	h := &harness{
		provider: &fakeProvider{groups: []types.SecurityGroup{{
			GroupID: "sg-0123",
			Name:    "admins",
			VpcID:   "vpc-1",
			Permissions: []types.IngressPermission{{
				Protocol: "tcp", FromPort: 22, ToPort: 22,
				Ranges: []types.IPRange{{CIDR: "198.51.100.2/32", Label: "alice"}},
			}},
		}}},
	}
	h.app = &app{
		opts:    rootOptions{configPath: path},
		environ: map[string]string{},
		discover: func(context.Context) (string, error) {
			return "203.0.113.7", nil
		},
		newProvider: func(_ context.Context, cfg types.SecurityGroupConfig) (types.SecurityGroupProvider, error) {
			h.configs = append(h.configs, cfg)
			return h.provider, nil
		},
	}
	return h
}

func (h *harness) run(args ...string) error {
	cmd := newRootCmd(h.app)
	cmd.SetArgs(args)
	cmd.SetOut(&h.out)
	cmd.SetErr(&h.errOut)
	return h.app.execute(context.Background(), cmd)
}

func TestRootRunsAdd(t *testing.T) {
	h := newHarness(t, "[SETTINGS]\nDESCRIPTION = alice\n")

	require.NoError(t, h.run())

	assert.Equal(t, []types.IngressRule{types.SSHRule("198.51.100.2/32", "alice")}, h.provider.revoked)
	assert.Equal(t, []types.IngressRule{types.SSHRule("203.0.113.7/32", "alice")}, h.provider.authorized)
	assert.Equal(t,
		"Revoked 198.51.100.2/32 (alice) on sg-0123\nAuthorized 203.0.113.7/32 (alice) on sg-0123\n",
		h.out.String())
	assert.Contains(t, h.errOut.String(), "Authorizing rule")
}

func TestAddUsesConfiguredIP(t *testing.T) {
	h := newHarness(t, "[SETTINGS]\nIP_ADDRESS = 192.0.2.44\nDESCRIPTION = bob\n")
	h.app.discover = func(context.Context) (string, error) {
		t.Fatal("discovery must not run")
		return "", nil
	}

	require.NoError(t, h.run("add"))

	assert.Empty(t, h.provider.revoked)
	assert.Equal(t, []types.IngressRule{types.SSHRule("192.0.2.44/32", "bob")}, h.provider.authorized)
}

func TestFlagsOverrideSettings(t *testing.T) {
	h := newHarness(t, "[SETTINGS]\nPROVIDER = aws\nREGION = us-east-1\nPROFILE = work\nDESCRIPTION = alice\n")

	require.NoError(t, h.run("--region", "eu-west-1", "--profile", "personal", "add"))

	require.Len(t, h.configs, 1)
	assert.Equal(t, types.SecurityGroupConfig{Provider: "aws", Region: "eu-west-1", Profile: "personal"}, h.configs[0])
}

func TestProviderCredentials(t *testing.T) {
	t.Run("environment", func(t *testing.T) {
		h := newHarness(t, "[SETTINGS]\nPROVIDER = aliyun\nREGION = cn-hangzhou\nDESCRIPTION = alice\n")
		h.app.environ = map[string]string{
			"ALICLOUD_ACCESS_KEY": "ak-env",
			"ALICLOUD_SECRET_KEY": "sk-env",
		}

		require.NoError(t, h.run("add"))

		require.Len(t, h.configs, 1)
		assert.Equal(t, providers.ALIYUN, h.configs[0].Provider)
		assert.Equal(t, map[string]string{"access_key_id": "ak-env", "access_key_secret": "sk-env"}, h.configs[0].Credential)
	})

	t.Run("flags win", func(t *testing.T) {
		h := newHarness(t, "[SETTINGS]\nDESCRIPTION = alice\n")
		h.app.environ = map[string]string{
			"VOLCENGINE_ACCESS_KEY": "ak-env",
			"VOLCENGINE_SECRET_KEY": "sk-env",
		}

		require.NoError(t, h.run("--provider", "volcengine", "--access-key", "ak-flag", "--secret-key", "sk-flag", "add"))

		require.Len(t, h.configs, 1)
		assert.Equal(t, providers.VOLCENGINE, h.configs[0].Provider)
		assert.Equal(t, "ak-flag", h.configs[0].Credential["access_key_id"])
	})
}

func TestUnknownProvider(t *testing.T) {
	h := newHarness(t, "[SETTINGS]\nPROVIDER = gcp\nDESCRIPTION = alice\n")
	h.app.newProvider = providers.New

	err := h.run()
	assert.ErrorIs(t, err, types.ErrProviderNotFound)
}

func TestRemoveCmd(t *testing.T) {
	h := newHarness(t, "")

	require.NoError(t, h.run("remove", "198.51.100.2"))

	assert.Equal(t, []types.IngressRule{types.SSHRule("198.51.100.2/32", "")}, h.provider.revoked)
	assert.Equal(t, "Revoked 198.51.100.2/32 on sg-0123\n", h.out.String())
}

func TestRulesCmd(t *testing.T) {
	t.Run("yaml", func(t *testing.T) {
		h := newHarness(t, "")
		require.NoError(t, h.run("rules", "-o", "yaml"))

		var got struct {
			GroupID string              `yaml:"group_id"`
			Rules   []types.IngressRule `yaml:"rules"`
		}
		require.NoError(t, yaml.Unmarshal(h.out.Bytes(), &got))
		assert.Equal(t, "sg-0123", got.GroupID)
		assert.Equal(t, []types.IngressRule{types.SSHRule("198.51.100.2/32", "alice")}, got.Rules)
	})

	t.Run("table", func(t *testing.T) {
		h := newHarness(t, "")
		require.NoError(t, h.run("rules"))
		assert.Contains(t, h.out.String(), "198.51.100.2/32")
		assert.Contains(t, h.out.String(), "22/22")
	})

	t.Run("bad output", func(t *testing.T) {
		h := newHarness(t, "")
		assert.Error(t, h.run("rules", "-o", "json"))
		assert.Empty(t, h.configs)
	})
}

func TestGroupsCmd(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.run("groups"))

	assert.Contains(t, h.out.String(), "sg-0123")
	assert.Contains(t, h.out.String(), "vpc-1")
}

func TestIPCmd(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, h.run("ip"))
	assert.Equal(t, "203.0.113.7\n", h.out.String())

	h = newHarness(t, "")
	require.NoError(t, h.run("ip", "--cidr"))
	assert.Equal(t, "203.0.113.7/32\n", h.out.String())
}

func TestConfigCmd(t *testing.T) {
	h := newHarness(t, "[SETTINGS]\nSECURITY_GROUP_DESC = bastion\n[LOG]\nLEVEL = warn\n")
	require.NoError(t, h.run("config", "--log-level", "debug"))

	var got config.Config
	require.NoError(t, yaml.Unmarshal(h.out.Bytes(), &got))
	assert.Equal(t, "bastion", got.SecurityGroupDesc)
	assert.Equal(t, "debug", got.Log.Level)
	assert.Equal(t, h.app.opts.configPath, got.Path)
}

func TestLogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "update-sg.log")
	h := newHarness(t, "[SETTINGS]\nDESCRIPTION = alice\n[LOG]\nFORMAT = json\nFILE = "+logPath+"\n")

	require.NoError(t, h.run())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"Authorizing rule"`)
	assert.Contains(t, h.errOut.String(), `"msg":"Authorizing rule"`)
}

func TestLogFileClosedOnError(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "update-sg.log")
	h := newHarness(t, "[SETTINGS]\nPROVIDER = gcp\n[LOG]\nLEVEL = debug\nFILE = "+logPath+"\n")
	closed := false
	h.app.newProvider = func(ctx context.Context, cfg types.SecurityGroupConfig) (types.SecurityGroupProvider, error) {
		closeLog := h.app.closeLog
		h.app.closeLog = func() error {
			closed = true
			return closeLog()
		}
		return providers.New(ctx, cfg)
	}

	err := h.run()
	assert.ErrorIs(t, err, types.ErrProviderNotFound)
	assert.True(t, closed)
	assert.Nil(t, h.app.closeLog)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Loaded config")
}

func TestConfigFlagOverridesPresetPath(t *testing.T) {
	h := newHarness(t, "[SETTINGS]\nSECURITY_GROUP_DESC = preset\n")
	other := filepath.Join(t.TempDir(), "other.ini")
	require.NoError(t, os.WriteFile(other, []byte("[SETTINGS]\nSECURITY_GROUP_DESC = from-flag\n"), 0o600))

	require.NoError(t, h.run("config", "--config", other))

	var got config.Config
	require.NoError(t, yaml.Unmarshal(h.out.Bytes(), &got))
	assert.Equal(t, "from-flag", got.SecurityGroupDesc)
	assert.Equal(t, other, got.Path)
}

func TestInitLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, closeLog, err := initLogger(config.LogConfig{Level: "warn"}, &buf)
	require.NoError(t, err)
	defer closeLog()

	logger.Info("hidden")
	logger.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}
