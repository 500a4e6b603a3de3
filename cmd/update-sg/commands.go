package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/reckless-huang/updatesg/pkg/ipaddr"
	"github.com/reckless-huang/updatesg/pkg/types"
)

const (
	outputTable = "table"
	outputYAML  = "yaml"
)

func validateOutput(output string) error {
	switch output {
	case outputTable, outputYAML:
		return nil
	default:
		return fmt.Errorf("unsupported output format %q (table or yaml)", output)
	}
}

func writeYAML(w io.Writer, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// 授权当前 IP
func newAddCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add",
		Short: "Authorize the current IP for SSH, replacing the rule with the same description",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAdd(cmd)
		},
	}
}

func (a *app) runAdd(cmd *cobra.Command) error {
	m, err := a.newManager(cmd.Context())
	if err != nil {
		return err
	}

	result, err := m.Add(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if result.Replaced != nil {
		fmt.Fprintf(out, "Revoked %s (%s) on %s\n", result.Replaced.CIDR, result.Replaced.Label, result.Group.GroupID)
	}
	fmt.Fprintf(out, "Authorized %s (%s) on %s\n", result.Added.CIDR, result.Added.Label, result.Group.GroupID)
	return nil
}

// 撤销规则
func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove [ip]",
		Short: "Revoke the SSH rule for an IP (default: configured or current IP)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ip string
			if len(args) == 1 {
				ip = args[0]
			}

			m, err := a.newManager(cmd.Context())
			if err != nil {
				return err
			}
			result, err := m.Remove(cmd.Context(), ip)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s on %s\n", result.Removed.CIDR, result.Group.GroupID)
			return nil
		},
	}
}

// 列出 SSH 规则
func newRulesCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List SSH rules on the security group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}

			m, err := a.newManager(cmd.Context())
			if err != nil {
				return err
			}
			group, rules, err := m.ListRules(cmd.Context())
			if err != nil {
				return err
			}

			if output == outputYAML {
				return writeYAML(cmd.OutOrStdout(), struct {
					GroupID string              `yaml:"group_id"`
					Rules   []types.IngressRule `yaml:"rules"`
				}{group.GroupID, rules})
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Security group: %s (%s)\n", group.GroupID, group.Name)
			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"CIDR", "Protocol", "Port", "Description"})
			for _, rule := range rules {
				table.Append([]string{rule.CIDR, rule.Protocol, rule.PortRange(), rule.Label.String()})
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "Output format: table or yaml")
	return cmd
}

// 列出标签匹配的安全组
func newGroupsCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "groups",
		Short: "List security groups matching the configured tag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateOutput(output); err != nil {
				return err
			}

			m, err := a.newManager(cmd.Context())
			if err != nil {
				return err
			}
			groups, err := m.ListSecurityGroups(cmd.Context())
			if err != nil {
				return err
			}

			if output == outputYAML {
				return writeYAML(cmd.OutOrStdout(), groups)
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"SecGroup ID", "Name", "VPC", "Rules", "Description"})
			for _, sg := range groups {
				table.Append([]string{sg.GroupID, sg.Name, sg.VpcID, strconv.Itoa(countRanges(sg)), sg.Description})
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "Output format: table or yaml")
	return cmd
}

func countRanges(sg types.SecurityGroup) int {
	return lo.SumBy(sg.Permissions, func(p types.IngressPermission) int {
		return len(p.Ranges)
	})
}

// 显示当前公网 IP
func newIPCmd(a *app) *cobra.Command {
	var cidr bool

	cmd := &cobra.Command{
		Use:   "ip",
		Short: "Print the current public IP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ip, err := a.discover(cmd.Context())
			if err != nil {
				return err
			}
			if cidr {
				ip = ipaddr.FormatCIDR(ip)
			}
			fmt.Fprintln(cmd.OutOrStdout(), ip)
			return nil
		},
	}

	cmd.Flags().BoolVar(&cidr, "cidr", false, "Print as a /32 CIDR")
	return cmd
}

// 显示生效的配置
func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeYAML(cmd.OutOrStdout(), a.settings)
		},
	}
}
