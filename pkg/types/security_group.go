package types

import (
	"fmt"
)

const (
	// SSHPort 规则管理的唯一端口
	SSHPort int32 = 22
	// ProtocolTCP 入方向规则协议
	ProtocolTCP = "tcp"
	// DefaultTagKey 定位安全组使用的标签键
	DefaultTagKey = "description"
)

// RuleLabel 是规则的描述标签，同一标签在安全组中只保留一条 SSH 规则
type RuleLabel string

func (l RuleLabel) String() string {
	return string(l)
}

// IPRange 表示权限块中的一个来源网段
type IPRange struct {
	CIDR  string    `json:"cidr" yaml:"cidr"`
	Label RuleLabel `json:"label,omitempty" yaml:"label,omitempty"`
}

// IngressPermission 表示云上返回的一个入方向权限块
type IngressPermission struct {
	Protocol string    `json:"protocol" yaml:"protocol"`
	FromPort int32     `json:"from_port" yaml:"from_port"`
	ToPort   int32     `json:"to_port" yaml:"to_port"`
	Ranges   []IPRange `json:"ranges" yaml:"ranges"`
}

// IngressRule 表示一条待授权或撤销的入方向规则
type IngressRule struct {
	Protocol string    `json:"protocol" yaml:"protocol"`
	FromPort int32     `json:"from_port" yaml:"from_port"`
	ToPort   int32     `json:"to_port" yaml:"to_port"`
	CIDR     string    `json:"cidr" yaml:"cidr"`
	Label    RuleLabel `json:"label,omitempty" yaml:"label,omitempty"`
}

// SSHRule 构造 tcp/22 规则
func SSHRule(cidr string, label RuleLabel) IngressRule {
	return IngressRule{
		Protocol: ProtocolTCP,
		FromPort: SSHPort,
		ToPort:   SSHPort,
		CIDR:     cidr,
		Label:    label,
	}
}

// PortRange 返回 "from/to" 形式的端口范围
func (r IngressRule) PortRange() string {
	return fmt.Sprintf("%d/%d", r.FromPort, r.ToPort)
}

// SecurityGroup 表示安全组信息
type SecurityGroup struct {
	GroupID     string              `json:"group_id" yaml:"group_id"`
	Name        string              `json:"name" yaml:"name"`
	Description string              `json:"description" yaml:"description"`
	VpcID       string              `json:"vpc_id" yaml:"vpc_id"`
	Permissions []IngressPermission `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// TagFilter 按标签过滤安全组
type TagFilter struct {
	Key   string `json:"key" yaml:"key"`
	Value string `json:"value" yaml:"value"`
}

func (f TagFilter) String() string {
	return fmt.Sprintf("tag:%s=%s", f.Key, f.Value)
}

// SecurityGroupConfig 定义云服务商配置
type SecurityGroupConfig struct {
	Provider   string            `json:"provider"`   // 云服务商标识：aws, aliyun, volcengine
	Region     string            `json:"region"`     // 区域，为空时由 SDK 自行解析
	Profile    string            `json:"profile"`    // AWS 共享配置 profile
	Credential map[string]string `json:"credential"` // 认证信息
}
