package amazon

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/chainguard-dev/clog"

	"github.com/reckless-huang/updatesg/pkg/types"
)

// Name 云服务商标识
const Name = "aws"

const (
	codePermissionNotFound  = "InvalidPermission.NotFound"
	codePermissionDuplicate = "InvalidPermission.Duplicate"
)

// EC2API 是 Provider 用到的 EC2 接口子集
type EC2API interface {
	DescribeSecurityGroups(ctx context.Context, params *ec2.DescribeSecurityGroupsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeSecurityGroupsOutput, error)
	AuthorizeSecurityGroupIngress(ctx context.Context, params *ec2.AuthorizeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.AuthorizeSecurityGroupIngressOutput, error)
	RevokeSecurityGroupIngress(ctx context.Context, params *ec2.RevokeSecurityGroupIngressInput, optFns ...func(*ec2.Options)) (*ec2.RevokeSecurityGroupIngressOutput, error)
}

// Provider 实现 AWS EC2 的安全组操作
type Provider struct {
	client EC2API
}

var _ types.SecurityGroupProvider = &Provider{}

// NewProvider 通过 SDK 默认链（环境变量、profile、SSO 等）解析凭证并创建客户端。
// 配置加载失败、没有 region 或取不到凭证时返回 ClientInitError
func NewProvider(ctx context.Context, cfg types.SecurityGroupConfig, optFns ...func(*config.LoadOptions) error) (*Provider, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	opts = append(opts, optFns...)

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, types.NewClientInitError(Name, err)
	}
	if awsCfg.Region == "" {
		return nil, types.NewClientInitError(Name, errors.New("no region configured"))
	}
	if awsCfg.Credentials == nil {
		return nil, types.NewClientInitError(Name, errors.New("no credentials provider"))
	}
	if _, err := awsCfg.Credentials.Retrieve(ctx); err != nil {
		return nil, types.NewClientInitError(Name, err)
	}

	clog.FromContext(ctx).Debug("created ec2 client", "region", awsCfg.Region, "profile", cfg.Profile)
	return NewProviderFromAPI(ec2.NewFromConfig(awsCfg)), nil
}

// NewProviderFromAPI 使用已有的 EC2 客户端
func NewProviderFromAPI(client EC2API) *Provider {
	return &Provider{client: client}
}

// ListSecurityGroups 按标签获取安全组列表
func (p *Provider) ListSecurityGroups(ctx context.Context, filter types.TagFilter) ([]types.SecurityGroup, error) {
	log := clog.FromContext(ctx)

	input := &ec2.DescribeSecurityGroupsInput{
		Filters: []ec2types.Filter{{
			Name:   aws.String("tag:" + filter.Key),
			Values: []string{filter.Value},
		}},
	}

	var groups []types.SecurityGroup
	paginator := ec2.NewDescribeSecurityGroupsPaginator(p.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("describe security groups failed: %w", err)
		}
		for _, g := range page.SecurityGroups {
			groups = append(groups, toSecurityGroup(g))
		}
	}

	log.Debug("described security groups", "filter", filter.String(), "count", len(groups))
	return groups, nil
}

// AuthorizeIngress 添加入方向规则
func (p *Provider) AuthorizeIngress(ctx context.Context, groupID string, rule types.IngressRule) error {
	log := clog.FromContext(ctx)

	ipRange := ec2types.IpRange{CidrIp: aws.String(rule.CIDR)}
	if rule.Label != "" {
		ipRange.Description = aws.String(rule.Label.String())
	}

	log.Debug("authorizing ingress",
		"group_id", groupID,
		"protocol", rule.Protocol,
		"port", rule.PortRange(),
		"cidr", rule.CIDR,
		"description", rule.Label,
	)

	_, err := p.client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
		GroupId: aws.String(groupID),
		IpPermissions: []ec2types.IpPermission{{
			IpProtocol: aws.String(rule.Protocol),
			FromPort:   aws.Int32(rule.FromPort),
			ToPort:     aws.Int32(rule.ToPort),
			IpRanges:   []ec2types.IpRange{ipRange},
		}},
	})
	if err != nil {
		if apiErrorCode(err) == codePermissionDuplicate {
			return fmt.Errorf("%w: %s on %s: %w", types.ErrRuleAlreadyExists, rule.CIDR, groupID, err)
		}
		return fmt.Errorf("authorize security group ingress failed: %w", err)
	}
	return nil
}

// RevokeIngress 撤销入方向规则，不预先检查规则是否存在
func (p *Provider) RevokeIngress(ctx context.Context, groupID string, rule types.IngressRule) error {
	log := clog.FromContext(ctx)

	log.Debug("revoking ingress",
		"group_id", groupID,
		"protocol", rule.Protocol,
		"port", rule.PortRange(),
		"cidr", rule.CIDR,
	)

	out, err := p.client.RevokeSecurityGroupIngress(ctx, &ec2.RevokeSecurityGroupIngressInput{
		GroupId:    aws.String(groupID),
		IpProtocol: aws.String(rule.Protocol),
		FromPort:   aws.Int32(rule.FromPort),
		ToPort:     aws.Int32(rule.ToPort),
		CidrIp:     aws.String(rule.CIDR),
	})
	if err != nil {
		if code := apiErrorCode(err); code == codePermissionNotFound {
			log.Debug("revoke rejected", "code", code)
			return fmt.Errorf("%w: %s on %s: %w", types.ErrRuleNotFound, rule.CIDR, groupID, err)
		}
		return fmt.Errorf("revoke security group ingress failed: %w", err)
	}
	if out != nil && len(out.UnknownIpPermissions) > 0 {
		return fmt.Errorf("%w: %s on %s", types.ErrRuleNotFound, rule.CIDR, groupID)
	}
	return nil
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func toSecurityGroup(g ec2types.SecurityGroup) types.SecurityGroup {
	group := types.SecurityGroup{
		GroupID:     aws.ToString(g.GroupId),
		Name:        aws.ToString(g.GroupName),
		Description: aws.ToString(g.Description),
		VpcID:       aws.ToString(g.VpcId),
		Permissions: make([]types.IngressPermission, 0, len(g.IpPermissions)),
	}
	for _, perm := range g.IpPermissions {
		ranges := make([]types.IPRange, 0, len(perm.IpRanges))
		for _, r := range perm.IpRanges {
			ranges = append(ranges, types.IPRange{
				CIDR:  aws.ToString(r.CidrIp),
				Label: types.RuleLabel(aws.ToString(r.Description)),
			})
		}
		group.Permissions = append(group.Permissions, types.IngressPermission{
			Protocol: aws.ToString(perm.IpProtocol),
			FromPort: aws.ToInt32(perm.FromPort),
			ToPort:   aws.ToInt32(perm.ToPort),
			Ranges:   ranges,
		})
	}
	return group
}
