package types

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig         = errors.New("invalid configuration")
	ErrProviderNotFound      = errors.New("security group provider not found")
	ErrSecurityGroupNotFound = errors.New("security group not found")
	ErrRuleAlreadyExists     = errors.New("security group rule already exists")
	ErrRuleNotFound          = errors.New("security group rule not found")
)

// ClientInitError 表示创建云 API 客户端失败（凭证或配置问题）
type ClientInitError struct {
	Provider string
	Err      error
}

func (e *ClientInitError) Error() string {
	return fmt.Sprintf("create %s client failed: %v: check your profile configuration", e.Provider, e.Err)
}

func (e *ClientInitError) Unwrap() error {
	return e.Err
}

// NewClientInitError 包装客户端初始化错误
func NewClientInitError(provider string, err error) error {
	return &ClientInitError{Provider: provider, Err: err}
}
