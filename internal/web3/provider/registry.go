// Package provider 负责按名称装配并持有各条链的客户端，
// 上层通过注册表取用，不直接接触具体链实现。
package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"AgentFi-Mesh/internal/config"
	"AgentFi-Mesh/internal/web3"
	"AgentFi-Mesh/internal/web3/ethereum"
)

// Registry 按可读名称管理一组链客户端。
type Registry struct {
	defaultChain string

	mu      sync.Mutex
	clients map[string]web3.Client
	closed  bool
}

// NewRegistry 读取链定义并逐条建立连接。任一条链连接失败都
// 视为启动失败：带着半套链上线会让执行类 agent 的行为不可预期。
func NewRegistry(ctx context.Context, cfg config.Web3Config) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(cfg.ChainConfig)
	if err != nil {
		return nil, err
	}

	clients := make(map[string]web3.Client, len(defs.Chains))
	cleanup := func() {
		for _, client := range clients {
			client.Close()
		}
	}

	for name, chain := range defs.Chains {
		client, err := dialChain(ctx, name, chain)
		if err != nil {
			cleanup()
			return nil, err
		}
		clients[name] = client
	}

	// 没有链定义文件时退化为单链模式，直接用顶层 rpc_url。
	if len(clients) == 0 && strings.TrimSpace(cfg.RPCURL) != "" {
		client, err := ethereum.NewClient(ctx, ethereum.Config{Name: "default", RPCURL: cfg.RPCURL})
		if err != nil {
			return nil, err
		}
		clients["default"] = client
		if cfg.DefaultChain == "" {
			cfg.DefaultChain = "default"
		}
	}

	if len(clients) == 0 {
		return nil, errors.New("未配置任何链的 RPC 端点")
	}

	defaultChain, err := pickDefault(cfg.DefaultChain, clients)
	if err != nil {
		cleanup()
		return nil, err
	}

	return &Registry{defaultChain: defaultChain, clients: clients}, nil
}

// NewStaticRegistry 直接以给定客户端构造注册表，主要用于测试。
func NewStaticRegistry(defaultChain string, clients map[string]web3.Client) *Registry {
	return &Registry{defaultChain: defaultChain, clients: clients}
}

func dialChain(ctx context.Context, name string, chain web3.ChainDefinition) (web3.Client, error) {
	chainType := strings.ToLower(strings.TrimSpace(chain.Type))
	switch chainType {
	case "", "evm":
		client, err := ethereum.NewClient(ctx, ethereum.Config{
			Name:   name,
			RPCURL: chain.RPCURL,
			Notes:  chain.Description,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("链 %s 使用了不支持的类型 %s", name, chain.Type)
	}
}

func pickDefault(preferred string, clients map[string]web3.Client) (string, error) {
	if preferred != "" {
		if _, ok := clients[preferred]; !ok {
			return "", fmt.Errorf("默认链 %s 未在配置中找到", preferred)
		}
		return preferred, nil
	}
	names := make([]string, 0, len(clients))
	for name := range clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names[0], nil
}

// DefaultChain 返回默认链名称。
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// DefaultClient 返回默认链的客户端。
func (r *Registry) DefaultClient() (web3.Client, error) {
	return r.clientFor(r.DefaultChain())
}

// Client 按名称返回链客户端。
func (r *Registry) Client(name string) (web3.Client, bool) {
	client, err := r.clientFor(name)
	return client, err == nil
}

func (r *Registry) clientFor(name string) (web3.Client, error) {
	if r == nil {
		return nil, errors.New("未初始化的链客户端注册表")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("链客户端注册表已关闭")
	}
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("链 %s 未在注册表中", name)
	}
	return client, nil
}

// Chains 返回已注册链名称的排序列表。
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close 释放所有链连接，可安全重复调用。
func (r *Registry) Close() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for name, client := range r.clients {
		if client != nil {
			client.Close()
		}
		delete(r.clients, name)
	}
}
