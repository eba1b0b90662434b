package ethereum

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"AgentFi-Mesh/internal/web3"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// Config describes how to construct an EVM compatible client.
type Config struct {
	Name   string
	RPCURL string
	Notes  string
}

// Client implements the web3.Client interface for EVM compatible chains.
type Client struct {
	name      string
	notes     string
	rpcClient *gethrpc.Client
	eth       *ethclient.Client
	mu        sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a ready-to-use client.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接以太坊节点失败: %w", err)
	}

	return &Client{
		name:      cfg.Name,
		notes:     cfg.Notes,
		rpcClient: rpcClient,
		eth:       ethclient.NewClient(rpcClient),
	}, nil
}

// Name 返回链的可读名称。
func (c *Client) Name() string {
	if c == nil {
		return ""
	}
	return c.name
}

// Close releases network connections held by the client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.eth != nil {
		c.eth.Close()
		c.eth = nil
	}
	if c.rpcClient != nil {
		c.rpcClient.Close()
		c.rpcClient = nil
	}
}

// FetchChainSnapshot gathers lightweight metadata from the chain.
func (c *Client) FetchChainSnapshot(ctx context.Context) (web3.ChainSnapshot, error) {
	if c == nil || c.eth == nil {
		return web3.ChainSnapshot{}, errors.New("未初始化的以太坊客户端")
	}

	chainID, err := c.eth.ChainID(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取链 ID 失败: %w", err)
	}
	blockNumber, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return web3.ChainSnapshot{}, fmt.Errorf("获取最新区块高度失败: %w", err)
	}
	return web3.ChainSnapshot{
		ChainID:     toHexBig(chainID),
		BlockNumber: fmt.Sprintf("0x%x", blockNumber),
		Notes:       c.notes,
	}, nil
}

// NonceAt 查询地址在 latest 区块上的交易计数。
func (c *Client) NonceAt(ctx context.Context, address string) (uint64, error) {
	if c == nil || c.eth == nil {
		return 0, errors.New("未初始化的以太坊客户端")
	}
	addr, err := parseAddress(address)
	if err != nil {
		return 0, err
	}
	nonce, err := c.eth.NonceAt(ctx, addr, nil)
	if err != nil {
		return 0, fmt.Errorf("查询已确认交易计数失败: %w", err)
	}
	return nonce, nil
}

// PendingNonceAt 查询地址在 pending 池中的交易计数。
func (c *Client) PendingNonceAt(ctx context.Context, address string) (uint64, error) {
	if c == nil || c.eth == nil {
		return 0, errors.New("未初始化的以太坊客户端")
	}
	addr, err := parseAddress(address)
	if err != nil {
		return 0, err
	}
	nonce, err := c.eth.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, fmt.Errorf("查询待处理交易计数失败: %w", err)
	}
	return nonce, nil
}

// BalanceAt 查询地址余额，返回十六进制字符串。
func (c *Client) BalanceAt(ctx context.Context, address string) (string, error) {
	if c == nil || c.eth == nil {
		return "", errors.New("未初始化的以太坊客户端")
	}
	addr, err := parseAddress(address)
	if err != nil {
		return "", err
	}
	balance, err := c.eth.BalanceAt(ctx, addr, nil)
	if err != nil {
		return "", fmt.Errorf("查询余额失败: %w", err)
	}
	return toHexBig(balance), nil
}

// SendRawTransaction 广播一笔已签名交易，返回交易哈希。
func (c *Client) SendRawTransaction(ctx context.Context, rawTx []byte) (string, error) {
	if c == nil || c.rpcClient == nil {
		return "", errors.New("未初始化的以太坊客户端")
	}
	if len(rawTx) == 0 {
		return "", errors.New("交易内容不能为空")
	}
	payload := "0x" + hex.EncodeToString(rawTx)
	var hash common.Hash
	if err := c.rpcClient.CallContext(ctx, &hash, "eth_sendRawTransaction", payload); err != nil {
		return "", fmt.Errorf("发送交易失败: %w", err)
	}
	return hash.Hex(), nil
}

func parseAddress(address string) (common.Address, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return common.Address{}, fmt.Errorf("非法的以太坊地址: %s", address)
	}
	return common.HexToAddress(address), nil
}

func toHexBig(n *big.Int) string {
	if n == nil {
		return "0x0"
	}
	return "0x" + n.Text(16)
}

var _ web3.Client = (*Client)(nil)
