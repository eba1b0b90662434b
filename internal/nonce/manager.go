package nonce

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	xerrors "AgentFi-Mesh/internal/errors"
	"AgentFi-Mesh/internal/observability/metrics"
	"AgentFi-Mesh/pkg/logger"
)

// TransactionCounter 是 nonce 管理器需要的链上查询能力，
// 对应 JSON-RPC 的 eth_getTransactionCount("latest"/"pending")。
type TransactionCounter interface {
	NonceAt(ctx context.Context, address string) (uint64, error)
	PendingNonceAt(ctx context.Context, address string) (uint64, error)
}

// CounterSource 按链名提供交易计数查询端。
type CounterSource interface {
	Counter(chain string) (TransactionCounter, bool)
}

// CodeNonceGap 表示检测到已分配但既未确认也未释放的 nonce。
const CodeNonceGap xerrors.Code = "NONCE_GAP_DETECTED"

func init() {
	xerrors.Register(CodeNonceGap, xerrors.Attributes{
		Message:  "nonce gap detected",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

const (
	defaultSyncMaxAge = 30 * time.Second
	defaultMaxPending = 10
	auditRingSize     = 256
)

type key struct {
	chain   string
	address string
}

// state 维护单个 (chain, address) 的 nonce 视图。
// 所有字段都由 state.mu 保护；RPC 同步期间持锁，
// 以保证同一 key 上的分配完全串行。
type state struct {
	mu        sync.Mutex
	confirmed uint64
	pending   uint64
	inflight  map[uint64]struct{}
	lastSync  time.Time
	synced    bool
}

// Snapshot 是 nonce 状态的只读副本，用于诊断接口。
type Snapshot struct {
	Chain      string    `json:"chain"`
	Address    string    `json:"address"`
	Confirmed  uint64    `json:"confirmed_nonce"`
	Pending    uint64    `json:"pending_nonce"`
	InFlight   []uint64  `json:"pending_tx_nonces"`
	LastSyncAt time.Time `json:"last_sync_at"`
}

// Allocation 是一次 nonce 分配的审计记录，只写一次，
// 释放或确认后仅翻转 Released 标记，绝不参与分配决策。
type Allocation struct {
	Chain       string    `json:"chain"`
	Address     string    `json:"address"`
	Nonce       uint64    `json:"nonce"`
	AllocatedAt time.Time `json:"allocated_at"`
	Released    bool      `json:"released"`
}

// Manager 负责按 (chain, address) 串行分配交易 nonce。
// 进程内应作为单例显式注入，而不是模块级全局变量。
type Manager struct {
	source     CounterSource
	syncMaxAge time.Duration
	maxPending int
	logger     *slog.Logger

	mu     sync.Mutex
	states map[key]*state

	auditMu sync.Mutex
	audit   []*Allocation
}

// Option 定义可选的 Manager 配置。
type Option func(*Manager)

// WithSyncMaxAge 设置链上状态的新鲜度窗口。
func WithSyncMaxAge(age time.Duration) Option {
	return func(m *Manager) {
		if age > 0 {
			m.syncMaxAge = age
		}
	}
}

// WithMaxPending 设置触发强制同步的最大在途交易数。
func WithMaxPending(max int) Option {
	return func(m *Manager) {
		if max > 0 {
			m.maxPending = max
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// NewManager 构造 Manager。
func NewManager(source CounterSource, opts ...Option) *Manager {
	m := &Manager{
		source:     source,
		syncMaxAge: defaultSyncMaxAge,
		maxPending: defaultMaxPending,
		states:     make(map[key]*state),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	if m.logger == nil {
		m.logger = logger.Named("nonce")
	}
	return m
}

func normalizeKey(chain, address string) key {
	return key{
		chain:   strings.TrimSpace(chain),
		address: strings.ToLower(strings.TrimSpace(address)),
	}
}

func (m *Manager) stateFor(k key) *state {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.states[k]
	if !ok {
		st = &state{inflight: make(map[uint64]struct{})}
		m.states[k] = st
	}
	return st
}

// syncLocked 从链上刷新已确认/待处理计数。调用方必须持有 st.mu。
// RPC 失败只记录日志并保留原状态：过期但安全。
func (m *Manager) syncLocked(ctx context.Context, st *state, k key) {
	counter, ok := m.source.Counter(k.chain)
	if !ok {
		m.logger.Warn("未找到链的 RPC 查询端", slog.String("chain", k.chain))
		metrics.ObserveNonceSyncFailure(k.chain)
		return
	}

	confirmed, err := counter.NonceAt(ctx, k.address)
	if err != nil {
		m.logger.Warn("同步已确认交易计数失败",
			slog.Any("error", err),
			slog.String("chain", k.chain),
			slog.String("address", k.address))
		metrics.ObserveNonceSyncFailure(k.chain)
		return
	}
	chainPending, err := counter.PendingNonceAt(ctx, k.address)
	if err != nil {
		m.logger.Warn("同步待处理交易计数失败",
			slog.Any("error", err),
			slog.String("chain", k.chain),
			slog.String("address", k.address))
		metrics.ObserveNonceSyncFailure(k.chain)
		return
	}

	st.confirmed = confirmed
	// pending 计数只进不退：链返回更小的 pending（节点数据滞后）时
	// 不能回退，否则会重发已分配的 nonce。
	if chainPending > st.pending {
		st.pending = chainPending
	}
	if st.confirmed > st.pending {
		st.pending = st.confirmed
	}
	st.lastSync = time.Now()
	st.synced = true
}

func (m *Manager) needsSyncLocked(st *state) bool {
	if !st.synced {
		return true
	}
	if time.Since(st.lastSync) > m.syncMaxAge {
		return true
	}
	// 在途交易过多说明可能有交易卡住，强制对账防止 nonce 漂移。
	if st.pending > st.confirmed && st.pending-st.confirmed > uint64(m.maxPending) {
		return true
	}
	return false
}

// SyncWithChain 主动刷新指定 key 的链上状态。失败不向调用方抛出。
func (m *Manager) SyncWithChain(ctx context.Context, chain, address string) {
	k := normalizeKey(chain, address)
	st := m.stateFor(k)
	st.mu.Lock()
	defer st.mu.Unlock()
	m.syncLocked(ctx, st, k)
}

// NextNonce 返回该 key 的下一个可用 nonce 并登记为在途。
// 同一 key 的并发调用被完全串行化，保证不重复分配。
func (m *Manager) NextNonce(ctx context.Context, chain, address string) uint64 {
	k := normalizeKey(chain, address)
	st := m.stateFor(k)

	st.mu.Lock()
	defer st.mu.Unlock()

	if m.needsSyncLocked(st) {
		m.syncLocked(ctx, st, k)
	}

	n := st.pending
	st.pending++
	st.inflight[n] = struct{}{}

	m.recordAllocation(k, n)
	metrics.ObserveNonceAllocation(k.chain)
	return n
}

// ConfirmNonce 在交易上链后调用，推进已确认计数。
func (m *Manager) ConfirmNonce(chain, address string, n uint64) {
	k := normalizeKey(chain, address)
	st := m.stateFor(k)

	st.mu.Lock()
	defer st.mu.Unlock()

	delete(st.inflight, n)
	if st.confirmed < n+1 {
		st.confirmed = n + 1
	}
	if st.pending < st.confirmed {
		st.pending = st.confirmed
	}
	m.markReleased(k, n)
}

// ReleaseNonce 在交易广播前失败时调用，归还 nonce 槽位。
// 当在途集合清空时把 pending 回拨到 confirmed，避免永久烧掉槽位。
func (m *Manager) ReleaseNonce(chain, address string, n uint64) {
	k := normalizeKey(chain, address)
	st := m.stateFor(k)

	st.mu.Lock()
	defer st.mu.Unlock()

	delete(st.inflight, n)
	if len(st.inflight) == 0 {
		st.pending = st.confirmed
	}
	m.markReleased(k, n)
	metrics.ObserveNonceRelease(k.chain)
}

// DetectGaps 强制同步后报告既未确认也未释放的 nonce 空洞。
// 这些空洞需要运维介入（补发或替换卡住的交易），不会自动修复。
func (m *Manager) DetectGaps(ctx context.Context, chain, address string) []uint64 {
	k := normalizeKey(chain, address)
	st := m.stateFor(k)

	st.mu.Lock()
	defer st.mu.Unlock()

	m.syncLocked(ctx, st, k)

	if len(st.inflight) == 0 {
		return nil
	}

	pending := make([]uint64, 0, len(st.inflight))
	for n := range st.inflight {
		pending = append(pending, n)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i] < pending[j] })

	var gaps []uint64
	for n := st.confirmed; n < pending[0]; n++ {
		gaps = append(gaps, n)
	}
	for i := 0; i+1 < len(pending); i++ {
		for n := pending[i] + 1; n < pending[i+1]; n++ {
			gaps = append(gaps, n)
		}
	}

	if len(gaps) > 0 {
		m.logger.Warn("检测到 nonce 空洞",
			slog.String("chain", k.chain),
			slog.String("address", k.address),
			slog.Any("gaps", gaps))
	}
	return gaps
}

// Reset 丢弃该 key 的全部内存状态并重新同步，是显式的运维恢复动作。
func (m *Manager) Reset(ctx context.Context, chain, address string) {
	k := normalizeKey(chain, address)

	m.mu.Lock()
	delete(m.states, k)
	m.mu.Unlock()

	st := m.stateFor(k)
	st.mu.Lock()
	defer st.mu.Unlock()
	m.syncLocked(ctx, st, k)
}

// State 返回该 key 当前状态的只读副本。
func (m *Manager) State(chain, address string) Snapshot {
	k := normalizeKey(chain, address)
	st := m.stateFor(k)

	st.mu.Lock()
	defer st.mu.Unlock()

	inflight := make([]uint64, 0, len(st.inflight))
	for n := range st.inflight {
		inflight = append(inflight, n)
	}
	sort.Slice(inflight, func(i, j int) bool { return inflight[i] < inflight[j] })

	return Snapshot{
		Chain:      k.chain,
		Address:    k.address,
		Confirmed:  st.confirmed,
		Pending:    st.pending,
		InFlight:   inflight,
		LastSyncAt: st.lastSync,
	}
}

// Allocations 返回审计记录的副本，仅供诊断使用。
func (m *Manager) Allocations() []Allocation {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	out := make([]Allocation, 0, len(m.audit))
	for _, rec := range m.audit {
		out = append(out, *rec)
	}
	return out
}

func (m *Manager) recordAllocation(k key, n uint64) {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	m.audit = append(m.audit, &Allocation{
		Chain:       k.chain,
		Address:     k.address,
		Nonce:       n,
		AllocatedAt: time.Now(),
	})
	if len(m.audit) > auditRingSize {
		m.audit = m.audit[len(m.audit)-auditRingSize:]
	}
}

func (m *Manager) markReleased(k key, n uint64) {
	m.auditMu.Lock()
	defer m.auditMu.Unlock()
	for i := len(m.audit) - 1; i >= 0; i-- {
		rec := m.audit[i]
		if rec.Chain == k.chain && rec.Address == k.address && rec.Nonce == n {
			rec.Released = true
			return
		}
	}
}
