package assertion

import (
	"context"
	stdErrors "errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "OpenOracle-Chain/internal/errors"
	"OpenOracle-Chain/internal/events"
	"OpenOracle-Chain/internal/identity"
	"OpenOracle-Chain/internal/market"
	"OpenOracle-Chain/internal/observability/alerting"
	"OpenOracle-Chain/internal/oracle"
	"OpenOracle-Chain/internal/reputation"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type captureProducer struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *captureProducer) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *captureProducer) Close() error { return nil }

func (p *captureProducer) byType(eventType events.Type) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	matched := make([]events.Event, 0, len(p.events))
	for _, event := range p.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

type captureDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (d *captureDispatcher) Notify(_ context.Context, event alerting.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
	return nil
}

type ledgerHarness struct {
	ledger   *Ledger
	store    *MemoryStore
	scores   reputation.Store
	markets  *market.MemoryProvider
	agents   *identity.MemoryRegistry
	oracle   *oracle.Manual
	clock    *fakeClock
	producer *captureProducer
	marketID common.Hash
}

const (
	testAsserter = uint64(1)
	testDisputer = uint64(2)
)

var testAuthority = common.HexToAddress("0x00000000000000000000000000000000000000aa")

func newLedgerHarness(t *testing.T) *ledgerHarness {
	t.Helper()

	clock := newFakeClock(time.Unix(1_700_000_000, 0))
	store := NewMemoryStore()
	scores := reputation.NewMemoryStore()
	producer := &captureProducer{}

	recorder, err := reputation.NewRecorder(testAuthority, scores)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	marketID := common.HexToHash("0x5150")
	markets := market.NewMemoryProvider()
	markets.Put(market.Definition{
		ID:          marketID,
		Description: "ETH above 5k by Friday",
		Outcomes:    []string{"Yes", "No"},
		MinimumBond: big.NewInt(1000),
		Liveness:    2 * time.Hour,
		Volume:      big.NewInt(50_000),
	})

	agents := identity.NewMemoryRegistry()
	agents.Register(identity.AgentRecord{ID: testAsserter, Name: "asserter"})
	agents.Register(identity.AgentRecord{ID: testDisputer, Name: "disputer"})

	orc := oracle.NewManual()

	ledger, err := NewLedger(testAuthority, store, markets, agents, orc, recorder,
		WithClock(clock.Now),
		WithLedgerEvents(producer),
	)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	return &ledgerHarness{
		ledger:   ledger,
		store:    store,
		scores:   scores,
		markets:  markets,
		agents:   agents,
		oracle:   orc,
		clock:    clock,
		producer: producer,
		marketID: marketID,
	}
}

func (h *ledgerHarness) open(t *testing.T) *Assertion {
	t.Helper()
	a, err := h.ledger.Open(context.Background(), OpenRequest{
		MarketID: h.marketID,
		Outcome:  "Yes",
		Asserter: testAsserter,
		Bond:     big.NewInt(1000),
	})
	if err != nil {
		t.Fatalf("open assertion: %v", err)
	}
	return a
}

func TestLedgerOpenValidations(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  OpenRequest
		want error
	}{
		{
			name: "unknown market",
			req:  OpenRequest{MarketID: common.HexToHash("0xdead"), Outcome: "Yes", Asserter: testAsserter, Bond: big.NewInt(1000)},
			want: market.ErrMarketNotFound,
		},
		{
			name: "unknown agent",
			req:  OpenRequest{MarketID: h.marketID, Outcome: "Yes", Asserter: 42, Bond: big.NewInt(1000)},
			want: identity.ErrAgentNotFound,
		},
		{
			name: "invalid outcome",
			req:  OpenRequest{MarketID: h.marketID, Outcome: "Maybe", Asserter: testAsserter, Bond: big.NewInt(1000)},
			want: ErrInvalidOutcome,
		},
		{
			name: "bond below minimum",
			req:  OpenRequest{MarketID: h.marketID, Outcome: "Yes", Asserter: testAsserter, Bond: big.NewInt(999)},
			want: ErrInsufficientBond,
		},
		{
			name: "nil bond",
			req:  OpenRequest{MarketID: h.marketID, Outcome: "Yes", Asserter: testAsserter},
			want: ErrInsufficientBond,
		},
	}
	for _, tc := range cases {
		if _, err := h.ledger.Open(ctx, tc.req); !stdErrors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	if _, err := h.ledger.Open(ctx, OpenRequest{MarketID: h.marketID, Outcome: "Yes", Bond: big.NewInt(1000)}); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument for zero asserter, got %v", err)
	}

	stats, err := h.ledger.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 0 {
		t.Fatalf("rejected opens must not persist assertions: %+v", stats)
	}
}

func TestLedgerOpenAndMarketBusy(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()

	bond := big.NewInt(1000)
	a, err := h.ledger.Open(ctx, OpenRequest{MarketID: h.marketID, Outcome: "Yes", Asserter: testAsserter, Bond: bond})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if a.Status != StatusPending {
		t.Fatalf("expected pending status, got %s", a.Status)
	}
	wantExpiry := h.clock.Now().Unix() + 7200
	if a.ExpiresAt != wantExpiry {
		t.Fatalf("expected expiry %d, got %d", wantExpiry, a.ExpiresAt)
	}
	if a.Volume.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("volume snapshot not taken from market: %s", a.Volume)
	}

	// 请求中的保证金被复制托管，调用方事后修改不影响账本。
	bond.SetInt64(1)
	stored, err := h.ledger.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Bond.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("bond escrow aliased caller memory: %s", stored.Bond)
	}

	if _, err := h.ledger.Open(ctx, OpenRequest{MarketID: h.marketID, Outcome: "No", Asserter: testDisputer, Bond: big.NewInt(1000)}); !stdErrors.Is(err, ErrMarketBusy) {
		t.Fatalf("expected market busy, got %v", err)
	}

	// 其他市场不受影响。
	otherID := common.HexToHash("0x5151")
	h.markets.Put(market.Definition{ID: otherID, Outcomes: []string{"Yes", "No"}, MinimumBond: big.NewInt(1000), Liveness: time.Hour, Volume: big.NewInt(10)})
	if _, err := h.ledger.Open(ctx, OpenRequest{MarketID: otherID, Outcome: "No", Asserter: testDisputer, Bond: big.NewInt(1000)}); err != nil {
		t.Fatalf("open on idle market: %v", err)
	}

	opened := h.producer.byType(events.TypeAssertionOpened)
	if len(opened) != 2 {
		t.Fatalf("expected 2 opened events, got %d", len(opened))
	}
}

func TestLedgerUnchallengedSettlement(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()

	a := h.open(t)

	if _, err := h.ledger.Settle(ctx, a.ID); !stdErrors.Is(err, ErrNotYetResolved) {
		t.Fatalf("expected not yet resolved before expiry, got %v", err)
	}
	if !xerrors.RetryableError(ErrNotYetResolved) {
		t.Fatalf("not yet resolved must be retryable")
	}

	h.clock.Advance(2*time.Hour + time.Second)

	settled, err := h.ledger.Settle(ctx, a.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Status != StatusResolved {
		t.Fatalf("expected resolved, got %s", settled.Status)
	}
	if settled.Payout == nil || settled.Payout.Winner != testAsserter {
		t.Fatalf("bond must return to the asserter: %+v", settled.Payout)
	}
	if settled.Payout.Amount.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("unchallenged payout must equal the bond: %s", settled.Payout.Amount)
	}

	score, err := h.scores.Get(ctx, testAsserter)
	if err != nil {
		t.Fatalf("get score: %v", err)
	}
	if score.TotalAssertions != 1 || score.SuccessfulAssertions != 1 {
		t.Fatalf("unexpected reputation after success: %+v", score)
	}
	if score.TotalVolume.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("volume not accumulated: %s", score.TotalVolume)
	}

	// 重复结算幂等：返回终态与 ErrAlreadySettled，不再记账。
	again, err := h.ledger.Settle(ctx, a.ID)
	if !stdErrors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected already settled, got %v", err)
	}
	if again.Status != StatusResolved || again.Payout.Winner != testAsserter {
		t.Fatalf("repeat settle changed terminal state: %+v", again)
	}
	score, err = h.scores.Get(ctx, testAsserter)
	if err != nil {
		t.Fatalf("get score after repeat: %v", err)
	}
	if score.TotalAssertions != 1 {
		t.Fatalf("repeat settle recorded reputation twice: %+v", score)
	}

	if got := len(h.producer.byType(events.TypeAssertionSettled)); got != 1 {
		t.Fatalf("expected exactly 1 settled event, got %d", got)
	}
}

func TestLedgerDisputeUpheld(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()

	a := h.open(t)

	if _, err := h.ledger.Dispute(ctx, DisputeRequest{AssertionID: a.ID, Disputer: testDisputer, CounterBond: big.NewInt(999)}); !stdErrors.Is(err, ErrBondMismatch) {
		t.Fatalf("expected bond mismatch, got %v", err)
	}
	if _, err := h.ledger.Dispute(ctx, DisputeRequest{AssertionID: a.ID, Disputer: 42, CounterBond: big.NewInt(1000)}); !stdErrors.Is(err, identity.ErrAgentNotFound) {
		t.Fatalf("expected unknown agent, got %v", err)
	}

	disputed, err := h.ledger.Dispute(ctx, DisputeRequest{AssertionID: a.ID, Disputer: testDisputer, CounterBond: big.NewInt(1000)})
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if disputed.Status != StatusDisputed || disputed.Disputer != testDisputer {
		t.Fatalf("unexpected disputed state: %+v", disputed)
	}

	pending := h.oracle.Pending()
	if len(pending) != 1 || pending[0].AssertionID != a.ID || pending[0].Disputer != testDisputer {
		t.Fatalf("dispute not referred to the oracle: %+v", pending)
	}

	if _, err := h.ledger.Dispute(ctx, DisputeRequest{AssertionID: a.ID, Disputer: testDisputer, CounterBond: big.NewInt(1000)}); !stdErrors.Is(err, ErrNotPending) {
		t.Fatalf("expected not pending on second dispute, got %v", err)
	}

	if _, err := h.ledger.Settle(ctx, a.ID); !stdErrors.Is(err, ErrNotYetResolved) {
		t.Fatalf("expected not yet resolved without verdict, got %v", err)
	}

	if err := h.oracle.Submit(a.ID, true); err != nil {
		t.Fatalf("submit verdict: %v", err)
	}
	settled, err := h.ledger.Settle(ctx, a.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Status != StatusResolved {
		t.Fatalf("upheld verdict must resolve, got %s", settled.Status)
	}
	if settled.Payout.Winner != testAsserter || settled.Payout.Amount.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("winner must take the whole pool: %+v", settled.Payout)
	}

	score, err := h.scores.Get(ctx, testAsserter)
	if err != nil {
		t.Fatalf("get score: %v", err)
	}
	if score.TotalAssertions != 1 || score.SuccessfulAssertions != 1 {
		t.Fatalf("unexpected reputation: %+v", score)
	}

	if _, err := h.ledger.Dispute(ctx, DisputeRequest{AssertionID: a.ID, Disputer: testDisputer, CounterBond: big.NewInt(1000)}); !stdErrors.Is(err, ErrNotPending) {
		t.Fatalf("expected not pending after settlement, got %v", err)
	}
}

func TestLedgerDisputeRejected(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()

	a := h.open(t)
	if _, err := h.ledger.Dispute(ctx, DisputeRequest{AssertionID: a.ID, Disputer: testDisputer, CounterBond: big.NewInt(1000)}); err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if err := h.oracle.Submit(a.ID, false); err != nil {
		t.Fatalf("submit verdict: %v", err)
	}

	settled, err := h.ledger.Settle(ctx, a.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Status != StatusRejected {
		t.Fatalf("rejected verdict must reject, got %s", settled.Status)
	}
	if settled.Payout.Winner != testDisputer || settled.Payout.Amount.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("disputer must take the whole pool: %+v", settled.Payout)
	}

	// 失败计入断言方的总数但不计成功，成交量照常累加。
	score, err := h.scores.Get(ctx, testAsserter)
	if err != nil {
		t.Fatalf("get asserter score: %v", err)
	}
	if score.TotalAssertions != 1 || score.SuccessfulAssertions != 0 {
		t.Fatalf("unexpected asserter reputation: %+v", score)
	}
	if score.TotalVolume.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("volume must accumulate on failure too: %s", score.TotalVolume)
	}

	// 质疑方胜诉只赢保证金池，不改变自身声誉。
	disputerScore, err := h.scores.Get(ctx, testDisputer)
	if err != nil {
		t.Fatalf("get disputer score: %v", err)
	}
	if disputerScore.TotalAssertions != 0 {
		t.Fatalf("disputer reputation must stay untouched: %+v", disputerScore)
	}
}

func TestLedgerDisputeWindowClosed(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()

	a := h.open(t)
	h.clock.Advance(2 * time.Hour)

	if _, err := h.ledger.Dispute(ctx, DisputeRequest{AssertionID: a.ID, Disputer: testDisputer, CounterBond: big.NewInt(1000)}); !stdErrors.Is(err, ErrNotPending) {
		t.Fatalf("expected not pending after window close, got %v", err)
	}

	settled, err := h.ledger.Settle(ctx, a.ID)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if settled.Status != StatusResolved {
		t.Fatalf("expected resolved, got %s", settled.Status)
	}
}

func TestLedgerConcurrentSettleRecordsOnce(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()

	a := h.open(t)
	h.clock.Advance(3 * time.Hour)

	const goroutines = 16
	var wg sync.WaitGroup
	outcomes := make(chan error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ledger.Settle(ctx, a.ID)
			outcomes <- err
		}()
	}
	wg.Wait()
	close(outcomes)

	var settledCount, repeatCount int
	for err := range outcomes {
		switch {
		case err == nil:
			settledCount++
		case stdErrors.Is(err, ErrAlreadySettled):
			repeatCount++
		default:
			t.Fatalf("unexpected settle error: %v", err)
		}
	}
	if settledCount != 1 || repeatCount != goroutines-1 {
		t.Fatalf("expected exactly one winning settle, got %d wins / %d repeats", settledCount, repeatCount)
	}

	score, err := h.scores.Get(ctx, testAsserter)
	if err != nil {
		t.Fatalf("get score: %v", err)
	}
	if score.TotalAssertions != 1 || score.SuccessfulAssertions != 1 {
		t.Fatalf("concurrent settles must record exactly once: %+v", score)
	}
}

func TestLedgerConcurrentOpensSingleWinner(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()

	const goroutines = 8
	var wg sync.WaitGroup
	outcomes := make(chan error, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ledger.Open(ctx, OpenRequest{
				MarketID: h.marketID,
				Outcome:  "Yes",
				Asserter: testAsserter,
				Bond:     big.NewInt(1000),
			})
			outcomes <- err
		}()
	}
	wg.Wait()
	close(outcomes)

	var opened, busy int
	for err := range outcomes {
		switch {
		case err == nil:
			opened++
		case stdErrors.Is(err, ErrMarketBusy):
			busy++
		default:
			t.Fatalf("unexpected open error: %v", err)
		}
	}
	if opened != 1 || busy != goroutines-1 {
		t.Fatalf("expected exactly one open to win, got %d wins / %d busy", opened, busy)
	}

	stats, err := h.ledger.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 1 || stats.Pending != 1 {
		t.Fatalf("unexpected ledger stats: %+v", stats)
	}
}

func TestLedgerReputationSyncFailureAlerts(t *testing.T) {
	h := newLedgerHarness(t)
	ctx := context.Background()
	alerts := &captureDispatcher{}

	// 账本身份与记录员权限不一致时，结算落库成功而记账被拒。
	stranger := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	recorder, err := reputation.NewRecorder(testAuthority, h.scores)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	mismatched, err := NewLedger(stranger, h.store, h.markets, h.agents, h.oracle, recorder,
		WithClock(h.clock.Now),
		WithAlertDispatcher(alerts),
	)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	created, err := mismatched.Open(ctx, OpenRequest{
		MarketID: h.marketID,
		Outcome:  "Yes",
		Asserter: testAsserter,
		Bond:     big.NewInt(1000),
	})
	if err != nil {
		t.Fatalf("open assertion: %v", err)
	}
	h.clock.Advance(2*time.Hour + time.Minute)

	settled, err := mismatched.Settle(ctx, created.ID)
	if xerrors.CodeOf(err) != CodeReputationSync {
		t.Fatalf("unexpected settle error: %v", err)
	}
	if settled == nil || settled.Status != StatusResolved {
		t.Fatalf("settlement must land despite the sync failure: %+v", settled)
	}

	stored, err := h.store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get assertion: %v", err)
	}
	if stored.Status != StatusResolved {
		t.Fatalf("stored assertion not terminal: %s", stored.Status)
	}

	score, err := h.scores.Get(ctx, testAsserter)
	if err != nil {
		t.Fatalf("get score: %v", err)
	}
	if score.TotalAssertions != 0 {
		t.Fatalf("reputation must stay untouched: %+v", score)
	}

	alerts.mu.Lock()
	captured := append([]alerting.Event(nil), alerts.events...)
	alerts.mu.Unlock()
	if len(captured) != 1 {
		t.Fatalf("expected one alert, got %d", len(captured))
	}
	if captured[0].Code != CodeReputationSync || captured[0].Stage != "record" {
		t.Fatalf("unexpected alert: %+v", captured[0])
	}
	if captured[0].AssertionID != created.ID.Hex() {
		t.Fatalf("alert must carry the assertion id: %+v", captured[0])
	}

	// 重复结算只返回幂等错误，不补记信誉。
	if _, err := mismatched.Settle(ctx, created.ID); !stdErrors.Is(err, ErrAlreadySettled) {
		t.Fatalf("repeat settle should report already settled, got %v", err)
	}
	score, err = h.scores.Get(ctx, testAsserter)
	if err != nil {
		t.Fatalf("get score: %v", err)
	}
	if score.TotalAssertions != 0 {
		t.Fatalf("repeat settle must not record reputation: %+v", score)
	}
}
