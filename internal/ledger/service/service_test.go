package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/orderbridge/internal/clock"
	"github.com/smallbiznis/orderbridge/internal/config"
	ledgerdomain "github.com/smallbiznis/orderbridge/internal/ledger/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var occurredAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&ledgerdomain.Entry{}, &ledgerdomain.EntryLine{}))
	return db
}

func newTestService(t *testing.T, db *gorm.DB, ledgerCfg config.LedgerConfig) *Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	return NewService(Params{
		Cfg:   config.Config{Ledger: ledgerCfg},
		DB:    db,
		Log:   zaptest.NewLogger(t),
		GenID: node,
		Clock: clock.NewFakeClock(occurredAt),
	})
}

func paymentRequest(txID string) ledgerdomain.SyncRequest {
	return ledgerdomain.SyncRequest{
		SourceType:    ledgerdomain.SourceTypePayment,
		TransactionID: txID,
		InvoiceID:     "42",
		OrderID:       "17",
		Amount:        29900,
		Currency:      "czk",
		Method:        "card",
		OccurredAt:    occurredAt,
	}
}

func TestCreateEntryIsBalancedAndIdempotent(t *testing.T) {
	db := newTestDB(t)
	svc := newTestService(t, db, config.LedgerConfig{})

	id, inserted, err := svc.CreateEntry(context.Background(), paymentRequest("TX1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	again, inserted, err := svc.CreateEntry(context.Background(), paymentRequest("TX1"))
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, id, again)

	var lines []ledgerdomain.EntryLine
	require.NoError(t, db.Where("ledger_entry_id = ?", id).Order("direction DESC").Find(&lines).Error)
	require.Len(t, lines, 2)
	assert.Equal(t, ledgerdomain.AccountCodeCash, lines[0].AccountCode)
	assert.Equal(t, ledgerdomain.EntryDirectionDebit, lines[0].Direction)
	assert.Equal(t, ledgerdomain.AccountCodeAccountsReceivable, lines[1].AccountCode)
	assert.NoError(t, ledgerdomain.ValidateBalanced(lines))
}

func TestRefundPostsAgainstRefundLiability(t *testing.T) {
	req := paymentRequest("TX1")
	req.SourceType = ledgerdomain.SourceTypeRefund
	lines := req.Postings()
	assert.Equal(t, ledgerdomain.AccountCodeRefundLiability, lines[0].AccountCode)
	assert.Equal(t, ledgerdomain.AccountCodeCash, lines[1].AccountCode)
	assert.Equal(t, "refund:TX1", req.SourceRef())

	req.RefundedTotal = 20000
	assert.Equal(t, "refund:TX1:20000", req.SourceRef())
	req.SourceType = ledgerdomain.SourceTypePayment
	assert.Equal(t, "payment:TX1", req.SourceRef())
}

type fakeLedger struct {
	mu      sync.Mutex
	status  int
	entries []remoteEntry
	keys    []string
}

func (f *fakeLedger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var entry remoteEntry
	_ = json.NewDecoder(r.Body).Decode(&entry)
	f.mu.Lock()
	f.entries = append(f.entries, entry)
	f.keys = append(f.keys, r.Header.Get("Idempotency-Key"))
	status := f.status
	f.mu.Unlock()
	if status == 0 {
		status = http.StatusCreated
	}
	w.WriteHeader(status)
}

func (f *fakeLedger) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func TestSyncPushesRemoteAndMarksEntry(t *testing.T) {
	fake := &fakeLedger{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	db := newTestDB(t)
	svc := newTestService(t, db, config.LedgerConfig{URL: srv.URL, Token: "tok", PushRemote: true})

	require.NoError(t, svc.Sync(context.Background(), paymentRequest("TX1")))
	require.Equal(t, 1, fake.count())
	assert.Equal(t, "payment:TX1", fake.keys[0])
	assert.Equal(t, "CZK", fake.entries[0].Currency)

	var entry ledgerdomain.Entry
	require.NoError(t, db.Where("source_ref = ?", "payment:TX1").Take(&entry).Error)
	assert.NotNil(t, entry.RemoteSyncedAt)
}

func TestSyncReportsRemoteFailure(t *testing.T) {
	fake := &fakeLedger{status: http.StatusBadGateway}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc := newTestService(t, newTestDB(t), config.LedgerConfig{URL: srv.URL, PushRemote: true})
	err := svc.Sync(context.Background(), paymentRequest("TX1"))
	require.Error(t, err)

	fake.mu.Lock()
	fake.status = http.StatusConflict
	fake.mu.Unlock()
	assert.NoError(t, svc.Sync(context.Background(), paymentRequest("TX1")))
}

func TestEnqueueRejectsInvalidAndProcessesInBackground(t *testing.T) {
	fake := &fakeLedger{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	svc := newTestService(t, nil, config.LedgerConfig{URL: srv.URL, PushRemote: true, QueueSize: 4})

	bad := paymentRequest("")
	assert.False(t, svc.Enqueue(context.Background(), bad))

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	assert.True(t, svc.Enqueue(context.Background(), paymentRequest("TX1")))
	assert.True(t, svc.Enqueue(context.Background(), paymentRequest("TX2")))

	require.Eventually(t, func() bool { return fake.count() == 2 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	svc.Wait()
}

func TestEnqueueDropsWhenQueueFull(t *testing.T) {
	svc := newTestService(t, nil, config.LedgerConfig{QueueSize: 1})
	assert.True(t, svc.Enqueue(context.Background(), paymentRequest("TX1")))
	assert.False(t, svc.Enqueue(context.Background(), paymentRequest("TX2")))
}
