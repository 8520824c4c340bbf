package recovery

import (
	"context"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shohag/reclaim/internal/config"
	"github.com/shohag/reclaim/internal/gateway"
	"github.com/shohag/reclaim/internal/models"
	"github.com/shohag/reclaim/internal/notify"
	"github.com/shohag/reclaim/internal/retry"
	"github.com/shohag/reclaim/internal/storage"
)

// hangingGateway answers only once the attempt context is done.
type hangingGateway struct {
	calls chan string
}

func (g *hangingGateway) RetryInvoice(ctx context.Context, invoiceID string, acct *models.Account) gateway.Result {
	g.calls <- invoiceID
	<-ctx.Done()
	return gateway.Result{Outcome: gateway.OutcomeGatewayError, Message: ctx.Err().Error()}
}

func newSQLiteStore(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	s, err := storage.NewSQLite(filepath.Join(t.TempDir(), "reclaim.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func seedAccount(t *testing.T, s *storage.SQLiteStorage) *models.Account {
	t.Helper()
	acct := &models.Account{ID: "acct_1", Name: "Acme", APIKey: "rk_1", Connected: true, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, s.CreateAccount(context.Background(), acct))
	return acct
}

// silentSMTP accepts connections and never sends a greeting.
func silentSMTP(t *testing.T) config.SMTPConfig {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var conns []net.Conn
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			conns = append(conns, c)
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		<-done
		for _, c := range conns {
			c.Close()
		}
	})

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return config.SMTPConfig{Enabled: true, Host: host, Port: p, From: "billing@example.com", Timeout: time.Minute}
}

func TestProcessDue_AttemptPastBatchDeadlineIsCounted(t *testing.T) {
	store := newSQLiteStore(t)
	acct := seedAccount(t, store)
	gw := &hangingGateway{calls: make(chan string, 4)}
	notifier := &fakeNotifier{}

	clock := t0
	worker := NewWorker(store, gw, notifier, retry.DefaultScheduler(), DefaultPolicy(), 10*time.Second, zerolog.Nop())
	worker.now = func() time.Time { return clock }
	svc := NewService(store, worker, zerolog.Nop())
	proc := NewProcessor(config.RecoveryConfig{BatchSize: 10, Workers: 1, BatchTimeout: 200 * time.Millisecond}, store, worker, zerolog.Nop())

	p, created, err := svc.HandleFailed(context.Background(), acct, failedInvoice("in_1", "card_declined"))
	require.NoError(t, err)
	require.True(t, created)

	clock = t0.Add(4 * time.Hour)
	res, err := proc.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Len(t, gw.calls, 1)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Rescheduled)
	assert.Zero(t, res.Errors)

	got, err := store.GetPayment(context.Background(), p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.RetryCount)
	require.Len(t, got.RetryHistory, 1)
	assert.False(t, got.RetryHistory[0].Success)
	assert.Contains(t, got.RetryHistory[0].Error, "deadline exceeded")
	assertInvariants(t, got)
}

func TestProcessDue_UnresponsiveMailServerDoesNotBlockBatch(t *testing.T) {
	store := newSQLiteStore(t)
	acct := seedAccount(t, store)
	gw := newFakeGateway()
	mailer := notify.NewSMTP(silentSMTP(t), zerolog.Nop())

	clock := t0
	worker := NewWorker(store, gw, mailer, retry.DefaultScheduler(), DefaultPolicy(), 200*time.Millisecond, zerolog.Nop())
	worker.now = func() time.Time { return clock }
	svc := NewService(store, worker, zerolog.Nop())
	proc := NewProcessor(config.RecoveryConfig{BatchSize: 10, Workers: 1, BatchTimeout: 300 * time.Millisecond}, store, worker, zerolog.Nop())

	start := time.Now()
	p, created, err := svc.HandleFailed(context.Background(), acct, failedInvoice("in_1", "card_declined"))
	require.NoError(t, err)
	require.True(t, created)
	assert.Less(t, time.Since(start), 3*time.Second)

	clock = t0.Add(4 * time.Hour)
	start = time.Now()
	res, err := proc.ProcessDue(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.Equal(t, 1, res.Processed)

	got, err := store.GetPayment(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.RetryCount)
	assert.Empty(t, got.EmailsSent)
}
