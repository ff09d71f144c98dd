//go:build integration

package integration

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auditapp "github.com/dmehra2102/order-placement/internal/audit/application"
	auditdomain "github.com/dmehra2102/order-placement/internal/audit/domain"
	auditkafka "github.com/dmehra2102/order-placement/internal/audit/infrastructure/kafka"
	auditpg "github.com/dmehra2102/order-placement/internal/audit/infrastructure/postgres"
	"github.com/dmehra2102/order-placement/internal/catalog"
	inventoryapp "github.com/dmehra2102/order-placement/internal/inventory/application"
	inventorydomain "github.com/dmehra2102/order-placement/internal/inventory/domain"
	inventorypg "github.com/dmehra2102/order-placement/internal/inventory/infrastructure/postgres"
	orchestrator "github.com/dmehra2102/order-placement/internal/orchestrator/application"
	orderapp "github.com/dmehra2102/order-placement/internal/order/application"
	orderdomain "github.com/dmehra2102/order-placement/internal/order/domain"
	orderpg "github.com/dmehra2102/order-placement/internal/order/infrastructure/postgres"
	"github.com/dmehra2102/order-placement/internal/platform/postgres"
	"github.com/dmehra2102/order-placement/pkg/logging"
	"github.com/dmehra2102/order-placement/pkg/outbox"
)

type stack struct {
	pool   *pgxpool.Pool
	ledger *inventoryapp.Ledger
	trail  *auditapp.Trail
	coord  *orchestrator.Coordinator
}

func newStack(t *testing.T, env *Env) *stack {
	t.Helper()
	ctx := context.Background()
	log := logging.Discard()

	pool, err := postgres.Open(ctx, env.PGURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, postgres.Migrate(ctx, pool))

	ledger := inventoryapp.NewLedger(log, inventorypg.NewRepository(log, pool))
	trail := auditapp.NewTrail(log, auditpg.NewRepository(log, pool))
	cat := catalog.NewStatic().AddCustomer("c1").SetPrice("A", 500).SetPrice("B", 250)
	coord := orchestrator.NewCoordinator(log, ledger,
		orderapp.NewStore(log, orderpg.NewRepository(log, pool)),
		trail, cat, cat,
		orchestrator.WithReserveTimeout(10*time.Second),
	)
	return &stack{pool: pool, ledger: ledger, trail: trail, coord: coord}
}

func collect(t *testing.T, trail *auditapp.Trail, since int64) []auditdomain.Event {
	t.Helper()
	var out []auditdomain.Event
	for ev, err := range trail.Stream(context.Background(), since) {
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func TestPlacementAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	env, err := Setup(ctx, false)
	require.NoError(t, err)
	t.Cleanup(func() { env.Teardown(context.Background()) })

	s := newStack(t, env)
	_, err = s.ledger.Restock(ctx, "A", 10)
	require.NoError(t, err)
	_, err = s.ledger.Restock(ctx, "B", 1)
	require.NoError(t, err)

	t.Run("confirmed order", func(t *testing.T) {
		id, err := s.coord.PlaceOrder(ctx, "c1", []orchestrator.LineRequest{{SKU: "A", Quantity: 3}, {SKU: "B", Quantity: 1}})
		require.NoError(t, err)

		view, err := s.coord.GetOrder(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, orderdomain.StatusConfirmed, view.Status)
		assert.Equal(t, int64(1750), view.TotalCents)

		n, err := s.coord.CurrentAvailable(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 7, n)
		assert.Len(t, collect(t, s.trail, 0), 5)
	})

	t.Run("insufficient stock leaves nothing behind", func(t *testing.T) {
		before := collect(t, s.trail, 0)
		_, err := s.coord.PlaceOrder(ctx, "c1", []orchestrator.LineRequest{{SKU: "A", Quantity: 1}, {SKU: "B", Quantity: 1}})
		require.ErrorIs(t, err, inventorydomain.ErrInsufficientStock)

		n, err := s.coord.CurrentAvailable(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 7, n)

		after := collect(t, s.trail, before[len(before)-1].Seq)
		require.Len(t, after, 1)
		assert.Equal(t, auditdomain.ActionReservationFailed, after[0].Action)
	})

	t.Run("audit rows cannot be rewritten", func(t *testing.T) {
		_, err := s.pool.Exec(ctx, `UPDATE audit_events SET actor='mallory' WHERE seq=1`)
		assert.Error(t, err)
		_, err = s.pool.Exec(ctx, `DELETE FROM audit_events WHERE seq=1`)
		assert.Error(t, err)
	})

	t.Run("concurrent orders never oversell", func(t *testing.T) {
		_, err := s.ledger.Restock(ctx, "A", 5)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var mu sync.Mutex
		placed := 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.coord.PlaceOrder(ctx, "c1", []orchestrator.LineRequest{{SKU: "A", Quantity: 1}})
				if err == nil {
					mu.Lock()
					placed++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		n, err := s.coord.CurrentAvailable(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 5, placed)
		assert.Equal(t, 0, n)
	})
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", broker)
	require.NoError(t, err)
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err)
	cconn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)
	defer cconn.Close()

	require.NoError(t, cconn.CreateTopics(kafkago.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1}))
}

func TestAuditEventsReachKafka(t *testing.T) {
	ctx := context.Background()
	env, err := Setup(ctx, true)
	require.NoError(t, err)
	t.Cleanup(func() { env.Teardown(context.Background()) })

	s := newStack(t, env)
	log := logging.Discard()
	topic := fmt.Sprintf("audit.events.%d", time.Now().UnixNano())

	createTopic(t, env.KAddr[0], topic)

	_, err = s.ledger.Restock(ctx, "A", 2)
	require.NoError(t, err)
	_, err = s.coord.PlaceOrder(ctx, "c1", []orchestrator.LineRequest{{SKU: "A", Quantity: 1}})
	require.NoError(t, err)

	writer := auditkafka.NewWriter(env.KAddr)
	t.Cleanup(func() { _ = writer.Close() })
	relay := outbox.NewRelay(log, outbox.NewPostgresStore(log, s.pool), outbox.NewDispatcher(log, writer, topic), "it-relay")

	require.Eventually(t, func() bool {
		n, err := relay.RelayOnce(ctx)
		return err == nil && n == 3
	}, 30*time.Second, 500*time.Millisecond)

	var mu sync.Mutex
	var got []auditdomain.Event
	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	consumer := auditkafka.NewConsumer(log, env.KAddr, topic, "it-group", nil, func(_ context.Context, ev auditdomain.Event) error {
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		return nil
	})
	go func() { _ = consumer.Run(consumeCtx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Minute, time.Second)
	assert.Equal(t, auditdomain.EntityOrder, got[0].EntityType)
}
