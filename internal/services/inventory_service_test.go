package services_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"shoporder/internal/models"
	"shoporder/internal/repositories"
	"shoporder/internal/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInventoryService_ReserveAndRestore(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	inv := services.NewInventoryService()
	products := repositories.NewGORMProductRepository(e.db)
	a := e.seedProduct(t, "A", "1000", 5)
	b := e.seedProduct(t, "B", "1000", 2)

	// Duplicate lines are merged before checking stock.
	err := inv.Reserve(ctx, products, []services.StockLine{{ProductID: a.ID, Quantity: 2}, {ProductID: a.ID, Quantity: 3}})
	require.NoError(t, err)
	assert.Equal(t, int64(0), e.stock(t, a.ID))

	err = inv.Reserve(ctx, products, []services.StockLine{{ProductID: b.ID, Quantity: 3}})
	assert.True(t, errors.Is(err, services.ErrInsufficientStock))
	assert.Equal(t, int64(2), e.stock(t, b.ID))

	err = inv.Reserve(ctx, products, []services.StockLine{{ProductID: b.ID, Quantity: 0}})
	requireAppCode(t, err, http.StatusBadRequest)

	require.NoError(t, inv.Restore(ctx, products, []services.StockLine{{ProductID: a.ID, Quantity: 5}, {ProductID: 9999, Quantity: 1}}))
	assert.Equal(t, int64(5), e.stock(t, a.ID))
}

// Concurrent checkouts never sell more than the stock on hand.
func TestInventory_ConcurrentCheckoutsDoNotOversell(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.seedProduct(t, "Limited", "1000", 5)

	const buyers = 12
	for i := 0; i < buyers; i++ {
		e.addToCart(t, int64(1000+i), p.ID, 1)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			actor := models.Actor{UserID: int64(1000 + i), Role: models.RoleCustomer}
			_, err := e.orders.CreateOrderFromCart(ctx, actor, services.CheckoutInput{PaymentMethod: models.PaymentMethodCOD})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			assert.True(t, errors.Is(err, services.ErrInsufficientStock), fmt.Sprint(err))
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, success)
	assert.Equal(t, int64(0), e.stock(t, p.ID))

	var reserved int64
	require.NoError(t, e.db.Model(&models.OrderItem{}).Select("COALESCE(SUM(quantity), 0)").Scan(&reserved).Error)
	assert.Equal(t, int64(5), reserved)
}
