package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"shoporder/internal/models"
	"shoporder/internal/repositories"
	"shoporder/pkg/logger"

	"go.uber.org/zap"
)

// StockLine is a quantity of one product to reserve or restore.
type StockLine struct {
	ProductID int64
	Quantity  int64
}

// StockLinesFromItems converts order items into stock lines.
func StockLinesFromItems(items []models.OrderItem) []StockLine {
	lines := make([]StockLine, 0, len(items))
	for _, it := range items {
		lines = append(lines, StockLine{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return lines
}

// InventoryService reserves stock at checkout and restores it on cancellation.
// It always works on the repositories of the caller's transaction.
type InventoryService struct{}

// NewInventoryService creates a new InventoryService.
func NewInventoryService() *InventoryService {
	return &InventoryService{}
}

// mergeLines sums quantities per product and orders the result by product
// ID so concurrent reservations lock rows in the same order.
func mergeLines(lines []StockLine) ([]StockLine, error) {
	totals := make(map[int64]int64, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, NewAppError(http.StatusBadRequest, fmt.Sprintf("invalid quantity %d for product %d", l.Quantity, l.ProductID))
		}
		totals[l.ProductID] += l.Quantity
	}
	merged := make([]StockLine, 0, len(totals))
	for id, q := range totals {
		merged = append(merged, StockLine{ProductID: id, Quantity: q})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductID < merged[j].ProductID })
	return merged, nil
}

// Reserve decrements stock for every line. The first product without enough
// stock aborts with ErrInsufficientStock; earlier decrements are undone by
// the surrounding transaction's rollback.
func (s *InventoryService) Reserve(ctx context.Context, products repositories.ProductRepository, lines []StockLine) error {
	merged, err := mergeLines(lines)
	if err != nil {
		return err
	}
	for _, l := range merged {
		ok, err := products.DecreaseStockIfEnough(ctx, l.ProductID, l.Quantity)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: product %d", ErrInsufficientStock, l.ProductID)
		}
	}
	return nil
}

// Restore puts the quantities of lines back into stock. Callers invoke it
// only after winning the transition into cancelled, so it runs once per order.
// Products removed from the catalog are skipped.
func (s *InventoryService) Restore(ctx context.Context, products repositories.ProductRepository, lines []StockLine) error {
	merged, err := mergeLines(lines)
	if err != nil {
		return err
	}
	for _, l := range merged {
		err := products.IncreaseStock(ctx, l.ProductID, l.Quantity)
		if errors.Is(err, repositories.ErrNotFound) {
			logger.Warn("stock not restored, product is gone",
				zap.Int64("product_id", l.ProductID), zap.Int64("quantity", l.Quantity))
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}
