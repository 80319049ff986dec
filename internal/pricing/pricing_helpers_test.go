package pricing

import (
	"time"

	"restaurant-pricing/internal/logger"
	"restaurant-pricing/internal/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
)

var testNow = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func intPtr(n int) *int {
	return &n
}

func line(id, category, price string, qty int) models.LineItem {
	return models.LineItem{
		Product:  models.ProductRef{ID: id, Name: id, Price: dec(price), CategoryID: category},
		Quantity: qty,
	}
}

func newCapturingLogger() (*logger.Logger, *logtest.Hook) {
	l, hook := logtest.NewNullLogger()
	l.SetLevel(logrus.DebugLevel)
	return &logger.Logger{Logger: l}, hook
}
