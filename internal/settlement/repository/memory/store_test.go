package memory

import (
	"testing"

	"github.com/smallbiznis/orderbridge/internal/clock"
	"github.com/smallbiznis/orderbridge/internal/settlement/domain"
	"github.com/smallbiznis/orderbridge/internal/settlement/storetest"
)

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clk clock.Clock) domain.Store {
		return New(clk)
	})
}
