package settlement

import (
	"errors"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/orderbridge/internal/clock"
	"github.com/smallbiznis/orderbridge/internal/config"
	"github.com/smallbiznis/orderbridge/internal/settlement/domain"
	"github.com/smallbiznis/orderbridge/internal/settlement/repository/database"
	"github.com/smallbiznis/orderbridge/internal/settlement/repository/memory"
	redisstore "github.com/smallbiznis/orderbridge/internal/settlement/repository/redis"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("settlement",
	fx.Provide(NewStore),
)

type Params struct {
	fx.In

	Cfg   config.Config
	Log   *zap.Logger
	Clock clock.Clock
	DB    *gorm.DB              `optional:"true"`
	Redis redis.UniversalClient `optional:"true"`
}

// NewStore selects the settlement backend named by SETTLEMENT_STORE.
func NewStore(p Params) (domain.Store, error) {
	log := p.Log.Named("settlement")
	switch p.Cfg.Settlement.Store {
	case config.SettlementStoreDatabase:
		if p.DB == nil {
			return nil, errors.New("settlement store database requires a database connection")
		}
		log.Info("settlement store selected", zap.String("store", "database"))
		return database.New(p.DB, p.Clock), nil
	case config.SettlementStoreRedis:
		if p.Redis == nil {
			return nil, errors.New("settlement store redis requires REDIS_ADDR")
		}
		log.Info("settlement store selected", zap.String("store", "redis"), zap.String("addr", p.Cfg.Redis.Addr))
		return redisstore.New(p.Redis, p.Clock), nil
	default:
		log.Warn("settlement store is in memory, records are lost on restart")
		return memory.New(p.Clock), nil
	}
}
