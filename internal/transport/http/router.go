package http

import (
	"github.com/gin-gonic/gin"
	"github.com/payverse/exchange-service/internal/config"
	"github.com/payverse/exchange-service/internal/exchange"
	"github.com/payverse/exchange-service/internal/ledger"
	"go.uber.org/zap"
)

func NewRouter(coord *exchange.Coordinator, led *ledger.Ledger, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(r, coord, led)
	return r
}
