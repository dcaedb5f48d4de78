package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ThanhTuGenki/transfer-file-to-drive/internal/api/transfers"
	"github.com/ThanhTuGenki/transfer-file-to-drive/pkg/logger"
)

var log = logger.Get("API")

type (
	RestConfig struct {
		HostAddr string `yaml:"host_address" env:"API_HOST_ADDR" env-default:"0.0.0.0:8080"`
	}

	controller interface {
		SetRoutes(*echo.Group)
	}

	databasePinger interface {
		PingContext(ctx context.Context) error
	}

	queueConnection interface {
		IsClosed() bool
	}

	// The RestGateway is a thin wrapper around the Echo HTTP router.
	// Its sole responsibility is to create the routes the transfer
	// server exposes and report service health.
	RestGateway struct {
		config              *RestConfig
		ec                  *echo.Echo
		db                  databasePinger
		queueConn           queueConnection
		transfersController controller
	}
)

// NewRestGateway constructs the Echo router and populates it with the
// transfer routes and the health endpoint.
func NewRestGateway(config *RestConfig, transferService transfers.Service, db databasePinger, queueConn queueConnection) *RestGateway {
	ec := echo.New()
	ec.OnAddRouteHandler = func(host string, route echo.Route, handler echo.HandlerFunc, middleware []echo.MiddlewareFunc) {
		log.Emit(logger.DEBUG, "Registered new route %s %s\n", route.Method, route.Path)
	}
	ec.HidePort = true
	ec.HideBanner = true

	gateway := &RestGateway{
		config:              config,
		ec:                  ec,
		db:                  db,
		queueConn:           queueConn,
		transfersController: transfers.New(validator.New(), transferService),
	}

	ec.Use(middleware.Logger())
	ec.Use(middleware.Recover())
	ec.Pre(middleware.AddTrailingSlash())

	ec.GET("/api/transfer/v1/health/", gateway.health)

	transferGroup := ec.Group("/api/transfer/v1")
	gateway.transfersController.SetRoutes(transferGroup)

	return gateway
}

// Run starts the HTTP listener and blocks until the context is
// cancelled or the listener fails.
func (gateway *RestGateway) Run(parentCtx context.Context) error {
	ctx, ctxCancel := context.WithCancelCause(parentCtx)
	wg := &sync.WaitGroup{}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := gateway.ec.Start(gateway.config.HostAddr); err != nil {
			ctxCancel(err)
		}
	}()

	go func(ec *echo.Echo) {
		<-ctx.Done()
		ec.Close()
	}(gateway.ec)

	wg.Wait()

	// Parent context cancellation is a normal shutdown, not an error.
	if cause := context.Cause(ctx); cause != ctx.Err() {
		return cause
	}

	return nil
}

// health reports whether the database and the message broker are both
// reachable. Degraded dependencies yield a 503 with per-component
// detail so orchestration can restart the right thing.
func (gateway *RestGateway) health(ec echo.Context) error {
	type componentHealth struct {
		Database string `json:"database"`
		Queue    string `json:"queue"`
	}

	health := componentHealth{Database: "ok", Queue: "ok"}
	status := http.StatusOK

	if err := gateway.db.PingContext(ec.Request().Context()); err != nil {
		health.Database = err.Error()
		status = http.StatusServiceUnavailable
	}
	if gateway.queueConn.IsClosed() {
		health.Queue = "connection closed"
		status = http.StatusServiceUnavailable
	}

	return ec.JSON(status, health)
}
