// Package main provides the FlowEngine API server.
package main

import (
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/helixcrm/flowengine/pkg/eventbus"
	"github.com/helixcrm/flowengine/pkg/persistence"
	"github.com/helixcrm/flowengine/pkg/ratelimit"
	"github.com/helixcrm/flowengine/pkg/registry"
	"github.com/helixcrm/flowengine/pkg/trigger"
	"github.com/helixcrm/flowengine/pkg/web"
)

type API struct {
	logger   *slog.Logger
	store    persistence.Persistence
	registry *registry.Registry
	eventBus eventbus.EventBus
	limiter  ratelimit.Limiter
}

func NewAPI(
	logger *slog.Logger,
	store persistence.Persistence,
	registry *registry.Registry,
	eventBus eventbus.EventBus,
	limiter ratelimit.Limiter,
) *API {
	return &API{
		logger:   logger,
		store:    store,
		registry: registry,
		eventBus: eventBus,
		limiter:  limiter,
	}
}

func (a *API) App() *fiber.App {
	evaluator := trigger.NewEvaluator(a.logger, a.store, a.limiter, a.eventBus)
	handlers := web.NewAPIHandlers(a.logger, a.store, evaluator, a.eventBus, a.registry)

	return web.NewApp(handlers)
}

func (a *API) Start(port int) error {
	return a.App().Listen(":" + strconv.Itoa(port))
}
