package service

import (
	"log/slog"

	"github.com/leeszaal/deliver-go/internal/arbitrator"
	"github.com/leeszaal/deliver-go/internal/catalog"
	"github.com/leeszaal/deliver-go/internal/notify"
	"github.com/leeszaal/deliver-go/internal/payway"
	"github.com/leeszaal/deliver-go/internal/printing"
	"github.com/leeszaal/deliver-go/internal/repository"
	redis "github.com/leeszaal/deliver-go/internal/repository/redis"
	"github.com/leeszaal/deliver-go/internal/service/query"
	"github.com/leeszaal/deliver-go/internal/service/reproduction"
	"github.com/leeszaal/deliver-go/internal/service/request"
	"github.com/leeszaal/deliver-go/internal/service/reservation"
)

type Services struct {
	Reservation  *reservation.Service
	Reproduction *reproduction.Service
	Query        *query.Service
	Arbitrator   *arbitrator.Arbitrator
}

type Config struct {
	Reproduction reproduction.Config
	Query        query.Config
}

// NewServices wires the request services and registers both kinds with
// the arbitrator. Reservations are registered first: on equal creation
// timestamps the physical visit wins arbitration.
func NewServices(
	uow repository.UnitOfWork,
	cat catalog.Catalog,
	pay *payway.Client,
	cache *redis.Cache,
	pubsub *redis.HoldingsPubSub,
	notifier notify.Notifier,
	printer printing.Printer,
	logger *slog.Logger,
	cfg Config,
) *Services {
	arb := arbitrator.New(logger)
	validator := request.NewValidator(cat)

	res := reservation.New(uow, arb, validator, cache, pubsub, notifier, printer, logger)
	rep := reproduction.New(uow, arb, validator, pay, cat, cache, pubsub, notifier, logger, cfg.Reproduction)

	arb.Register(res)
	arb.Register(rep)

	return &Services{
		Reservation:  res,
		Reproduction: rep,
		Query:        query.New(uow, cache, cfg.Query),
		Arbitrator:   arb,
	}
}
