package app

import (
	"context"
	"fmt"
	"time"

	"github.com/bookly/service_layer/internal/app/services/bookings"
	"github.com/bookly/service_layer/internal/app/services/sessions"
	"github.com/bookly/service_layer/internal/app/services/users"
	"github.com/bookly/service_layer/internal/app/storage"
	"github.com/bookly/service_layer/internal/app/storage/memory"
	"github.com/bookly/service_layer/internal/app/system"
	"github.com/bookly/service_layer/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users    storage.UserStore
	Bookings storage.BookingStore
	Sessions storage.SessionStore
}

// Options tunes service behaviour. Zero values select defaults.
type Options struct {
	JWTSecret     []byte
	JWTIssuer     string
	SessionTTL    time.Duration
	SweepSchedule string
	HashCost      int
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Users    *users.Service
	Bookings *bookings.Service
	Sessions *sessions.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Bookings == nil {
		stores.Bookings = mem
	}
	if stores.Sessions == nil {
		stores.Sessions = mem
	}

	if len(opts.JWTSecret) == 0 {
		log.Warn("JWT secret not configured; session login disabled")
	}

	manager := system.NewManager()

	var userOpts []users.Option
	if opts.HashCost > 0 {
		userOpts = append(userOpts, users.WithHashCost(opts.HashCost))
	}
	userService := users.New(stores.Users, log.Named("users"), userOpts...)
	bookingService := bookings.New(stores.Users, stores.Bookings, log.Named("bookings"))
	sessionService := sessions.New(userService, stores.Sessions, opts.JWTSecret, log.Named("sessions"),
		sessions.WithTTL(opts.SessionTTL),
		sessions.WithIssuer(opts.JWTIssuer),
	)

	for _, name := range []string{"users", "bookings"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}
	sweeper := sessions.NewSweeper(sessionService, opts.SweepSchedule, log.Named("session-sweeper"))
	if err := manager.Register(sweeper); err != nil {
		return nil, fmt.Errorf("register %s: %w", sweeper.Name(), err)
	}

	return &Application{
		manager:  manager,
		log:      log,
		Users:    userService,
		Bookings: bookingService,
		Sessions: sessionService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}

// Services lists the names of registered lifecycle services.
func (a *Application) Services() []string {
	return a.manager.Names()
}
