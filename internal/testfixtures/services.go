package testfixtures

import (
	"time"

	"go.uber.org/zap"

	"github.com/example/desk-scheduler/internal/application"
	"github.com/example/desk-scheduler/internal/persistence"
	"github.com/example/desk-scheduler/internal/persistence/memory"
	"github.com/example/desk-scheduler/internal/recurrence"
)

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Logger      *zap.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
		Logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	if factory.Logger == nil {
		factory.Logger = zap.NewNop()
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// WithLogger overrides the logger handed to every service.
func WithLogger(logger *zap.Logger) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Logger = logger
	}
}

// Services bundles the application services over one store.
type Services struct {
	Desks        persistence.DeskRepository
	Reservations persistence.ReservationRepository
	Cache        *application.AvailabilityCache

	ReservationService *application.ReservationService
	DeskService        *application.DeskService
	SweepService       *application.SweepService
}

// NewServices wires the services over the supplied repositories. Nil
// repositories fall back to a fresh in-memory store.
func (f *ServiceFactory) NewServices(desks persistence.DeskRepository, reservations persistence.ReservationRepository) *Services {
	if desks == nil || reservations == nil {
		store := memory.New()
		desks, reservations = store, store
	}
	now := f.Clock.NowFunc()
	ids := f.IDGenerator.NextFunc()
	cache := application.NewAvailabilityCache(time.Minute, 64, now)

	return &Services{
		Desks:              desks,
		Reservations:       reservations,
		Cache:              cache,
		ReservationService: application.NewReservationServiceWithLogger(desks, reservations, recurrence.NewEngine(time.UTC), cache, ids, now, f.Logger),
		DeskService:        application.NewDeskServiceWithLogger(desks, reservations, cache, application.DefaultAvailabilitySettings(), ids, now, f.Logger),
		SweepService:       application.NewSweepServiceWithLogger(desks, reservations, cache, application.DefaultNoShowGrace, now, f.Logger),
	}
}

// NewMemoryServices wires the services over a fresh in-memory store.
func (f *ServiceFactory) NewMemoryServices() *Services {
	return f.NewServices(nil, nil)
}
