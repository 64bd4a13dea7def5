package system

import "context"

// Service is a component with a start/stop lifecycle owned by the Manager.
// Start must return once the component is running; background work continues
// until Stop.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

var _ Service = NoopService{}

// NoopService reserves a name in the manager for components without
// background work.
type NoopService struct {
	ServiceName string
}

func (s NoopService) Name() string { return s.ServiceName }

func (NoopService) Start(context.Context) error { return nil }

func (NoopService) Stop(context.Context) error { return nil }
