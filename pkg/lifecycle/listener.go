package lifecycle

import "context"

// Subject is the privileged identity lifecycle hooks run as.
type Subject struct {
	ID   string
	Name string
}

// Listener receives lifecycle transitions. Hooks are called synchronously in
// registration order; an error aborts the transition.
type Listener interface {
	SystemStarting(ctx context.Context, root Subject) error
	SystemStarted(ctx context.Context, root Subject) error
	SystemStopping(ctx context.Context, root Subject) error
	SystemStopped(ctx context.Context, root Subject) error
}

// NopListener implements Listener with no-op hooks. Embed it to implement
// only the hooks you need.
type NopListener struct{}

func (NopListener) SystemStarting(context.Context, Subject) error { return nil }
func (NopListener) SystemStarted(context.Context, Subject) error  { return nil }
func (NopListener) SystemStopping(context.Context, Subject) error { return nil }
func (NopListener) SystemStopped(context.Context, Subject) error  { return nil }

// DataInitializer prepares persistent data and reports setup steps that
// still need an administrator. An empty result means no setup is required.
type DataInitializer interface {
	Init(ctx context.Context) ([]ManualStep, error)
}

// IdentityProvider resolves the root identity.
type IdentityProvider interface {
	Root(ctx context.Context) (Subject, error)
}
