package di

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"firestore-sync/internal/shared/logger"
	syncmodule "firestore-sync/internal/sync"
	"firestore-sync/internal/sync/config"
)

// Container owns the process-wide services and their shutdown order
type Container struct {
	mu        sync.RWMutex
	services  map[reflect.Type]interface{}
	factories map[reflect.Type]func() (interface{}, error)

	SyncModule *syncmodule.SyncModule
	Config     *config.SyncConfig
	Logger     logger.Logger
}

func NewContainer(log logger.Logger) *Container {
	return &Container{
		services:  make(map[reflect.Type]interface{}),
		factories: make(map[reflect.Type]func() (interface{}, error)),
		Logger:    log,
	}
}

// InitializeSync connects the backends named by cfg and assembles the sync
// module
func (c *Container) InitializeSync(ctx context.Context, cfg *config.SyncConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Logger == nil {
		c.Logger = logger.NewLogger()
	}
	module, err := syncmodule.NewSyncModule(ctx, cfg, c.Logger)
	if err != nil {
		return fmt.Errorf("failed to create sync module: %w", err)
	}

	c.Config = cfg
	c.SyncModule = module
	c.services[reflect.TypeOf(module).Elem()] = module
	return nil
}

// Register registers a service instance
func (c *Container) Register(service interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()

	serviceType := reflect.TypeOf(service)
	if serviceType.Kind() == reflect.Ptr {
		serviceType = serviceType.Elem()
	}
	c.services[serviceType] = service
}

// RegisterFactory registers a lazily invoked constructor for serviceType
func (c *Container) RegisterFactory(serviceType reflect.Type, factory func() (interface{}, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[serviceType] = factory
}

// Resolve resolves a service by type, running and caching its factory on
// first use
func (c *Container) Resolve(serviceType reflect.Type) (interface{}, error) {
	c.mu.RLock()
	if service, exists := c.services[serviceType]; exists {
		c.mu.RUnlock()
		return service, nil
	}
	factory, exists := c.factories[serviceType]
	c.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("service of type %v not registered", serviceType)
	}

	service, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.services[serviceType]; ok {
		return existing, nil
	}
	c.services[serviceType] = service
	return service, nil
}

// GetService is a generic helper for resolving services registered by
// pointer
func GetService[T any](c *Container) (*T, error) {
	serviceType := reflect.TypeOf((*T)(nil)).Elem()

	service, err := c.Resolve(serviceType)
	if err != nil {
		return nil, err
	}
	if typed, ok := service.(*T); ok {
		return typed, nil
	}
	return nil, fmt.Errorf("service is not of expected type %v", serviceType)
}

// GetSyncModule returns the sync module instance
func (c *Container) GetSyncModule() *syncmodule.SyncModule {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.SyncModule
}

// HealthCheck checks every backend the sync module connected
func (c *Container) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.SyncModule != nil {
		if err := c.SyncModule.HealthCheck(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup stops the scheduler before closing connections, then cleans up the
// remaining services
func (c *Container) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.SyncModule != nil {
		if err := c.SyncModule.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop scheduler: %w", err))
		}
		if err := c.SyncModule.Close(ctx); err != nil {
			errs = append(errs, err)
		}
		delete(c.services, reflect.TypeOf(c.SyncModule).Elem())
		c.SyncModule = nil
	}

	for _, service := range c.services {
		if cleaner, ok := service.(interface{ Cleanup(context.Context) error }); ok {
			if err := cleaner.Cleanup(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to cleanup service: %w", err))
			}
		}
	}

	c.services = make(map[reflect.Type]interface{})
	c.factories = make(map[reflect.Type]func() (interface{}, error))

	if len(errs) > 0 {
		return fmt.Errorf("cleanup errors: %v", errs)
	}
	return nil
}

// Close shuts the container down, giving cleanup 30 seconds
func (c *Container) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.Cleanup(ctx); err != nil {
		if c.Logger != nil {
			c.Logger.WithError(err).Warn("Cleanup errors occurred while closing the container")
		}
		return err
	}
	return nil
}
