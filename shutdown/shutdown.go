package shutdown

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// Manager manages graceful shutdown of the backend's owned resources,
// starting registered teardown functions in priority order and running
// them concurrently, with a bound on total time spent.
type Manager struct {
	shutdownFuncs []ShutdownFunc
	timeout       time.Duration
	mutex         sync.Mutex
	shutdownCh    chan struct{}
	once          sync.Once
}

// ShutdownFunc represents a function to be called during shutdown
type ShutdownFunc struct {
	Name     string
	Priority int // Lower numbers have higher priority
	Func     func(ctx context.Context) error
}

// NewManager creates a new shutdown manager
func NewManager(timeout time.Duration) *Manager {
	return &Manager{
		shutdownFuncs: make([]ShutdownFunc, 0),
		timeout:       timeout,
		shutdownCh:    make(chan struct{}),
	}
}

// RegisterShutdownFunc registers a function to be called during shutdown
func (m *Manager) RegisterShutdownFunc(name string, priority int, fn func(ctx context.Context) error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	shutdownFunc := ShutdownFunc{
		Name:     name,
		Priority: priority,
		Func:     fn,
	}

	// Insert in priority order (lower numbers first)
	inserted := false
	for i, existing := range m.shutdownFuncs {
		if priority < existing.Priority {
			// Insert at position i
			m.shutdownFuncs = append(m.shutdownFuncs[:i], append([]ShutdownFunc{shutdownFunc}, m.shutdownFuncs[i:]...)...)
			inserted = true
			break
		}
	}

	if !inserted {
		m.shutdownFuncs = append(m.shutdownFuncs, shutdownFunc)
	}
}

// Shutdown initiates graceful shutdown
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		m.executeShutdown()
		close(m.shutdownCh)
	})
}

// Wait waits for shutdown to complete
func (m *Manager) Wait() {
	<-m.shutdownCh
}

// executeShutdown executes all registered shutdown functions
func (m *Manager) executeShutdown() {
	log.Println("Starting graceful shutdown...")

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mutex.Lock()
	funcs := make([]ShutdownFunc, len(m.shutdownFuncs))
	copy(funcs, m.shutdownFuncs)
	m.mutex.Unlock()

	var wg sync.WaitGroup
	errorCh := make(chan error, len(funcs))

	for _, shutdownFunc := range funcs {
		wg.Add(1)
		go func(sf ShutdownFunc) {
			defer wg.Done()

			log.Printf("Shutting down: %s", sf.Name)
			start := time.Now()

			if err := sf.Func(ctx); err != nil {
				log.Printf("Error shutting down %s: %v", sf.Name, err)
				errorCh <- fmt.Errorf("shutdown %s failed: %w", sf.Name, err)
			} else {
				log.Printf("Successfully shut down %s (took %v)", sf.Name, time.Since(start))
			}
		}(shutdownFunc)
	}

	// Wait for all shutdown functions to complete or timeout
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("All shutdown functions completed successfully")
	case <-ctx.Done():
		log.Println("Shutdown timeout reached, forcing exit")
	}

	// Collect any errors
	close(errorCh)
	var errors []error
	for err := range errorCh {
		errors = append(errors, err)
	}

	if len(errors) > 0 {
		log.Printf("Shutdown completed with %d errors:", len(errors))
		for _, err := range errors {
			log.Printf("  - %v", err)
		}
	} else {
		log.Println("Graceful shutdown completed successfully")
	}
}

