package health

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pinger is any dependency that can report its reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Report struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
}

func (r Report) Healthy() bool { return r.Status == "ok" }

type Checker struct {
	log     *slog.Logger
	timeout time.Duration
	deps    map[string]Pinger
}

func NewChecker(log *slog.Logger, timeout time.Duration) *Checker {
	return &Checker{log: log, timeout: timeout, deps: map[string]Pinger{}}
}

// Register adds a named dependency. A nil pinger is ignored.
func (c *Checker) Register(name string, p Pinger) {
	if p == nil {
		return
	}
	c.deps[name] = p
}

// Check probes every dependency concurrently.
func (c *Checker) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	rep := Report{Status: "ok", Dependencies: make(map[string]string, len(c.deps))}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for name, p := range c.deps {
		wg.Add(1)
		go func(name string, p Pinger) {
			defer wg.Done()
			state := "up"
			if err := p.Ping(ctx); err != nil {
				c.log.Error("health probe failed", "dependency", name, "err", err)
				state = "down"
			}
			mu.Lock()
			rep.Dependencies[name] = state
			if state == "down" {
				rep.Status = "degraded"
			}
			mu.Unlock()
		}(name, p)
	}
	wg.Wait()

	return rep
}
