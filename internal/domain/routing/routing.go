// Package routing выбирает путь, которым терминал отправляет данные в
// облако: через главный терминал филиала или напрямую.
package routing

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"golang.org/x/exp/slog"

	"possync/internal/domain/sync"
)

type Mode string

const (
	// ModeMain терминал сам является главным в филиале.
	ModeMain Mode = "main"
	// ModeViaParent запросы идут через главный терминал.
	ModeViaParent Mode = "via_parent"
	// ModeDirectCloud запросы идут напрямую в облако.
	ModeDirectCloud Mode = "direct_cloud"
	// ModeUnknown ни одной проверки родителя еще не было.
	ModeUnknown Mode = "unknown"
)

const (
	DefaultFailureThreshold  = 3
	DefaultRecoveryThreshold = 2
	DefaultReachabilityTTL   = 90 * time.Second
)

// ParentInfo главный терминал филиала.
type ParentInfo struct {
	TerminalID string `json:"terminal_id,omitempty"`
	Address    string `json:"address"`
}

// State снимок состояния маршрутизации.
type State struct {
	Parent               *ParentInfo `json:"parent,omitempty"`
	IsParentReachable    bool        `json:"is_parent_reachable"`
	Mode                 Mode        `json:"mode"`
	ConsecutiveFailures  int         `json:"consecutive_failures"`
	ConsecutiveSuccesses int         `json:"consecutive_successes"`
	LastProbeAt          *time.Time  `json:"last_probe_at,omitempty"`
	LastSuccessAt        *time.Time  `json:"last_success_at,omitempty"`
	LastProbeError       string      `json:"last_probe_error,omitempty"`
}

// Route неизменяемый маршрут, захваченный в начале отправки. Смена режима
// после захвата на него не влияет.
type Route struct {
	Mode      Mode   `json:"mode"`
	Address   string `json:"address"`
	ViaParent bool   `json:"via_parent"`
}

// Config пороги гистерезиса.
type Config struct {
	FailureThreshold  int
	RecoveryThreshold int
	ReachabilityTTL   time.Duration
}

// DefaultConfig N=3, M=2.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:  DefaultFailureThreshold,
		RecoveryThreshold: DefaultRecoveryThreshold,
		ReachabilityTTL:   DefaultReachabilityTTL,
	}
}

// Prober проверяет связь с главным терминалом полным запросом-ответом.
type Prober interface {
	Probe(ctx context.Context, parent ParentInfo) error
}

// TopicChanged публикуется при смене режима.
var TopicChanged = sync.NewTopic[State]("routing.changed")

// Resolver конечный автомат режима маршрутизации.
type Resolver struct {
	mu    gosync.RWMutex
	state State

	cfg          Config
	cloudAddress string
	prober       Prober
	bus          *sync.Bus
	log          *slog.Logger

	now func() time.Time
}

// NewResolver создает резолвер. Без родителя терминал считается главным,
// иначе начинает в режиме unknown.
func NewResolver(parent *ParentInfo, cloudAddress string, prober Prober, cfg Config, bus *sync.Bus, log *slog.Logger) *Resolver {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.RecoveryThreshold < 1 {
		cfg.RecoveryThreshold = DefaultRecoveryThreshold
	}
	if cfg.ReachabilityTTL <= 0 {
		cfg.ReachabilityTTL = DefaultReachabilityTTL
	}

	st := State{Mode: ModeMain}
	if parent != nil {
		p := *parent
		st = State{Parent: &p, Mode: ModeUnknown}
	}

	return &Resolver{
		state:        st,
		cfg:          cfg,
		cloudAddress: cloudAddress,
		prober:       prober,
		bus:          bus,
		log:          log.With("component", "routing"),
		now:          time.Now,
	}
}

// Probe выполняет одну проверку родителя и учитывает ее результат.
func (r *Resolver) Probe(ctx context.Context) error {
	r.mu.RLock()
	parent := r.state.Parent
	r.mu.RUnlock()

	if parent == nil {
		return nil
	}

	err := r.prober.Probe(ctx, *parent)
	r.Report(err)
	if err != nil {
		return fmt.Errorf("parent probe: %w", err)
	}
	return nil
}

// Report учитывает результат проверки, выполненной снаружи.
func (r *Resolver) Report(probeErr error) {
	r.mu.Lock()
	if r.state.Mode == ModeMain {
		r.mu.Unlock()
		return
	}

	now := r.now()
	r.state.LastProbeAt = &now
	prev := r.state.Mode

	if probeErr == nil {
		r.state.ConsecutiveSuccesses++
		r.state.ConsecutiveFailures = 0
		r.state.LastSuccessAt = &now
		r.state.LastProbeError = ""

		switch r.state.Mode {
		case ModeUnknown:
			r.state.Mode = ModeViaParent
		case ModeDirectCloud:
			if r.state.ConsecutiveSuccesses >= r.cfg.RecoveryThreshold {
				r.state.Mode = ModeViaParent
			}
		}
	} else {
		r.state.ConsecutiveFailures++
		r.state.ConsecutiveSuccesses = 0
		r.state.LastProbeError = probeErr.Error()

		switch r.state.Mode {
		case ModeUnknown:
			r.state.Mode = ModeDirectCloud
		case ModeViaParent:
			if r.state.ConsecutiveFailures >= r.cfg.FailureThreshold {
				r.state.Mode = ModeDirectCloud
			}
		}
	}

	snap := r.snapshotLocked()
	r.mu.Unlock()

	if snap.Mode != prev {
		r.changed(prev, snap, "probe")
	}
}

// ConnectivityLost явный сигнал потери связи: терминал сразу уходит в
// прямой режим, счетчик успехов сбрасывается.
func (r *Resolver) ConnectivityLost() {
	r.mu.Lock()
	prev := r.state.Mode
	if prev == ModeMain {
		r.mu.Unlock()
		return
	}
	r.state.Mode = ModeDirectCloud
	r.state.ConsecutiveSuccesses = 0
	snap := r.snapshotLocked()
	r.mu.Unlock()

	if prev != ModeDirectCloud {
		r.changed(prev, snap, "connectivity_lost")
	}
}

// Route возвращает маршрут для новой отправки. В режиме unknown отправка
// идет напрямую в облако.
func (r *Resolver) Route() Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.state.Mode == ModeViaParent && r.state.Parent != nil {
		return Route{Mode: ModeViaParent, Address: r.state.Parent.Address, ViaParent: true}
	}
	return Route{Mode: r.state.Mode, Address: r.cloudAddress}
}

// State возвращает копию состояния.
func (r *Resolver) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Resolver) snapshotLocked() State {
	s := r.state
	if s.Parent != nil {
		p := *s.Parent
		s.Parent = &p
	}
	if s.LastProbeAt != nil {
		t := *s.LastProbeAt
		s.LastProbeAt = &t
	}
	if s.LastSuccessAt != nil {
		t := *s.LastSuccessAt
		s.LastSuccessAt = &t
		s.IsParentReachable = r.now().Sub(t) <= r.cfg.ReachabilityTTL
	}
	return s
}

func (r *Resolver) changed(prev Mode, s State, reason string) {
	r.log.Info("routing mode changed", "from", prev, "to", s.Mode, "reason", reason,
		"failures", s.ConsecutiveFailures, "successes", s.ConsecutiveSuccesses)
	if r.bus != nil {
		sync.Publish(r.bus, TopicChanged, s)
	}
}
