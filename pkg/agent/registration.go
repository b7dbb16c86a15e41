package agent

import (
	"context"

	"github.com/cuemby/warren-agent/pkg/metrics"
)

// beginRegistration drives disconnected -> registering -> registered
// (or, once an agent ID is already known from a prior registration,
// disconnected -> reregistering -> registered) in response to a
// detected master. It runs on the actor goroutine, so overlapping
// detections cannot race each other.
func (a *Agent) beginRegistration(ctx context.Context) {
	a.mu.Lock()
	if a.state == registering || a.state == reregistering {
		a.mu.Unlock()
		return
	}
	reconnecting := a.everRegistered
	if reconnecting {
		a.state = reregistering
	} else {
		a.state = registering
	}
	info := a.info
	a.mu.Unlock()

	a.log.Info().Str("state", a.currentState().String()).Msg("registering with master")

	kind := "register"
	if reconnecting {
		kind = "reregister"
	}

	if reconnecting {
		if err := a.master.Reregister(ctx, info); err != nil {
			a.log.Error().Err(err).Msg("reregistration with master failed")
			metrics.RegistrationAttemptsTotal.WithLabelValues(kind, "failure").Inc()
			a.setState(disconnected)
			return
		}
	} else {
		agentID, err := a.master.Register(ctx, info)
		if err != nil {
			a.log.Error().Err(err).Msg("registration with master failed")
			metrics.RegistrationAttemptsTotal.WithLabelValues(kind, "failure").Inc()
			a.setState(disconnected)
			return
		}
		a.mu.Lock()
		a.info.ID = agentID
		a.mu.Unlock()
	}

	a.mu.Lock()
	a.state = registered
	a.everRegistered = true
	agentID := a.info.ID
	a.mu.Unlock()

	metrics.RegistrationAttemptsTotal.WithLabelValues(kind, "success").Inc()
	a.log.Info().Str("agent_id", agentID).Msg("registered with master")
}

func (a *Agent) setState(s registrationState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *Agent) currentState() registrationState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}
