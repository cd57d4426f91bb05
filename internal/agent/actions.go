package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/target/fleetpush/internal/domain/model"
)

// DeviceState is the mutable state an agent keeps for its device.
type DeviceState struct {
	DeviceID           string
	ConfigVersion      string
	Restarts           map[string]int
	CatalogRefreshedAt time.Time
}

func (s DeviceState) clone() DeviceState {
	out := s
	out.Restarts = make(map[string]int, len(s.Restarts))
	for k, v := range s.Restarts {
		out.Restarts[k] = v
	}
	return out
}

// Payload is a decoded command payload.
type Payload map[string]any

// String returns a trimmed string field, or "" when absent or not a string.
func (p Payload) String(key string) string {
	v, _ := p[key].(string)
	return strings.TrimSpace(v)
}

func decodePayload(raw json.RawMessage) (Payload, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return Payload{}, nil
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.New("payload must be a JSON object")
	}
	if p == nil {
		p = Payload{}
	}
	return p, nil
}

// Action is one command an agent knows how to apply. Validate runs before any state change;
// Apply mutates a copy of the device state that is committed only when it returns nil.
type Action interface {
	Validate(cmd model.Command, payload Payload) error
	Apply(ctx context.Context, st *DeviceState, cmd model.Command, payload Payload) error
}

// RestartFunc restarts a local service on a live device.
type RestartFunc func(ctx context.Context, service string) error

// BuiltinActions returns the actions every agent understands.
func BuiltinActions(restart RestartFunc) map[string]Action {
	return map[string]Action{
		model.ActionUpdateConfig:   updateConfig{},
		model.ActionRestartService: restartService{restart: restart},
		model.ActionRefreshCatalog: refreshCatalog{},
		model.ActionHealthCheck:    healthCheck{},
	}
}

type updateConfig struct{}

func targetVersion(cmd model.Command, payload Payload) string {
	if v := payload.String("config_version"); v != "" {
		return v
	}
	if cmd.ConfigVersion != nil {
		return strings.TrimSpace(*cmd.ConfigVersion)
	}
	return ""
}

func (updateConfig) Validate(cmd model.Command, payload Payload) error {
	if targetVersion(cmd, payload) == "" {
		return errors.New("update_config requires a config_version")
	}
	return nil
}

func (updateConfig) Apply(_ context.Context, st *DeviceState, cmd model.Command, payload Payload) error {
	st.ConfigVersion = targetVersion(cmd, payload)
	return nil
}

type restartService struct {
	restart RestartFunc
}

func (restartService) Validate(_ model.Command, payload Payload) error {
	if payload.String("service") == "" {
		return errors.New("restart_service requires payload.service")
	}
	return nil
}

func (r restartService) Apply(ctx context.Context, st *DeviceState, _ model.Command, payload Payload) error {
	service := payload.String("service")
	if r.restart != nil {
		if err := r.restart(ctx, service); err != nil {
			return fmt.Errorf("restart %s: %w", service, err)
		}
	}
	st.Restarts[service]++
	return nil
}

type refreshCatalog struct{}

func (refreshCatalog) Validate(model.Command, Payload) error { return nil }

func (refreshCatalog) Apply(_ context.Context, st *DeviceState, cmd model.Command, _ Payload) error {
	st.CatalogRefreshedAt = cmd.IssuedAt
	return nil
}

type healthCheck struct{}

func (healthCheck) Validate(model.Command, Payload) error { return nil }

func (healthCheck) Apply(context.Context, *DeviceState, model.Command, Payload) error { return nil }
