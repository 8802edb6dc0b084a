package vehicles

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"vehicle-generator-service/shared/logx"
	"vehicle-generator-service/shared/metricsx"
)

// Operation names dispatched by the gateway-facing edge.
const (
	OpVehiclesListing        = "VehiclesListing"
	OpVehicleByID            = "VehicleByID"
	OpCreateVehicle          = "CreateVehicle"
	OpUpdateVehicle          = "UpdateVehicle"
	OpDeleteVehicles         = "DeleteVehicles"
	OpStartVehicleGeneration = "StartVehicleGeneration"
	OpStopVehicleGeneration  = "StopVehicleGeneration"
)

var (
	readRoles  = []string{"VEHICLES_READ"}
	writeRoles = []string{"VEHICLES_WRITE"}
)

// Envelope is one dispatched command or query, as produced by the
// network gateway. It is consumed, never stored.
type Envelope struct {
	Operation string          `json:"operation"`
	Args      json.RawMessage `json:"args"`
	Roles     []string        `json:"roles"`
	User      string          `json:"user"`
}

// Response is the uniform success/error envelope every handler result
// is normalized into.
type Response struct {
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type handlerFunc func(ctx context.Context, env Envelope) (any, error)

type operation struct {
	fn    handlerFunc
	roles []string
}

// Dispatcher maps operation names to handlers and required roles. The
// table is static, built once at startup.
type Dispatcher struct {
	ops    map[string]operation
	logger logx.Logger
}

func NewDispatcher(h *Handlers, logger logx.Logger) *Dispatcher {
	return &Dispatcher{
		logger: logger,
		ops: map[string]operation{
			OpVehiclesListing: {roles: readRoles, fn: func(ctx context.Context, env Envelope) (any, error) {
				var args ListArgs
				if err := unmarshalArgs(env.Args, &args); err != nil {
					return nil, err
				}
				return h.List(ctx, args)
			}},
			OpVehicleByID: {roles: readRoles, fn: func(ctx context.Context, env Envelope) (any, error) {
				var args GetArgs
				if err := unmarshalArgs(env.Args, &args); err != nil {
					return nil, err
				}
				return h.Get(ctx, args)
			}},
			OpCreateVehicle: {roles: writeRoles, fn: func(ctx context.Context, env Envelope) (any, error) {
				var args CreateArgs
				if err := unmarshalArgs(env.Args, &args); err != nil {
					return nil, err
				}
				return h.Create(ctx, args, env.User)
			}},
			OpUpdateVehicle: {roles: writeRoles, fn: func(ctx context.Context, env Envelope) (any, error) {
				var args UpdateArgs
				if err := unmarshalArgs(env.Args, &args); err != nil {
					return nil, err
				}
				return h.Update(ctx, args, env.User)
			}},
			OpDeleteVehicles: {roles: writeRoles, fn: func(ctx context.Context, env Envelope) (any, error) {
				var args DeleteArgs
				if err := unmarshalArgs(env.Args, &args); err != nil {
					return nil, err
				}
				return h.Delete(ctx, args, env.User)
			}},
			OpStartVehicleGeneration: {roles: writeRoles, fn: func(ctx context.Context, env Envelope) (any, error) {
				return h.StartGeneration(ctx)
			}},
			OpStopVehicleGeneration: {roles: writeRoles, fn: func(ctx context.Context, env Envelope) (any, error) {
				return h.StopGeneration(ctx)
			}},
		},
	}
}

// Dispatch authorizes and runs one operation. Every outcome is a
// normalized Response except the distinguished storage-timeout error,
// which is re-raised so the caller can retry.
func (d *Dispatcher) Dispatch(ctx context.Context, env Envelope) (Response, error) {
	op, ok := d.ops[env.Operation]
	if !ok {
		return Response{}, fmt.Errorf("%w: %s", ErrUnknownOperation, env.Operation)
	}

	if !rolesIntersect(env.Roles, op.roles) {
		metricsx.IncDispatchedOp(env.Operation, "permission_denied")
		return Response{Code: 403, Message: ErrPermissionDenied.Error()}, nil
	}

	result, err := op.fn(ctx, env)
	if err != nil {
		if errors.Is(err, ErrStorageTimeout) {
			metricsx.IncDispatchedOp(env.Operation, "timeout")
			return Response{}, err
		}
		metricsx.IncDispatchedOp(env.Operation, "error")
		return d.normalizeError(ctx, env.Operation, err), nil
	}

	metricsx.IncDispatchedOp(env.Operation, "ok")
	return Response{Code: 200, Data: result}, nil
}

func (d *Dispatcher) normalizeError(ctx context.Context, operation string, err error) Response {
	if errors.Is(err, ErrGenerationRunning) || errors.Is(err, ErrGenerationNotRunning) {
		return Response{Code: 400, Message: err.Error()}
	}
	d.logger.Error(ctx, "operation_failed", "operation failed",
		slog.String("operation", operation),
		slog.String("error_code", "INTERNAL_ERROR"),
		slog.String("error", err.Error()),
	)
	return Response{Code: 500, Message: "internal server error"}
}

func unmarshalArgs(raw json.RawMessage, dest any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, dest)
}

func rolesIntersect(have []string, want []string) bool {
	for _, h := range have {
		for _, w := range want {
			if h == w {
				return true
			}
		}
	}
	return false
}
