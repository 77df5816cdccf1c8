package autonomy

import (
	"context"
	"encoding/json"
	"fmt"
)

type (
	// ActionFunc is the invocable bound to an action name. It receives the
	// task's parameter mapping and returns the task result.
	ActionFunc func(ctx context.Context, params map[string]any) (any, error)

	// Action binds a name to an invocable with parameter metadata. The
	// registry consults the metadata at submission time; Execute runs inside
	// a dispatcher worker slot.
	Action interface {
		// Name returns the action identifier tasks reference.
		Name() string
		// Describe returns the discovery metadata declared at registration.
		Describe() ActionInfo
		// Execute invokes the action with the task's parameter mapping.
		Execute(ctx context.Context, params map[string]any) (any, error)
	}
)

// ActionInfo describes a registered action: its identifier, a human
// description, and a parameter schema mapping parameter names to descriptions.
type ActionInfo struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
}

// ActionOption configures metadata on actions built through the constructors.
type ActionOption func(*actionOptions)

type actionOptions struct {
	description string
	params      map[string]string
}

// WithActionDescription sets the human-readable description.
func WithActionDescription(description string) ActionOption {
	return func(o *actionOptions) {
		o.description = description
	}
}

// WithActionParams declares the parameter schema (name to description).
func WithActionParams(params map[string]string) ActionOption {
	return func(o *actionOptions) {
		o.params = params
	}
}

// NewAction creates an action from a raw parameter-map function.
func NewAction(name string, fn ActionFunc, opts ...ActionOption) Action {
	options := &actionOptions{}
	for _, opt := range opts {
		opt(options)
	}

	return &funcAction{
		info: ActionInfo{
			Name:        name,
			Description: options.description,
			Params:      options.params,
		},
		fn: fn,
	}
}

// NewTypedAction creates a type-safe action whose parameter mapping is decoded
// into T through JSON before the handler runs. When name is empty it is
// derived from the parameter type's qualified name.
func NewTypedAction[T any](name string, fn func(ctx context.Context, params T) (any, error), opts ...ActionOption) Action {
	if name == "" {
		var zero T
		name = qualifiedStructName(zero)
	}

	return NewAction(name, func(ctx context.Context, params map[string]any) (any, error) {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode params for action %q: %w", name, err)
		}
		var typed T
		if err := json.Unmarshal(raw, &typed); err != nil {
			return nil, fmt.Errorf("decode params for action %q: %w", name, err)
		}
		return fn(ctx, typed)
	}, opts...)
}

type funcAction struct {
	info ActionInfo
	fn   ActionFunc
}

func (a *funcAction) Name() string { return a.info.Name }

func (a *funcAction) Describe() ActionInfo {
	info := a.info
	if a.info.Params != nil {
		info.Params = make(map[string]string, len(a.info.Params))
		for k, v := range a.info.Params {
			info.Params[k] = v
		}
	}
	return info
}

func (a *funcAction) Execute(ctx context.Context, params map[string]any) (any, error) {
	return a.fn(ctx, params)
}
