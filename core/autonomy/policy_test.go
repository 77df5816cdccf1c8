package autonomy_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/autonomy/core/autonomy"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    autonomy.Level
		wantErr bool
	}{
		{input: "full", want: autonomy.LevelFull},
		{input: "supervised", want: autonomy.LevelSupervised},
		{input: "assisted", want: autonomy.LevelAssisted},
		{input: "disabled", want: autonomy.LevelDisabled},
		{input: "FULL", want: autonomy.LevelFull},
		{input: "  Supervised  ", want: autonomy.LevelSupervised},
		{input: "autopilot", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			level, err := autonomy.ParseLevel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, level)
			}
		})
	}
}

func TestPolicyGate_Defaults(t *testing.T) {
	t.Parallel()

	gate := autonomy.NewPolicyGate()
	assert.Equal(t, autonomy.LevelSupervised, gate.Level())

	// Plain tasks pass under supervision without a callback.
	decision := gate.Evaluate(&autonomy.Task{ID: uuid.New(), Action: "log"})
	assert.True(t, decision.Allowed)
}

func TestPolicyGate_Levels(t *testing.T) {
	t.Parallel()

	task := func() *autonomy.Task {
		return &autonomy.Task{ID: uuid.New(), Action: "log"}
	}

	t.Run("full approves everything", func(t *testing.T) {
		t.Parallel()

		gate := autonomy.NewPolicyGate(autonomy.WithLevel(autonomy.LevelFull))
		decision := gate.Evaluate(task())
		assert.True(t, decision.Allowed)
	})

	t.Run("disabled rejects everything", func(t *testing.T) {
		t.Parallel()

		gate := autonomy.NewPolicyGate(autonomy.WithLevel(autonomy.LevelDisabled))
		decision := gate.Evaluate(task())
		assert.False(t, decision.Allowed)
		assert.Equal(t, autonomy.StatusCancelled, decision.Status)
		assert.Equal(t, "not approved", decision.Reason)
	})

	t.Run("assisted requires callback approval", func(t *testing.T) {
		t.Parallel()

		approved := false
		gate := autonomy.NewPolicyGate(
			autonomy.WithLevel(autonomy.LevelAssisted),
			autonomy.WithApproval(func(task *autonomy.Task) bool { return approved }),
		)

		decision := gate.Evaluate(task())
		assert.False(t, decision.Allowed)

		approved = true
		decision = gate.Evaluate(task())
		assert.True(t, decision.Allowed)
	})

	t.Run("assisted without callback rejects", func(t *testing.T) {
		t.Parallel()

		gate := autonomy.NewPolicyGate(autonomy.WithLevel(autonomy.LevelAssisted))
		decision := gate.Evaluate(task())
		assert.False(t, decision.Allowed)
		assert.Equal(t, autonomy.StatusCancelled, decision.Status)
	})
}

func TestPolicyGate_Supervised(t *testing.T) {
	t.Parallel()

	t.Run("plain task runs without approval", func(t *testing.T) {
		t.Parallel()

		asked := false
		gate := autonomy.NewPolicyGate(
			autonomy.WithLevel(autonomy.LevelSupervised),
			autonomy.WithApproval(func(task *autonomy.Task) bool {
				asked = true
				return false
			}),
		)

		decision := gate.Evaluate(&autonomy.Task{ID: uuid.New(), Action: "log"})
		assert.True(t, decision.Allowed)
		assert.False(t, asked, "routine tasks must not consult the approval callback")
	})

	t.Run("new task consults callback", func(t *testing.T) {
		t.Parallel()

		gate := autonomy.NewPolicyGate(
			autonomy.WithLevel(autonomy.LevelSupervised),
			autonomy.WithApproval(func(task *autonomy.Task) bool { return false }),
		)

		decision := gate.Evaluate(&autonomy.Task{
			ID:       uuid.New(),
			Action:   "log",
			Metadata: map[string]any{"is_new": true},
		})
		assert.False(t, decision.Allowed)
		assert.Equal(t, autonomy.StatusCancelled, decision.Status)
	})

	t.Run("modified task consults callback", func(t *testing.T) {
		t.Parallel()

		gate := autonomy.NewPolicyGate(
			autonomy.WithLevel(autonomy.LevelSupervised),
			autonomy.WithApproval(func(task *autonomy.Task) bool { return true }),
		)

		decision := gate.Evaluate(&autonomy.Task{
			ID:       uuid.New(),
			Action:   "log",
			Metadata: map[string]any{"is_modified": true},
		})
		assert.True(t, decision.Allowed)
	})

	t.Run("high risk action consults callback", func(t *testing.T) {
		t.Parallel()

		gate := autonomy.NewPolicyGate(
			autonomy.WithLevel(autonomy.LevelSupervised),
			autonomy.WithApproval(func(task *autonomy.Task) bool { return false }),
		)

		decision := gate.Evaluate(&autonomy.Task{ID: uuid.New(), Action: "execute_command"})
		assert.False(t, decision.Allowed)
	})

	t.Run("missing callback approves flagged tasks", func(t *testing.T) {
		t.Parallel()

		gate := autonomy.NewPolicyGate(autonomy.WithLevel(autonomy.LevelSupervised))

		decision := gate.Evaluate(&autonomy.Task{
			ID:       uuid.New(),
			Action:   "log",
			Metadata: map[string]any{"is_new": true},
		})
		assert.True(t, decision.Allowed, "supervision without a callback defaults to approve")
	})

	t.Run("approval requirements can be relaxed", func(t *testing.T) {
		t.Parallel()

		gate := autonomy.NewPolicyGate(
			autonomy.WithLevel(autonomy.LevelSupervised),
			autonomy.WithApprovalRequirements(false, false, true),
			autonomy.WithApproval(func(task *autonomy.Task) bool { return false }),
		)

		decision := gate.Evaluate(&autonomy.Task{
			ID:       uuid.New(),
			Action:   "log",
			Metadata: map[string]any{"is_new": true, "is_modified": true},
		})
		assert.True(t, decision.Allowed, "new/modified triggers are disabled")

		decision = gate.Evaluate(&autonomy.Task{ID: uuid.New(), Action: "system_update"})
		assert.False(t, decision.Allowed, "high-risk trigger stays on")
	})
}

func TestPolicyGate_RestrictedActions(t *testing.T) {
	t.Parallel()

	gate := autonomy.NewPolicyGate(
		autonomy.WithLevel(autonomy.LevelFull),
		autonomy.WithRestrictedActions("dangerous", "forbidden"),
	)

	decision := gate.Evaluate(&autonomy.Task{ID: uuid.New(), Action: "dangerous"})
	assert.False(t, decision.Allowed)
	assert.Equal(t, autonomy.StatusFailed, decision.Status)
	assert.True(t, strings.HasPrefix(decision.Reason, "Safety check failed:"), "reason %q", decision.Reason)
	assert.Contains(t, decision.Reason, "restricted")

	decision = gate.Evaluate(&autonomy.Task{ID: uuid.New(), Action: "log"})
	assert.True(t, decision.Allowed)
}

func TestPolicyGate_SafetyChecks(t *testing.T) {
	t.Parallel()

	t.Run("failing check rejects with reason", func(t *testing.T) {
		t.Parallel()

		gate := autonomy.NewPolicyGate(
			autonomy.WithLevel(autonomy.LevelFull),
			autonomy.WithSafetyCheck(func(task *autonomy.Task) (bool, string) {
				return false, "budget exceeded"
			}),
		)

		decision := gate.Evaluate(&autonomy.Task{ID: uuid.New(), Action: "log"})
		assert.False(t, decision.Allowed)
		assert.Equal(t, autonomy.StatusFailed, decision.Status)
		assert.Equal(t, "Safety check failed: budget exceeded", decision.Reason)
	})

	t.Run("passing checks run in order", func(t *testing.T) {
		t.Parallel()

		var order []string
		gate := autonomy.NewPolicyGate(
			autonomy.WithLevel(autonomy.LevelFull),
			autonomy.WithSafetyCheck(func(task *autonomy.Task) (bool, string) {
				order = append(order, "first")
				return true, ""
			}),
			autonomy.WithSafetyCheck(func(task *autonomy.Task) (bool, string) {
				order = append(order, "second")
				return true, ""
			}),
		)

		decision := gate.Evaluate(&autonomy.Task{ID: uuid.New(), Action: "log"})
		assert.True(t, decision.Allowed)
		assert.Equal(t, []string{"first", "second"}, order)
	})

	t.Run("panicking check rejects", func(t *testing.T) {
		t.Parallel()

		gate := autonomy.NewPolicyGate(
			autonomy.WithLevel(autonomy.LevelFull),
			autonomy.WithSafetyCheck(func(task *autonomy.Task) (bool, string) {
				panic("check blew up")
			}),
		)

		decision := gate.Evaluate(&autonomy.Task{ID: uuid.New(), Action: "log"})
		assert.False(t, decision.Allowed)
		assert.Contains(t, decision.Reason, "check error: check blew up")
	})

	t.Run("disabled checks are skipped", func(t *testing.T) {
		t.Parallel()

		gate := autonomy.NewPolicyGate(
			autonomy.WithLevel(autonomy.LevelFull),
			autonomy.WithRestrictedActions("dangerous"),
			autonomy.WithSafetyCheck(func(task *autonomy.Task) (bool, string) {
				return false, "should not run"
			}),
			autonomy.WithSafetyChecksEnabled(false),
		)

		decision := gate.Evaluate(&autonomy.Task{ID: uuid.New(), Action: "dangerous"})
		assert.True(t, decision.Allowed)
	})

	t.Run("checks added at runtime", func(t *testing.T) {
		t.Parallel()

		gate := autonomy.NewPolicyGate(autonomy.WithLevel(autonomy.LevelFull))
		gate.AddSafetyCheck(func(task *autonomy.Task) (bool, string) {
			return false, "late check"
		})

		decision := gate.Evaluate(&autonomy.Task{ID: uuid.New(), Action: "log"})
		assert.False(t, decision.Allowed)
		assert.Contains(t, decision.Reason, "late check")
	})
}

func TestPolicyGate_PanickingApproval(t *testing.T) {
	t.Parallel()

	gate := autonomy.NewPolicyGate(
		autonomy.WithLevel(autonomy.LevelAssisted),
		autonomy.WithApproval(func(task *autonomy.Task) bool {
			panic("approval blew up")
		}),
	)

	decision := gate.Evaluate(&autonomy.Task{ID: uuid.New(), Action: "log"})
	assert.False(t, decision.Allowed, "panicking approval counts as disapproval")
}

func TestPolicyGate_IsHighRisk(t *testing.T) {
	t.Parallel()

	t.Run("default high risk set", func(t *testing.T) {
		t.Parallel()

		gate := autonomy.NewPolicyGate()
		assert.True(t, gate.IsHighRisk(&autonomy.Task{Action: "clear_memory"}))
		assert.True(t, gate.IsHighRisk(&autonomy.Task{Action: "system_update"}))
		assert.True(t, gate.IsHighRisk(&autonomy.Task{Action: "execute_command"}))
		assert.False(t, gate.IsHighRisk(&autonomy.Task{Action: "log"}))
	})

	t.Run("metadata flag", func(t *testing.T) {
		t.Parallel()

		gate := autonomy.NewPolicyGate()
		task := &autonomy.Task{Action: "log", Metadata: map[string]any{"is_high_risk": true}}
		assert.True(t, gate.IsHighRisk(task))
	})

	t.Run("replaced high risk set", func(t *testing.T) {
		t.Parallel()

		gate := autonomy.NewPolicyGate(autonomy.WithHighRiskActions("launch"))
		assert.True(t, gate.IsHighRisk(&autonomy.Task{Action: "launch"}))
		assert.False(t, gate.IsHighRisk(&autonomy.Task{Action: "clear_memory"}), "default set was replaced")
	})
}

func TestPolicyGate_SetLevel(t *testing.T) {
	t.Parallel()

	gate := autonomy.NewPolicyGate()
	require.NoError(t, gate.SetLevel(autonomy.LevelFull))
	assert.Equal(t, autonomy.LevelFull, gate.Level())

	assert.Error(t, gate.SetLevel(autonomy.Level("turbo")))
	assert.Equal(t, autonomy.LevelFull, gate.Level(), "invalid level leaves the gate unchanged")
}

func TestPolicyGate_SetApproval(t *testing.T) {
	t.Parallel()

	gate := autonomy.NewPolicyGate(autonomy.WithLevel(autonomy.LevelAssisted))

	decision := gate.Evaluate(&autonomy.Task{ID: uuid.New(), Action: "log"})
	assert.False(t, decision.Allowed)

	gate.SetApproval(func(task *autonomy.Task) bool { return true })

	decision = gate.Evaluate(&autonomy.Task{ID: uuid.New(), Action: "log"})
	assert.True(t, decision.Allowed)
}
