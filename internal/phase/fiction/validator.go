package fiction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Thomashighbaugh/fiction-fabricator-sub002/internal/core"
)

// DefaultRepairAttempts bounds repair calls per unit.
const DefaultRepairAttempts = 2

// StructureValidator gates every unit: responses are parsed and checked,
// and malformed ones are sent back for repair a bounded number of times.
type StructureValidator struct {
	tools    Toolkit
	attempts int
	logger   *slog.Logger
}

func NewStructureValidator(tools Toolkit, attempts int) *StructureValidator {
	if attempts < 0 {
		attempts = DefaultRepairAttempts
	}
	return &StructureValidator{
		tools:    tools,
		attempts: attempts,
		logger:   slog.Default().With("component", "validator"),
	}
}

func (v *StructureValidator) Attempts() int {
	return v.attempts
}

// Validate checks an already decoded unit.
func (v *StructureValidator) Validate(u Unit, schema Schema) error {
	return schema.Check(u)
}

type repairData struct {
	Kind   string
	Reason string
	Raw    string
	Format string
}

// Accept decodes raw and checks it against schema. Each failure triggers a
// repair call until the attempt bound is spent, after which the unit is
// *core.UnrepairableError. Provider failures during repair are returned
// as-is.
func (v *StructureValidator) Accept(ctx context.Context, key, raw string, decode Decoder, schema Schema) (Unit, error) {
	for attempt := 0; ; attempt++ {
		u, err := decode(raw)
		if err != nil {
			err = &core.StructureError{Unit: key, Reason: fmt.Sprintf("unparseable response: %v", err)}
		} else {
			err = schema.Check(u)
		}
		if err == nil {
			if attempt > 0 {
				v.logger.Info("unit repaired", "unit", key, "attempts", attempt)
			}
			return u, nil
		}

		var last *core.StructureError
		if !errors.As(err, &last) {
			last = &core.StructureError{Unit: key, Reason: err.Error()}
		}
		if attempt >= v.attempts {
			v.logger.Warn("unit unrepairable", "unit", key, "attempts", attempt, "reason", last.Reason)
			return nil, &core.UnrepairableError{Unit: key, Attempts: attempt, Last: last}
		}

		v.logger.Debug("requesting repair", "unit", key, "attempt", attempt+1, "reason", last.Reason)
		raw, err = v.tools.call(ctx, stageFor(schema.Kind, actionRepair), templateRepair, repairData{
			Kind:   schema.Kind.Describe(),
			Reason: last.Reason,
			Raw:    raw,
			Format: schema.Shape,
		}, callMeta{Unit: key, Attempt: attempt + 1})
		if err != nil {
			return nil, err
		}
	}
}
