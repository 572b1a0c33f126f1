package engine

import (
	"fmt"
	"time"

	"github.com/dukex/fieldflow/pkg/workflow"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultExecutionLogLimit = 50
	MaxExecutionLogLimit     = 500
)

// Config holds the engine settings. Zero durations are not valid; start from
// DefaultConfig and override.
type Config struct {
	MatchMode         workflow.MatchMode `validate:"required,oneof=first any"`
	Location          *time.Location     `validate:"required"`
	ScheduleInterval  time.Duration      `validate:"gt=0"`
	OverdueInterval   time.Duration      `validate:"gt=0"`
	PollInterval      time.Duration      `validate:"gt=0"`
	ScheduleTolerance time.Duration      `validate:"gt=0"`
	// FireLedgerTTL must outlive the tolerance window so a window cannot fire twice.
	FireLedgerTTL     time.Duration `validate:"gtfield=ScheduleTolerance"`
	ContinuationLease time.Duration `validate:"gt=0"`
	ContinuationBatch int           `validate:"min=1,max=1000"`
}

func DefaultConfig() Config {
	sweeps := workflow.DefaultSweeperConfig()

	return Config{
		MatchMode:         workflow.MatchModeFirst,
		Location:          time.UTC,
		ScheduleInterval:  sweeps.ScheduleInterval,
		OverdueInterval:   sweeps.OverdueInterval,
		PollInterval:      sweeps.PollInterval,
		ScheduleTolerance: sweeps.Tolerance,
		FireLedgerTTL:     sweeps.LedgerTTL,
		ContinuationLease: sweeps.ContinuationLease,
		ContinuationBatch: sweeps.ClaimBatch,
	}
}

func (c Config) Validate() error {
	err := validator.New(validator.WithRequiredStructEnabled()).Struct(c)
	if err != nil {
		return fmt.Errorf("invalid engine config: %w", err)
	}

	return nil
}

func (c Config) sweeper() workflow.SweeperConfig {
	return workflow.SweeperConfig{
		ScheduleInterval: c.ScheduleInterval,
		OverdueInterval:  c.OverdueInterval,
		PollInterval:     c.PollInterval,
		Tolerance:        c.ScheduleTolerance,
		LedgerTTL:         c.FireLedgerTTL,
		ContinuationLease: c.ContinuationLease,
		ClaimBatch:        c.ContinuationBatch,
		Location:          c.Location,
	}
}
