package dispatchjobs

import (
	"fmt"
	"time"
)

// Config holds job intervals and thresholds. AttendanceCloseAt is a
// wall-clock "HH:MM" cutoff on the shift's work date; when set it replaces
// AttendanceCutoff.
type Config struct {
	AttendanceInterval time.Duration `env:"JOB_ATTENDANCE_INTERVAL" envDefault:"15m"`
	AttendanceCutoff   time.Duration `env:"ATTENDANCE_CUTOFF" envDefault:"12h"`
	AttendanceCloseAt  string        `env:"ATTENDANCE_CLOSE_AT"`
	OnboardingInterval time.Duration `env:"JOB_ONBOARDING_INTERVAL" envDefault:"6h"`
	OnboardingHorizon  time.Duration `env:"ONBOARDING_WARN_HORIZON" envDefault:"48h"`
	ReminderInterval   time.Duration `env:"JOB_REMINDER_INTERVAL" envDefault:"20s"`
	ScheduledInterval  time.Duration `env:"JOB_SCHEDULED_INTERVAL" envDefault:"30s"`
	ReconcileInterval  time.Duration `env:"JOB_RECONCILE_INTERVAL" envDefault:"1m"`
	StaleDeliveryTTL   time.Duration `env:"STALE_DELIVERY_TTL" envDefault:"2m"`
	BatchSize          int           `env:"JOB_BATCH_SIZE" envDefault:"100"`
}

// DefaultConfig mirrors the env defaults.
func DefaultConfig() Config {
	return Config{
		AttendanceInterval: 15 * time.Minute,
		AttendanceCutoff:   12 * time.Hour,
		OnboardingInterval: 6 * time.Hour,
		OnboardingHorizon:  48 * time.Hour,
		ReminderInterval:   20 * time.Second,
		ScheduledInterval:  30 * time.Second,
		ReconcileInterval:  time.Minute,
		StaleDeliveryTTL:   2 * time.Minute,
		BatchSize:          100,
	}
}

func (c Config) batch() int {
	if c.BatchSize <= 0 {
		return 100
	}
	return c.BatchSize
}

// dailyCloseAt parses AttendanceCloseAt. ok is false when it is unset.
func (c Config) dailyCloseAt() (hour, minute int, ok bool, err error) {
	if c.AttendanceCloseAt == "" {
		return 0, 0, false, nil
	}
	t, err := time.Parse("15:04", c.AttendanceCloseAt)
	if err != nil {
		return 0, 0, false, fmt.Errorf("%w: ATTENDANCE_CLOSE_AT %q", ErrInvalidConfig, c.AttendanceCloseAt)
	}
	return t.Hour(), t.Minute(), true, nil
}
