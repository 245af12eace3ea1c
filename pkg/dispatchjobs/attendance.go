package dispatchjobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/opshub/pkg/logger"
	"github.com/dmitrymomot/opshub/pkg/notifications"
)

const (
	TypeAttendanceAutoClose = "asistencia_cierre_automatico"

	dateLayout     = "02/01/2006"
	dateTimeLayout = "02/01/2006 15:04"
)

// AttendanceAutoClose closes shifts left open past the cutoff and tells their
// owners. The cutoff is either a duration after check-in or, when
// Config.AttendanceCloseAt is set, a wall-clock time on the work date.
type AttendanceAutoClose struct {
	source AttendanceSource
	raiser Raiser
	cutoff time.Duration
	daily  bool
	hour   int
	minute int
	limit  int
	now    func() time.Time
	logger *slog.Logger
}

func NewAttendanceAutoClose(source AttendanceSource, raiser Raiser, cfg Config, opts ...Option) *AttendanceAutoClose {
	o := applyOptions(opts)
	j := &AttendanceAutoClose{
		source: source,
		raiser: raiser,
		cutoff: cfg.AttendanceCutoff,
		limit:  cfg.batch(),
		now:    o.now,
		logger: o.logger.With(logger.Job("attendance_autoclose")),
	}
	hour, minute, ok, err := cfg.dailyCloseAt()
	if err != nil {
		j.logger.Warn("invalid daily close time, using check-in cutoff", logger.Error(err))
	}
	j.daily, j.hour, j.minute = ok, hour, minute
	return j
}

// closeAt is when the shift should have ended.
func (j *AttendanceAutoClose) closeAt(sh OpenShift) time.Time {
	if !j.daily {
		return sh.CheckInAt.Add(j.cutoff)
	}
	y, m, d := sh.WorkDate.Date()
	at := time.Date(y, m, d, j.hour, j.minute, 0, 0, sh.CheckInAt.Location())
	if !at.After(sh.CheckInAt) {
		at = at.AddDate(0, 0, 1)
	}
	return at
}

// Run processes one batch and returns how many shifts were closed.
func (j *AttendanceAutoClose) Run(ctx context.Context) (int, error) {
	now := j.now()
	before := now.Add(-j.cutoff)
	if j.daily {
		before = now
	}
	shifts, err := j.source.OpenShifts(ctx, before, j.limit)
	if err != nil {
		return 0, err
	}

	var errs []error
	closed := 0
	for _, sh := range shifts {
		closeAt := j.closeAt(sh)
		if closeAt.After(now) {
			continue
		}
		_, err := j.raiser.Raise(ctx, notifications.RaiseRequest{
			Type:       TypeAttendanceAutoClose,
			Title:      "Jornada cerrada automáticamente",
			Message:    fmt.Sprintf("Tu jornada del %s se cerró a las %s por falta de salida.", sh.WorkDate.Format(dateLayout), closeAt.Format("15:04")),
			Recipients: []string{sh.UserID},
			DedupeKey:  "attendance_autoclose:" + sh.ID,
			Payload: map[string]any{
				"shift_id":  sh.ID,
				"work_date": sh.WorkDate.Format(dateLayout),
				"closed_at": closeAt.Format(dateTimeLayout),
			},
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("notify shift %s: %w", sh.ID, err))
			continue
		}
		ok, err := j.source.CloseShift(ctx, sh.ID, closeAt, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("close shift %s: %w", sh.ID, err))
			continue
		}
		if ok {
			closed++
		}
	}
	if closed > 0 {
		j.logger.InfoContext(ctx, "auto-closed shifts", logger.Count(closed))
	}
	return closed, errors.Join(errs...)
}
