package flush

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/vmkteam/embedlog"
)

// RunFunc executes one flush for a user. It is called from scheduler
// goroutines and must do its own locking and error reporting.
type RunFunc func(ctx context.Context, userID int)

// DefaultDescriptor is the schedule installed by the "use default" shortcut.
func DefaultDescriptor() Descriptor {
	return Descriptor{Kind: KindDaily, Hour: 23, Minute: 59}
}

// Scheduler owns the shared gocron instance. Each user has at most one job,
// tagged with the user id; installing a schedule replaces the previous job
// atomically.
type Scheduler struct {
	sched gocron.Scheduler
	run   RunFunc
	log   embedlog.Logger
	ctx   context.Context
}

func NewScheduler(ctx context.Context, run RunFunc, log embedlog.Logger) (*Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.Local))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	return &Scheduler{sched: sched, run: run, log: log, ctx: ctx}, nil
}

func (s *Scheduler) Start() {
	s.sched.Start()
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}

func userTag(userID int) string {
	return fmt.Sprintf("user:%d", userID)
}

// Set installs the schedule for a user, cancelling any previous job first.
// KindNone only removes the existing job.
func (s *Scheduler) Set(userID int, d Descriptor) error {
	s.sched.RemoveByTags(userTag(userID))

	if d.Kind == KindNone {
		return nil
	}

	def, err := jobDefinition(d)
	if err != nil {
		return err
	}

	task := gocron.NewTask(func() {
		s.run(s.ctx, userID)
	})

	opts := []gocron.JobOption{gocron.WithTags(userTag(userID))}
	if d.Kind == KindOnce {
		// one-shot jobs are done after the first fire, whatever the outcome;
		// the listener receives the job id, so removal needs no shared state
		opts = append(opts, gocron.WithEventListeners(
			gocron.AfterJobRuns(func(jobID uuid.UUID, jobName string) {
				if err := s.sched.RemoveJob(jobID); err != nil {
					s.log.Error(s.ctx, "failed to remove one-shot job", "user_id", userID, "err", err)
				}
			}),
		))
	}

	if _, err := s.sched.NewJob(def, task, opts...); err != nil {
		return fmt.Errorf("failed to schedule job: %w", err)
	}

	s.log.Print(s.ctx, "schedule installed", "user_id", userID, "schedule", d.String())

	return nil
}

func jobDefinition(d Descriptor) (gocron.JobDefinition, error) {
	at := gocron.NewAtTimes(gocron.NewAtTime(uint(d.Hour), uint(d.Minute), 0))

	switch d.Kind {
	case KindOnce:
		return gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(d.At)), nil
	case KindDaily:
		return gocron.DailyJob(1, at), nil
	case KindWeekly:
		return gocron.WeeklyJob(1, gocron.NewWeekdays(d.Weekday), at), nil
	case KindMonthly:
		return gocron.MonthlyJob(1, gocron.NewDaysOfTheMonth(d.Day), at), nil
	default:
		return nil, fmt.Errorf("%w: unsupported schedule kind %d", ErrInvalidSpec, d.Kind)
	}
}

// Remove cancels the user's job and reports whether one existed.
func (s *Scheduler) Remove(userID int) bool {
	existed := s.find(userID) != nil
	s.sched.RemoveByTags(userTag(userID))
	return existed
}

// Next returns the next fire time of the user's job, if any.
func (s *Scheduler) Next(userID int) (time.Time, bool) {
	job := s.find(userID)
	if job == nil {
		return time.Time{}, false
	}

	next, err := job.NextRun()
	if err != nil {
		return time.Time{}, false
	}

	return next, true
}

func (s *Scheduler) find(userID int) gocron.Job {
	tag := userTag(userID)
	for _, job := range s.sched.Jobs() {
		for _, t := range job.Tags() {
			if t == tag {
				return job
			}
		}
	}
	return nil
}
