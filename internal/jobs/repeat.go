package jobs

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

// RepeatSpec is a registered cron schedule. Template is copied into a fresh
// waiting job at every tick.
type RepeatSpec struct {
	Key       string    `json:"key"`
	Queue     QueueName `json:"queue"`
	Type      string    `json:"type"`
	Cron      string    `json:"cron"`
	Template  *Job      `json:"template"`
	NextRunAt time.Time `json:"nextRunAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// ParseCron parses a standard five-field expression, descriptors such as
// "@every 6h" and an optional CRON_TZ= prefix.
func ParseCron(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidCron, expr, err)
	}
	return sched, nil
}

// RepeatKey identifies a repeat schedule by what it would produce, so
// registering an identical schedule twice yields the same key.
func RepeatKey(queue QueueName, jobType, cronExpr string, payload []byte) string {
	h := sha1.New()
	h.Write([]byte(queue))
	h.Write([]byte{0})
	h.Write([]byte(jobType))
	h.Write([]byte{0})
	h.Write([]byte(cronExpr))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))[:20]
}

// newRepeatSpec validates job and cronExpr and computes the first tick after now.
func newRepeatSpec(job *Job, cronExpr string, now time.Time) (*RepeatSpec, error) {
	sched, err := ParseCron(cronExpr)
	if err != nil {
		return nil, err
	}
	template := job.clone()
	template.Delay = 0
	template.Cron = cronExpr
	template.ID = ""
	if err := prepare(template, now); err != nil {
		return nil, err
	}
	key := RepeatKey(template.Queue, template.Type, cronExpr, template.Payload)
	template.ID = ""
	template.RepeatKey = key

	return &RepeatSpec{
		Key:       key,
		Queue:     template.Queue,
		Type:      template.Type,
		Cron:      cronExpr,
		Template:  template,
		NextRunAt: sched.Next(now),
		CreatedAt: now,
	}, nil
}

// instanceID is deterministic per (schedule, tick) so concurrent materialisers
// collide on insert instead of duplicating the run.
func instanceID(key string, runAt time.Time) string {
	return "repeat:" + key + ":" + strconv.FormatInt(runAt.UnixMilli(), 10)
}

// materialise builds the job for the tick at runAt and advances the spec. Missed
// ticks are not backfilled: the next run is the first tick after now.
func (s *RepeatSpec) materialise(now time.Time) (*Job, error) {
	sched, err := ParseCron(s.Cron)
	if err != nil {
		return nil, err
	}
	runAt := s.NextRunAt
	job := s.Template.clone()
	job.ID = instanceID(s.Key, runAt)
	job.RepeatKey = s.Key
	if err := prepare(job, now); err != nil {
		return nil, err
	}
	job.EligibleAt = runAt

	next := sched.Next(now)
	if !next.After(runAt) {
		next = sched.Next(runAt)
	}
	s.NextRunAt = next
	return job, nil
}

func sortRepeats(specs []RepeatSpec) {
	sort.Slice(specs, func(i, j int) bool { return specs[i].Key < specs[j].Key })
}
