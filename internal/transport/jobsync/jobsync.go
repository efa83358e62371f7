// Package jobsync mirrors the job table into Redis so external dashboards
// and planners can read it without talking to the scheduler.
package jobsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"dronecraft.ai/internal/sim/grid"
	"dronecraft.ai/internal/sim/scheduler"
)

// JobsKey is the hash holding one field per job coordinate.
func JobsKey(worldID string) string { return fmt.Sprintf("dronecraft:%s:jobs", worldID) }

// TickKey records the tick of the last published table.
func TickKey(worldID string) string { return fmt.Sprintf("dronecraft:%s:jobs_tick", worldID) }

// EventsChannel carries one SyncEvent per publish.
func EventsChannel(worldID string) string { return fmt.Sprintf("dronecraft:%s:job_events", worldID) }

type SyncEvent struct {
	WorldID string `json:"world_id"`
	Tick    uint64 `json:"tick"`
	Jobs    int    `json:"jobs"`
}

type table struct {
	tick uint64
	jobs []scheduler.JobView
}

// Publisher implements scheduler.JobPublisher. PublishJobs only records the
// latest table; Run writes it to Redis off the tick goroutine.
type Publisher struct {
	rdb     *redis.Client
	worldID string
	log     *zap.Logger

	mu      sync.Mutex
	pending *table
	wake    chan struct{}
}

func NewPublisher(rdb *redis.Client, worldID string, log *zap.Logger) (*Publisher, error) {
	if worldID == "" {
		return nil, fmt.Errorf("world id cannot be empty")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{rdb: rdb, worldID: worldID, log: log, wake: make(chan struct{}, 1)}, nil
}

func (p *Publisher) PublishJobs(tick uint64, jobs []scheduler.JobView) {
	p.mu.Lock()
	p.pending = &table{tick: tick, jobs: jobs}
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Publisher) take() *table {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.pending
	p.pending = nil
	return t
}

// Run flushes pending tables until ctx is cancelled. A failed write is
// logged and superseded by the next table.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.wake:
			t := p.take()
			if t == nil {
				continue
			}
			if err := p.Sync(ctx, t.tick, t.jobs); err != nil {
				p.log.Warn("job sync failed", zap.Uint64("tick", t.tick), zap.Error(err))
			}
		}
	}
}

// Sync replaces the Redis copy of the job table in one transaction and
// announces it on the events channel.
func (p *Publisher) Sync(ctx context.Context, tick uint64, jobs []scheduler.JobView) error {
	fields := make(map[string]any, len(jobs))
	for _, j := range jobs {
		b, err := json.Marshal(j)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		fields[fieldFor(j.Pos)] = string(b)
	}
	ev, err := json.Marshal(SyncEvent{WorldID: p.worldID, Tick: tick, Jobs: len(jobs)})
	if err != nil {
		return err
	}

	key := JobsKey(p.worldID)
	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
		}
		pipe.Set(ctx, TickKey(p.worldID), tick, 0)
		pipe.Publish(ctx, EventsChannel(p.worldID), ev)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write job table to Redis: %w", err)
	}
	p.log.Debug("job table synced", zap.Uint64("tick", tick), zap.Int("jobs", len(jobs)))
	return nil
}

func fieldFor(pos [3]int) string {
	return fmt.Sprintf("%d,%d,%d", pos[0], pos[1], pos[2])
}

// ReadJobs loads the last synced table. A missing table yields tick 0 and no
// jobs.
func ReadJobs(ctx context.Context, rdb *redis.Client, worldID string) (uint64, []scheduler.JobView, error) {
	tick, err := rdb.Get(ctx, TickKey(worldID)).Uint64()
	if err == redis.Nil {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read job tick: %w", err)
	}
	raw, err := rdb.HGetAll(ctx, JobsKey(worldID)).Result()
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read job table: %w", err)
	}
	jobs := make([]scheduler.JobView, 0, len(raw))
	for field, v := range raw {
		var j scheduler.JobView
		if err := json.Unmarshal([]byte(v), &j); err != nil {
			return 0, nil, fmt.Errorf("job %s: %w", field, err)
		}
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool {
		return grid.Less(grid.FromArray(jobs[i].Pos), grid.FromArray(jobs[k].Pos))
	})
	return tick, jobs, nil
}
