package coordinator

import (
	"context"
	"time"
)

// EventType 进度事件类型
type EventType string

const (
	EventStageStarted   EventType = "stage_started"
	EventStageCompleted EventType = "stage_completed"
	EventStageFailed    EventType = "stage_failed"
	EventHostDown       EventType = "host_down"
	EventTargetDone     EventType = "target_done"
)

// Event 流水线进度事件
type Event struct {
	RunID  string
	Target string
	Stage  StageName
	Type   EventType
	Err    string
	Time   time.Time
}

func (c *Coordinator) emit(ctx context.Context, ev Event) {
	if c.events == nil {
		return
	}
	ev.Time = time.Now()
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}
