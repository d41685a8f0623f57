// Package admin is the operator command channel for a running warren daemon.
//
// Commands and replies are JSON documents exchanged over Redis Pub/Sub. Delivery is
// at-most-once: a command published while no daemon is subscribed is lost, and the
// client times out waiting for its reply.
package admin

import (
	"fmt"
	"time"

	"github.com/dyluth/warren/internal/bytecode"
	"github.com/dyluth/warren/internal/instance"
	"github.com/google/uuid"
)

// Action names an operator command.
type Action string

const (
	// ActionReload reloads every partition, authority first.
	ActionReload Action = "reload"
	// ActionClearCache drops every cached chunk.
	ActionClearCache Action = "clear_cache"
	// ActionStats reports cache and runtime statistics.
	ActionStats Action = "stats"
)

// Command is published by operators on the command channel.
type Command struct {
	ID         string `json:"id"`
	Action     Action `json:"action"`
	IssuedAtMs int64  `json:"issued_at_ms"`
}

// NewCommand creates a command with a fresh ID.
func NewCommand(action Action) *Command {
	return &Command{
		ID:         uuid.New().String(),
		Action:     action,
		IssuedAtMs: time.Now().UnixMilli(),
	}
}

// Validate checks the command is well-formed.
func (c *Command) Validate() error {
	if _, err := uuid.Parse(c.ID); err != nil {
		return fmt.Errorf("invalid command id '%s': %w", c.ID, err)
	}
	switch c.Action {
	case ActionReload, ActionClearCache, ActionStats:
		return nil
	default:
		return fmt.Errorf("unknown action '%s'", c.Action)
	}
}

// PartitionResult is one partition's outcome in a reply.
type PartitionResult struct {
	Key         int    `json:"key"`
	OK          bool   `json:"ok"`
	Error       string `json:"error,omitempty"`
	Compiled    int    `json:"compiled"`
	Cached      int    `json:"cached"`
	Precompiled int    `json:"precompiled"`
	Failed      int    `json:"failed"`
}

// Reply answers one command.
type Reply struct {
	CommandID  string             `json:"command_id"`
	OK         bool               `json:"ok"`
	Error      string             `json:"error,omitempty"`
	Partitions []PartitionResult  `json:"partitions,omitempty"`
	Runtimes   []instance.Summary `json:"runtimes,omitempty"`
	Cache      *bytecode.Stats    `json:"cache,omitempty"`
}

// reloadResults converts registry results for the wire. The reply is OK only when
// every partition reloaded.
func reloadResults(results []instance.ReloadResult) ([]PartitionResult, bool) {
	out := make([]PartitionResult, 0, len(results))
	ok := true
	for _, r := range results {
		pr := PartitionResult{
			Key:         int(r.Key),
			OK:          r.Err == nil,
			Compiled:    r.Stats.Compiled,
			Cached:      r.Stats.Cached,
			Precompiled: r.Stats.Precompiled,
			Failed:      r.Stats.Failed,
		}
		if r.Err != nil {
			pr.Error = r.Err.Error()
			ok = false
		}
		out = append(out, pr)
	}
	return out, ok
}
