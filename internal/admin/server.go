package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/dyluth/warren/internal/bytecode"
	"github.com/dyluth/warren/internal/instance"
)

// Operator is the daemon surface admin commands act on.
type Operator interface {
	ReloadAll() []instance.ReloadResult
	ClearCache()
	CacheStats() bytecode.Stats
	Runtimes() []instance.Summary
}

// Server answers admin commands for one instance.
type Server struct {
	client *Client
	op     Operator
}

// NewServer creates a server that executes commands against op.
func NewServer(client *Client, op Operator) *Server {
	return &Server{client: client, op: op}
}

// Listener is a running server subscription.
type Listener struct {
	errors <-chan error
	done   <-chan struct{}
	cancel func()
	once   sync.Once
}

// Errors returns malformed commands and publish failures.
// The channel is closed when the listener stops.
func (l *Listener) Errors() <-chan error {
	return l.errors
}

// Done is closed once the listener has stopped.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

// Close stops the listener and waits for it to exit.
func (l *Listener) Close() error {
	l.once.Do(l.cancel)
	<-l.done
	return nil
}

// Listen subscribes to the command channel and handles commands in the background
// until ctx is cancelled or the listener is closed. The subscription is confirmed
// before Listen returns.
func (s *Server) Listen(ctx context.Context) (*Listener, error) {
	channel := CommandChannel(s.client.instanceName)
	pubsub := s.client.rdb.Subscribe(ctx, channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	errorsChan := make(chan error, 10)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(errorsChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := s.handle(ctx, msg.Payload); err != nil {
					select {
					case errorsChan <- err:
					default:
						log.Printf("[Admin] Dropped error: %v", err)
					}
				}
			}
		}
	}()

	log.Printf("[Admin] Listening for commands on %s", channel)
	return &Listener{errors: errorsChan, done: done, cancel: cancel}, nil
}

func (s *Server) handle(ctx context.Context, payload string) error {
	var cmd Command
	if err := json.Unmarshal([]byte(payload), &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal command: %w", err)
	}
	if err := cmd.Validate(); err != nil {
		if cmd.ID != "" {
			if perr := s.client.publishReply(ctx, &Reply{CommandID: cmd.ID, Error: err.Error()}); perr != nil {
				return fmt.Errorf("invalid command: %w (%v)", err, perr)
			}
		}
		return fmt.Errorf("invalid command: %w", err)
	}

	log.Printf("[Admin] Executing %s (command %s)", cmd.Action, cmd.ID)
	return s.client.publishReply(ctx, s.Execute(&cmd))
}

// Execute runs one command against the operator.
func (s *Server) Execute(cmd *Command) *Reply {
	reply := &Reply{CommandID: cmd.ID, OK: true}

	switch cmd.Action {
	case ActionReload:
		reply.Partitions, reply.OK = reloadResults(s.op.ReloadAll())
		if !reply.OK {
			reply.Error = "one or more partitions failed to reload"
		}
	case ActionClearCache:
		s.op.ClearCache()
		stats := s.op.CacheStats()
		reply.Cache = &stats
	case ActionStats:
		stats := s.op.CacheStats()
		reply.Cache = &stats
		reply.Runtimes = s.op.Runtimes()
	default:
		reply.OK = false
		reply.Error = fmt.Sprintf("unknown action '%s'", cmd.Action)
	}
	return reply
}

// Run listens until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	listener, err := s.Listen(ctx)
	if err != nil {
		return err
	}
	defer listener.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-listener.Errors():
			if !ok {
				return nil
			}
			log.Printf("[Admin] %v", err)
		}
	}
}
