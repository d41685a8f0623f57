package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Client publishes and serves admin commands for one warren instance.
// All channels are namespaced with the instance name.
type Client struct {
	rdb          *redis.Client
	instanceName string
}

// NewClient creates an admin client for the specified instance.
// Returns an error if instanceName is empty.
func NewClient(redisOpts *redis.Options, instanceName string) (*Client, error) {
	if instanceName == "" {
		return nil, fmt.Errorf("instance name cannot be empty")
	}

	return &Client{
		rdb:          redis.NewClient(redisOpts),
		instanceName: instanceName,
	}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// InstanceName returns the instance this client is scoped to.
func (c *Client) InstanceName() string {
	return c.instanceName
}

// Do publishes a command and waits for the daemon's reply. The reply subscription
// is confirmed before the command goes out, so a fast reply is never missed.
// Returns ctx.Err() if no reply arrives before ctx is done.
func (c *Client) Do(ctx context.Context, action Action) (*Reply, error) {
	cmd := NewCommand(action)
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	pubsub := c.rdb.Subscribe(ctx, ReplyChannel(c.instanceName))
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe to replies: %w", err)
	}

	payload, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal command: %w", err)
	}

	receivers, err := c.rdb.Publish(ctx, CommandChannel(c.instanceName), payload).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to publish command: %w", err)
	}
	if receivers == 0 {
		return nil, fmt.Errorf("no warren daemon is listening on instance '%s'", c.instanceName)
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil, fmt.Errorf("reply subscription closed")
			}
			var reply Reply
			if err := json.Unmarshal([]byte(msg.Payload), &reply); err != nil {
				continue
			}
			if reply.CommandID != cmd.ID {
				continue
			}
			return &reply, nil
		}
	}
}

func (c *Client) publishReply(ctx context.Context, reply *Reply) error {
	payload, err := json.Marshal(reply)
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}
	if err := c.rdb.Publish(ctx, ReplyChannel(c.instanceName), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish reply: %w", err)
	}
	return nil
}
