// Package session keeps the capped per-session conversation history that is
// fed back into the planner prompt.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	"github.com/mohammad-safakhou/replanner/internal/agent/core"
	"github.com/redis/go-redis/v9"
)

// DefaultMaxMessages bounds the history kept per session.
const DefaultMaxMessages = 10

// History stores conversation messages per session id.
type History interface {
	Load(ctx context.Context, sessionID string) ([]core.Message, error)
	Append(ctx context.Context, sessionID string, msgs ...core.Message) error
	Clear(ctx context.Context, sessionID string) error
}

// MemoryHistory is a process-local History.
type MemoryHistory struct {
	mu       sync.Mutex
	max      int
	sessions map[string][]core.Message
}

func NewMemoryHistory(max int) *MemoryHistory {
	if max <= 0 {
		max = DefaultMaxMessages
	}
	return &MemoryHistory{max: max, sessions: make(map[string][]core.Message)}
}

func (h *MemoryHistory) Load(_ context.Context, sessionID string) ([]core.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.sessions[sessionID]), nil
}

func (h *MemoryHistory) Append(_ context.Context, sessionID string, msgs ...core.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	all := append(h.sessions[sessionID], msgs...)
	if over := len(all) - h.max; over > 0 {
		all = slices.Clone(all[over:])
	}
	h.sessions[sessionID] = all
	return nil
}

func (h *MemoryHistory) Clear(_ context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, sessionID)
	return nil
}

// RedisHistory keeps each session as a capped Redis list of JSON messages.
type RedisHistory struct {
	rdb *redis.Client
	max int
	ttl time.Duration
}

func NewRedisHistory(rdb *redis.Client, max int, ttl time.Duration) *RedisHistory {
	if max <= 0 {
		max = DefaultMaxMessages
	}
	return &RedisHistory{rdb: rdb, max: max, ttl: ttl}
}

func historyKey(sessionID string) string { return "replanner:session:" + sessionID + ":history" }

func (h *RedisHistory) Load(ctx context.Context, sessionID string) ([]core.Message, error) {
	raw, err := h.rdb.LRange(ctx, historyKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	out := make([]core.Message, 0, len(raw))
	for _, r := range raw {
		var m core.Message
		if err := json.Unmarshal([]byte(r), &m); err != nil {
			return nil, fmt.Errorf("decode history entry: %w", err)
		}
		out = append(out, m)
	}
	return out, nil
}

func (h *RedisHistory) Append(ctx context.Context, sessionID string, msgs ...core.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	vals := make([]any, 0, len(msgs))
	for _, m := range msgs {
		b, err := json.Marshal(m)
		if err != nil {
			return err
		}
		vals = append(vals, string(b))
	}
	key := historyKey(sessionID)
	_, err := h.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, vals...)
		p.LTrim(ctx, key, int64(-h.max), -1)
		if h.ttl > 0 {
			p.Expire(ctx, key, h.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

func (h *RedisHistory) Clear(ctx context.Context, sessionID string) error {
	return h.rdb.Del(ctx, historyKey(sessionID)).Err()
}

// Agent runs one turn. *core.Orchestrator implements it.
type Agent interface {
	ProcessRequest(ctx context.Context, req core.ChatRequest) core.ChatResponse
}

// Conversation runs turns against an Agent while maintaining the session
// history on both sides of the call.
type Conversation struct {
	history History
	agent   Agent
	logger  *log.Logger
}

func NewConversation(history History, agent Agent) *Conversation {
	return &Conversation{
		history: history,
		agent:   agent,
		logger:  log.New(log.Writer(), "[SESSION] ", log.LstdFlags),
	}
}

// Send loads the stored history when the request carries none, runs the
// turn and appends the new exchange. Error messages are not retained.
// The turn always runs; a non-nil error only reports that the exchange
// could not be appended.
func (c *Conversation) Send(ctx context.Context, req core.ChatRequest) (core.ChatResponse, error) {
	if req.SessionID != "" && len(req.MessageHistory) == 0 {
		// an unreadable history must not cost the user a reply
		prior, err := c.history.Load(ctx, req.SessionID)
		if err != nil {
			c.logger.Printf("warn: loading history of session %s failed, running without it: %v", req.SessionID, err)
		} else {
			req.MessageHistory = prior
		}
	}
	resp := c.agent.ProcessRequest(ctx, req)
	if req.SessionID == "" {
		return resp, nil
	}
	exchange := []core.Message{{Role: core.RoleUser, Content: req.Message}}
	if n := len(resp.MessageHistory); n > 0 {
		if last := resp.MessageHistory[n-1]; last.Role != core.RoleError {
			exchange = append(exchange, last)
		}
	}
	if err := c.history.Append(ctx, req.SessionID, exchange...); err != nil {
		return resp, err
	}
	return resp, nil
}
