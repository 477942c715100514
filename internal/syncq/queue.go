// Package syncq keeps mutating CLI commands that could not reach the API
// and replays them later in order.
package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

type Command struct {
	ID       string         `json:"id"`
	Method   string         `json:"method"`
	Path     string         `json:"path"`
	Body     map[string]any `json:"body,omitempty"`
	QueuedAt time.Time      `json:"queued_at"`
}

type Queue struct {
	path string
}

// Open uses queue.json inside dir, creating dir if needed.
func Open(dir string) (*Queue, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return &Queue{path: filepath.Join(dir, "queue.json")}, nil
}

func (q *Queue) Load() ([]Command, error) {
	raw, err := os.ReadFile(q.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Command{}, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return []Command{}, nil
	}
	var out []Command
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (q *Queue) Save(commands []Command) error {
	raw, err := json.MarshalIndent(commands, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(q.path, raw, 0o600)
}

func (q *Queue) Push(cmd Command) (Command, error) {
	commands, err := q.Load()
	if err != nil {
		return cmd, err
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	if cmd.QueuedAt.IsZero() {
		cmd.QueuedAt = time.Now().UTC()
	}
	commands = append(commands, cmd)
	return cmd, q.Save(commands)
}

// ErrUnreachable marks a send failure that should keep the command queued.
var ErrUnreachable = errors.New("api unreachable")

type Result struct {
	Command Command
	Err     error
}

type SendFunc func(ctx context.Context, cmd Command) error

// Replay sends queued commands in order. A command rejected by the API is
// dropped and reported; replay stops at the first ErrUnreachable and keeps
// that command and everything after it.
func (q *Queue) Replay(ctx context.Context, send SendFunc) ([]Result, error) {
	commands, err := q.Load()
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(commands))
	i := 0
	for ; i < len(commands); i++ {
		if err := ctx.Err(); err != nil {
			break
		}
		err := send(ctx, commands[i])
		if errors.Is(err, ErrUnreachable) {
			break
		}
		results = append(results, Result{Command: commands[i], Err: err})
	}
	if err := q.Save(commands[i:]); err != nil {
		return results, err
	}
	return results, nil
}
