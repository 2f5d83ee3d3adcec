// Package chat owns the conversation histories. The Manager is the sole
// writer of the assistant collection: every append, edit, and reset flows
// through it, and it re-runs the send pipeline on edit-and-replay.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/cexll/assisthub-go/pkg/apicall"
	"github.com/cexll/assisthub-go/pkg/assistant"
	"github.com/cexll/assisthub-go/pkg/model"
	"github.com/cexll/assisthub-go/pkg/trigger"
)

var (
	// ErrBusy reports a second submission while one is in flight for the
	// same assistant.
	ErrBusy = errors.New("chat: assistant is busy")
	// ErrUnknownAssistant reports an id not present in the collection.
	ErrUnknownAssistant = errors.New("chat: unknown assistant")
)

// Manager maintains the in-memory collection and its persistence. Writes
// update memory first; a failed persist is logged and memory remains the
// source of truth until the next successful save. EditAndReplay is the one
// exception: it stages on a copy and only swaps in after a successful
// persist.
type Manager struct {
	store     *assistant.Store
	completer model.Completer
	triggers  *trigger.Engine
	executor  *apicall.Executor
	log       *zap.Logger

	mu     sync.Mutex
	agents []*assistant.Assistant
	busy   map[string]bool
	replay map[string]ReplayFunc
}

// ReplayFunc re-runs an edited request through an alternate pipeline. The
// revised user turn is already in the history when it is invoked.
type ReplayFunc func(ctx context.Context, text string, attachments []model.Attachment) (string, error)

// SetReplayHook routes EditAndReplay for id through fn instead of the
// ordinary send pipeline. The orchestrator registers one for its
// pseudo-assistant so an edited request is re-planned, not just re-sent.
func (m *Manager) SetReplayHook(id string, fn ReplayFunc) {
	m.mu.Lock()
	m.replay[id] = fn
	m.mu.Unlock()
}

// NewManager loads the collection and wires the send pipeline
// collaborators.
func NewManager(store *assistant.Store, completer model.Completer, triggers *trigger.Engine, executor *apicall.Executor, log *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("chat: store is required")
	}
	if completer == nil {
		return nil, errors.New("chat: completer is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	agents, err := store.Load()
	if err != nil {
		return nil, err
	}
	return &Manager{
		store:     store,
		completer: completer,
		triggers:  triggers,
		executor:  executor,
		log:       log,
		agents:    agents,
		busy:      make(map[string]bool),
		replay:    make(map[string]ReplayFunc),
	}, nil
}

// Roster returns a snapshot of the collection for routing and display.
func (m *Manager) Roster() assistant.Roster {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append(assistant.Roster(nil), m.agents...)
}

// Get returns the assistant with the given id.
func (m *Manager) Get(id string) (*assistant.Assistant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := assistant.Roster(m.agents).ByID(id)
	if a == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAssistant, id)
	}
	return a, nil
}

// Create adds a new assistant and persists the collection.
func (m *Manager) Create(title, systemPrompt string) *assistant.Assistant {
	a := assistant.New(title, systemPrompt)
	m.mu.Lock()
	m.agents = append(m.agents, a)
	m.persistLocked()
	m.mu.Unlock()
	return a
}

// Ensure returns the assistant with the given id, creating it with the
// supplied title and prompt when absent. Used for the AutoAssist
// pseudo-assistant.
func (m *Manager) Ensure(id, title, systemPrompt string) *assistant.Assistant {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a := assistant.Roster(m.agents).ByID(id); a != nil {
		return a
	}
	a := assistant.New(title, systemPrompt)
	a.ID = id
	m.agents = append(m.agents, a)
	m.persistLocked()
	return a
}

// Delete removes an assistant and cascades its knowledge files.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept, err := m.store.Delete(m.agents, id)
	if err != nil {
		return err
	}
	m.agents = kept
	return nil
}

// AppendUser pushes a user turn onto both projections and persists.
func (m *Manager) AppendUser(id, text string, attachments []model.Attachment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(id, assistant.Turn{
		Display:    assistant.DisplayMessage{Role: model.RoleUser, Content: text},
		Completion: model.UserMessage(text, attachments...),
	})
}

// AppendAssistant pushes an assistant turn. imagePath references a
// generated image artifact when the reply is an image.
func (m *Manager) AppendAssistant(id, text, imagePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendAssistantLocked(id, text, imagePath, nil)
}

// Reset clears an assistant's history.
func (m *Manager) Reset(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a := assistant.Roster(m.agents).ByID(id)
	if a == nil {
		return fmt.Errorf("%w: %s", ErrUnknownAssistant, id)
	}
	a.Turns = nil
	m.persistLocked()
	return nil
}

// EditAndReplay truncates the history to index, appends the revised user
// turn, persists, and re-runs the pipeline without re-appending the user
// turn. Assistants with a replay hook (the orchestrator pseudo-assistant)
// re-enter their own pipeline; everything else goes through Send. The
// truncation is staged on a clone: when the persist fails, no mutation is
// visible and the error is returned.
func (m *Manager) EditAndReplay(ctx context.Context, id string, index int, newContent string) (string, error) {
	m.mu.Lock()
	a := assistant.Roster(m.agents).ByID(id)
	if a == nil {
		m.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrUnknownAssistant, id)
	}
	if index < 0 || index >= len(a.Turns) {
		m.mu.Unlock()
		return "", fmt.Errorf("chat: edit index %d out of range (history length %d)", index, len(a.Turns))
	}
	staged := a.Clone()
	staged.Turns = append(staged.Turns[:index:index], assistant.Turn{
		Display:    assistant.DisplayMessage{Role: model.RoleUser, Content: newContent},
		Completion: model.UserMessage(newContent),
	})
	next := make([]*assistant.Assistant, len(m.agents))
	for i, cur := range m.agents {
		if cur.ID == id {
			next[i] = staged
		} else {
			next[i] = cur
		}
	}
	if err := m.store.Save(next); err != nil {
		m.mu.Unlock()
		return "", fmt.Errorf("chat: persist edit: %w", err)
	}
	m.agents = next
	hook := m.replay[id]
	m.mu.Unlock()

	if hook != nil {
		return hook(ctx, newContent, nil)
	}
	return m.Send(ctx, id, newContent, nil, WithSkipUserAppend())
}

// appendLocked mutates memory then persists; persistence failure is logged
// only (memory stays authoritative).
func (m *Manager) appendLocked(id string, turn assistant.Turn) error {
	a := assistant.Roster(m.agents).ByID(id)
	if a == nil {
		return fmt.Errorf("%w: %s", ErrUnknownAssistant, id)
	}
	a.Turns = append(a.Turns, turn)
	m.persistLocked()
	return nil
}

func (m *Manager) appendAssistantLocked(id, text, imagePath string, attachments []model.Attachment) error {
	completion := model.AssistantMessage(text)
	completion.Attachments = attachments
	return m.appendLocked(id, assistant.Turn{
		Display:    assistant.DisplayMessage{Role: model.RoleAssistant, Content: text, ImagePath: imagePath},
		Completion: completion,
	})
}

func (m *Manager) persistLocked() {
	if err := m.store.Save(m.agents); err != nil {
		m.log.Warn("persist collection", zap.Error(err))
	}
}

// acquire flips the per-assistant busy flag.
func (m *Manager) acquire(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busy[id] {
		return ErrBusy
	}
	m.busy[id] = true
	return nil
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.busy, id)
	m.mu.Unlock()
}
