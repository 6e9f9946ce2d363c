package testing

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/desertthunder/vidpub/internal/models"
	"github.com/desertthunder/vidpub/internal/shared"
)

// MockSlotAPI is a scripted remote side for one credential.
type MockSlotAPI struct {
	mu sync.Mutex

	Team string
	// Remote connection state per platform; a connect on a connected platform fails with ErrAlreadyConnected.
	Connected map[models.Platform]bool
	Accounts  []models.Account
	// ConnectErr, when set, is returned by every ConnectURL call.
	ConnectErr error
	// DisconnectErr, when set, is returned by every Disconnect call.
	DisconnectErr error

	ConnectCalls    []models.Platform
	DisconnectCalls []models.Platform
}

// NewMockSlotAPI returns a mock whose team id is "team-<id>".
func NewMockSlotAPI(id string) *MockSlotAPI {
	return &MockSlotAPI{Team: "team-" + id, Connected: map[models.Platform]bool{}}
}

func (m *MockSlotAPI) TeamID(context.Context) (string, error) {
	return m.Team, nil
}

func (m *MockSlotAPI) ConnectURL(_ context.Context, p models.Platform, redirect string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ConnectCalls = append(m.ConnectCalls, p)
	if m.ConnectErr != nil {
		return "", m.ConnectErr
	}
	if m.Connected[p] {
		return "", fmt.Errorf("%w: %s", shared.ErrAlreadyConnected, p)
	}
	return fmt.Sprintf("https://connect.test/%s/%s?redirect=%s", m.Team, p, redirect), nil
}

func (m *MockSlotAPI) Disconnect(_ context.Context, p models.Platform) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DisconnectCalls = append(m.DisconnectCalls, p)
	if m.DisconnectErr != nil {
		return m.DisconnectErr
	}
	m.Connected[p] = false
	kept := m.Accounts[:0]
	for _, a := range m.Accounts {
		if a.Platform != p {
			kept = append(kept, a)
		}
	}
	m.Accounts = kept
	return nil
}

func (m *MockSlotAPI) ListAccounts(context.Context) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Account{}, m.Accounts...), nil
}

// Link connects an account remotely.
func (m *MockSlotAPI) Link(a models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Connected[a.Platform] = true
	m.Accounts = append(m.Accounts, a)
}

// Disconnects returns how many disconnects were requested.
func (m *MockSlotAPI) Disconnects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.DisconnectCalls)
}

// MemoryLedger keeps the ledger document in memory.
type MemoryLedger struct {
	mu    sync.Mutex
	state models.LedgerState
	Saves int
	// SaveErr, when set, fails every Save.
	SaveErr error
}

func NewMemoryLedger(state models.LedgerState) *MemoryLedger {
	if state == nil {
		state = models.LedgerState{}
	}
	return &MemoryLedger{state: state}
}

func (l *MemoryLedger) Load(context.Context) (models.LedgerState, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Clone(), nil
}

func (l *MemoryLedger) Save(_ context.Context, s models.LedgerState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.SaveErr != nil {
		return l.SaveErr
	}
	l.state = s.Clone()
	l.Saves++
	return nil
}

// State returns a copy of the last saved document.
func (l *MemoryLedger) State() models.LedgerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Clone()
}

// MemoryChannels is an in-memory channel registry.
type MemoryChannels struct {
	mu       sync.Mutex
	channels map[string]models.Channel
}

func NewMemoryChannels(chs ...models.Channel) *MemoryChannels {
	m := &MemoryChannels{channels: make(map[string]models.Channel)}
	for _, c := range chs {
		m.channels[c.ChannelID] = c
	}
	return m
}

func (m *MemoryChannels) Get(_ context.Context, id string) (*models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.channels[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrChannelNotFound, id)
	}
	return &c, nil
}

func (m *MemoryChannels) Upsert(_ context.Context, c models.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.channels[c.ChannelID]; ok && !old.CreatedAt.IsZero() {
		c.CreatedAt = old.CreatedAt
	}
	m.channels[c.ChannelID] = c
	return nil
}

func (m *MemoryChannels) MarkDisconnected(_ context.Context, credentialID string, p models.Platform) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.channels {
		if c.CredentialID == credentialID && c.Platform == p {
			c.Status = models.ChannelDisconnected
			m.channels[id] = c
		}
	}
	return nil
}

func (m *MemoryChannels) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[id]; !ok {
		return fmt.Errorf("%w: %s", shared.ErrChannelNotFound, id)
	}
	delete(m.channels, id)
	return nil
}

func (m *MemoryChannels) List(context.Context) ([]models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Channel, 0, len(m.channels))
	for _, c := range m.channels {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}
