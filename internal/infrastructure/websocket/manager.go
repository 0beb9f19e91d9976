package websocket

import (
	"context"
	"sync"

	"habita/pkg/logger"
)

// Manager tracks all active socket clients. An account can be connected
// from several devices at once, so clients are keyed by connection ID
// with a secondary index per account.
type Manager struct {
	clients    map[string]*Client
	byAccount  map[string]map[string]*Client
	Register   chan *Client
	Unregister chan *Client
	mutex      sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		clients:    make(map[string]*Client),
		byAccount:  make(map[string]map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// Start runs the manager's main loop in a goroutine
func (m *Manager) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case client := <-m.Register:
				m.mutex.Lock()
				m.clients[client.ID] = client
				if m.byAccount[client.AccountID] == nil {
					m.byAccount[client.AccountID] = make(map[string]*Client)
				}
				m.byAccount[client.AccountID][client.ID] = client
				m.mutex.Unlock()
				logger.Info("Client registered: %s (account %s)", client.ID, client.AccountID)

			case client := <-m.Unregister:
				m.mutex.Lock()
				if _, ok := m.clients[client.ID]; ok {
					delete(m.clients, client.ID)
					delete(m.byAccount[client.AccountID], client.ID)
					if len(m.byAccount[client.AccountID]) == 0 {
						delete(m.byAccount, client.AccountID)
					}
					close(client.Send)
				}
				m.mutex.Unlock()
				logger.Info("Client unregistered: %s (account %s)", client.ID, client.AccountID)

			case <-ctx.Done():
				return
			}
		}
	}()
}

// SendToAccount delivers a frame to every connection the account has open.
func (m *Manager) SendToAccount(accountID string, frame []byte) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, client := range m.byAccount[accountID] {
		select {
		case client.Send <- frame:
		default:
			// Slow consumer; drop the frame rather than block the sender.
		}
	}
}

// ConnectionCount reports how many connections an account has open.
func (m *Manager) ConnectionCount(accountID string) int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.byAccount[accountID])
}
