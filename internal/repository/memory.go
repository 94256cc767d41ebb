package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"stayline/internal/entities"
)

// In-memory store implementations. They hold the same atomicity contract as
// the SQL stores under a single mutex, which makes them a faithful stand-in
// for tests and for DEV_MODE runs without Postgres.

// MemorySessionStore implements interfaces.SessionStore.
type MemorySessionStore struct {
	mu            sync.Mutex
	guests        map[string]*entities.GuestProfile
	conversations map[string]*entities.Conversation
	sessions      map[string]*entities.ChannelSession
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		guests:        make(map[string]*entities.GuestProfile),
		conversations: make(map[string]*entities.Conversation),
		sessions:      make(map[string]*entities.ChannelSession),
	}
}

func (s *MemorySessionStore) ResolveSession(ctx context.Context, businessID string, channel entities.Channel, recipient string, idleWindow time.Duration) (*entities.GuestProfile, *entities.Conversation, *entities.ChannelSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	for _, sess := range s.sessions {
		if sess.BusinessID == businessID && sess.Channel == channel && sess.Recipient == recipient && sess.Status == entities.SessionActive {
			if idleWindow > 0 && now.Sub(sess.LastMessageAt) > idleWindow {
				sess.Status = entities.SessionClosed
				break
			}
			sess.LastMessageAt = now
			guest := s.guests[sess.GuestID]
			conv := s.conversations[sess.ConversationID]
			return copyGuest(guest), copyConversation(conv), copySession(sess), nil
		}
	}

	// Find-or-create guest by contact identifier.
	var guest *entities.GuestProfile
	for _, g := range s.guests {
		if g.BusinessID == businessID && g.Phone == recipient {
			guest = g
			break
		}
	}
	if guest == nil {
		guest = &entities.GuestProfile{
			ID:         uuid.NewString(),
			BusinessID: businessID,
			Phone:      recipient,
			CreatedAt:  now,
		}
		s.guests[guest.ID] = guest
	}
	guest.LastSeenAt = now

	conv := &entities.Conversation{
		ID:         uuid.NewString(),
		BusinessID: businessID,
		GuestID:    guest.ID,
		Channel:    channel,
		CreatedAt:  now,
	}
	s.conversations[conv.ID] = conv

	sess := &entities.ChannelSession{
		ID:             uuid.NewString(),
		BusinessID:     businessID,
		Channel:        channel,
		Recipient:      recipient,
		GuestID:        guest.ID,
		ConversationID: conv.ID,
		Status:         entities.SessionActive,
		LastMessageAt:  now,
		CreatedAt:      now,
	}
	s.sessions[sess.ID] = sess

	return copyGuest(guest), copyConversation(conv), copySession(sess), nil
}

func (s *MemorySessionStore) GetSession(ctx context.Context, businessID string, channel entities.Channel, recipient string) (*entities.ChannelSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.BusinessID == businessID && sess.Channel == channel && sess.Recipient == recipient && sess.Status == entities.SessionActive {
			return copySession(sess), nil
		}
	}
	return nil, nil
}

func (s *MemorySessionStore) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.LastMessageAt = at
	}
	return nil
}

func (s *MemorySessionStore) CloseSession(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		sess.Status = entities.SessionClosed
	}
	return nil
}

func (s *MemorySessionStore) GetConversation(ctx context.Context, conversationID string) (*entities.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyConversation(s.conversations[conversationID]), nil
}

func (s *MemorySessionStore) GetGuest(ctx context.Context, guestID string) (*entities.GuestProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyGuest(s.guests[guestID]), nil
}

func (s *MemorySessionStore) UpdateGuest(ctx context.Context, guest *entities.GuestProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g, ok := s.guests[guest.ID]; ok {
		g.Name = guest.Name
		g.Language = guest.Language
		g.LastSeenAt = guest.LastSeenAt
	}
	return nil
}

// ActiveSessionCount reports active sessions for a tuple; test helper for
// the single-active-session invariant.
func (s *MemorySessionStore) ActiveSessionCount(businessID string, channel entities.Channel, recipient string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.BusinessID == businessID && sess.Channel == channel && sess.Recipient == recipient && sess.Status == entities.SessionActive {
			n++
		}
	}
	return n
}

// MemoryMessageStore implements interfaces.MessageStore.
type MemoryMessageStore struct {
	mu       sync.Mutex
	messages map[string][]entities.Message // conversationID -> append order
	seq      int64
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{messages: make(map[string][]entities.Message)}
}

func (s *MemoryMessageStore) Append(ctx context.Context, conversationID string, role entities.Role, content string, metadata map[string]string) (*entities.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	msg := entities.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Metadata:       metadata,
		CreatedAt:      time.Now().Add(time.Duration(s.seq)), // strictly increasing
	}
	s.messages[conversationID] = append(s.messages[conversationID], msg)
	out := msg
	return &out, nil
}

func (s *MemoryMessageStore) History(ctx context.Context, conversationID string, limit int) ([]entities.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.messages[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]entities.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// MemoryQueueStore implements interfaces.QueueStore.
type MemoryQueueStore struct {
	mu       sync.Mutex
	messages map[string]*entities.QueuedMessage
}

func NewMemoryQueueStore() *MemoryQueueStore {
	return &MemoryQueueStore{messages: make(map[string]*entities.QueuedMessage)}
}

func (s *MemoryQueueStore) Enqueue(ctx context.Context, msg *entities.QueuedMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Status == "" {
		msg.Status = entities.StatusPending
	}
	if msg.Kind == "" {
		msg.Kind = entities.KindText
	}
	if msg.ScheduledFor.IsZero() {
		msg.ScheduledFor = now
	}
	msg.CreatedAt = now
	msg.UpdatedAt = now
	stored := *msg
	s.messages[msg.ID] = &stored
	return nil
}

func (s *MemoryQueueStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]entities.QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	due := []*entities.QueuedMessage{}
	for _, m := range s.messages {
		if m.Status == entities.StatusPending && !m.ScheduledFor.After(now) {
			due = append(due, m)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]entities.QueuedMessage, 0, len(due))
	for _, m := range due {
		m.Status = entities.StatusSending
		m.UpdatedAt = now
		claimed = append(claimed, *m)
	}
	return claimed, nil
}

func (s *MemoryQueueStore) ClaimByID(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok || m.Status != entities.StatusPending {
		return false, nil
	}
	m.Status = entities.StatusSending
	m.UpdatedAt = time.Now()
	return true, nil
}

func (s *MemoryQueueStore) MarkSent(ctx context.Context, id, providerMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[id]; ok {
		m.Status = entities.StatusSent
		m.ProviderMessageID = providerMessageID
		m.LastError = ""
		m.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryQueueStore) MarkFailed(ctx context.Context, id, reason string, status entities.QueueStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[id]; ok {
		m.Status = status
		m.LastError = reason
		m.Retries++
		m.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryQueueStore) Reschedule(ctx context.Context, id string, at time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[id]; ok {
		m.Status = entities.StatusPending
		m.ScheduledFor = at
		m.LastError = reason
		m.Retries++
		m.UpdatedAt = time.Now()
	}
	return nil
}

func (s *MemoryQueueStore) RequeueStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().Add(-olderThan)
	var n int64
	for _, m := range s.messages {
		if m.Status == entities.StatusSending && m.UpdatedAt.Before(cutoff) {
			m.Status = entities.StatusPending
			m.UpdatedAt = time.Now()
			n++
		}
	}
	return n, nil
}

func (s *MemoryQueueStore) ApplyReceipt(ctx context.Context, receipt entities.DeliveryReceipt) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ProviderMessageID != "" && m.ProviderMessageID == receipt.ProviderMessageID {
			if !m.Status.CanAdvanceTo(receipt.Status) {
				return false, nil
			}
			m.Status = receipt.Status
			if receipt.ErrorMessage != "" {
				m.LastError = receipt.ErrorMessage
			}
			m.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryQueueStore) Get(ctx context.Context, id string) (*entities.QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[id]; ok {
		out := *m
		return &out, nil
	}
	return nil, nil
}

func (s *MemoryQueueStore) ListByStatus(ctx context.Context, businessID string, status entities.QueueStatus, limit int) ([]entities.QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []entities.QueuedMessage{}
	for _, m := range s.messages {
		if m.BusinessID == businessID && m.Status == status {
			out = append(out, *m)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// MemoryConfigStore implements interfaces.ConfigStore.
type MemoryConfigStore struct {
	mu         sync.Mutex
	configs    map[string]*entities.ChannelConfig
	businesses map[string]*entities.Business
}

func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{
		configs:    make(map[string]*entities.ChannelConfig),
		businesses: make(map[string]*entities.Business),
	}
}

func (s *MemoryConfigStore) GetChannelConfig(ctx context.Context, businessID string, channel entities.Channel) (*entities.ChannelConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg, ok := s.configs[businessID+"/"+string(channel)]; ok {
		out := *cfg
		return &out, nil
	}
	return nil, nil
}

func (s *MemoryConfigStore) ListChannelConfigs(ctx context.Context) ([]entities.ChannelConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []entities.ChannelConfig{}
	for _, cfg := range s.configs {
		out = append(out, *cfg)
	}
	return out, nil
}

func (s *MemoryConfigStore) SetChannelConfig(ctx context.Context, cfg *entities.ChannelConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *cfg
	s.configs[cfg.BusinessID+"/"+string(cfg.Channel)] = &stored
	return nil
}

func (s *MemoryConfigStore) GetBusiness(ctx context.Context, id string) (*entities.Business, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.businesses[id]; ok {
		out := *b
		return &out, nil
	}
	return nil, nil
}

func (s *MemoryConfigStore) PutBusiness(b *entities.Business) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := *b
	s.businesses[b.ID] = &stored
}

func copyGuest(g *entities.GuestProfile) *entities.GuestProfile {
	if g == nil {
		return nil
	}
	out := *g
	return &out
}

func copyConversation(c *entities.Conversation) *entities.Conversation {
	if c == nil {
		return nil
	}
	out := *c
	return &out
}

func copySession(s *entities.ChannelSession) *entities.ChannelSession {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}
