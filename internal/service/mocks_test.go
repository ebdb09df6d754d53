package service_test

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/unclebandit/newsletter-service/internal/model"
	"github.com/unclebandit/newsletter-service/internal/repository"
)

var errDB = errors.New("connection refused")

// --- Bounce ledger ---

type MockBounceRepo struct {
	mu      sync.Mutex
	records map[string]model.BounceRecord
	events  map[string]bool
	fail    error
}

func NewMockBounceRepo() *MockBounceRepo {
	return &MockBounceRepo{records: map[string]model.BounceRecord{}, events: map[string]bool{}}
}

func (m *MockBounceRepo) Get(ctx context.Context, email string) (*model.BounceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[email]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *MockBounceRepo) IsUnsubscribed(ctx context.Context, email string) (bool, error) {
	rec, _ := m.Get(ctx, email)
	return rec != nil && rec.Unsubscribed, m.fail
}

func (m *MockBounceRepo) FilterUnsubscribed(ctx context.Context, emails []string) (map[string]bool, error) {
	if m.fail != nil {
		return nil, m.fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]bool{}
	for _, e := range emails {
		if m.records[e].Unsubscribed {
			out[e] = true
		}
	}
	return out, nil
}

func (m *MockBounceRepo) Stats(ctx context.Context) (model.LedgerStats, error) {
	if m.fail != nil {
		return model.LedgerStats{}, m.fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var s model.LedgerStats
	for _, r := range m.records {
		s.TotalBouncedAddresses++
		if r.Unsubscribed {
			s.TotalAutoUnsubscribed++
		}
	}
	return s, nil
}

// ApplyEvent takes the mutex per step, not across the read-decide-write,
// so callers that skip their own per-address locking lose updates.
func (m *MockBounceRepo) ApplyEvent(ctx context.Context, ev model.BounceEvent, mutate repository.BounceMutation) (*model.BounceRecord, bool, error) {
	if m.fail != nil {
		return nil, false, m.fail
	}

	m.mu.Lock()
	key := ev.DedupeKey()
	dup := m.events[key]
	m.events[key] = true
	m.mu.Unlock()

	current, _ := m.Get(ctx, ev.Email)
	if dup {
		return current, false, nil
	}

	time.Sleep(50 * time.Microsecond)
	next := mutate(current)

	m.mu.Lock()
	m.records[ev.Email] = next
	m.mu.Unlock()
	return &next, true, nil
}

func (m *MockBounceRepo) put(rec model.BounceRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.Email] = rec
}

// --- Delivery log ---

type MockDeliveryLog struct {
	mu         sync.Mutex
	entries    []model.DeliveryLogEntry
	failCreate error
	fail       error
}

func (m *MockDeliveryLog) Create(ctx context.Context, e *model.DeliveryLogEntry) error {
	if m.failCreate != nil {
		return m.failCreate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = len(m.entries) + 1
	e.CreatedAt = time.Now()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *MockDeliveryLog) UpdateResult(ctx context.Context, e *model.DeliveryLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.ID-1] = *e
	return nil
}

func (m *MockDeliveryLog) MarkByMessageID(ctx context.Context, messageID, status string) (int64, error) {
	if m.fail != nil {
		return 0, m.fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for i, e := range m.entries {
		if e.MessageID != nil && *e.MessageID == messageID && !model.IsTerminalDeliveryStatus(e.Status) && e.Status != model.DeliveryFailed {
			m.entries[i].Status = status
			n++
		}
	}
	return n, nil
}

func (m *MockDeliveryLog) CountByStatus(ctx context.Context) (model.DeliveryCounts, error) {
	if m.fail != nil {
		return nil, m.fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c := model.DeliveryCounts{}
	for _, e := range m.entries {
		c[e.Status]++
	}
	return c, nil
}

func (m *MockDeliveryLog) CountByStatusForNewsletter(ctx context.Context, id int) (model.DeliveryCounts, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := model.DeliveryCounts{}
	for _, e := range m.entries {
		if e.NewsletterID == id {
			c[e.Status]++
		}
	}
	return c, nil
}

func (m *MockDeliveryLog) CustomerStats(ctx context.Context, customerID int) (model.CustomerStats, error) {
	if m.fail != nil {
		return model.CustomerStats{}, m.fail
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s := model.CustomerStats{CustomerID: customerID}
	for _, e := range m.entries {
		if e.CustomerID == customerID {
			s.TotalSent++
			if e.Status == model.DeliveryBounced {
				s.TotalBounced++
			}
		}
	}
	return s, nil
}

func (m *MockDeliveryLog) ListByNewsletter(ctx context.Context, id, offset, limit int) ([]model.DeliveryLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.DeliveryLogEntry{}
	for _, e := range m.entries {
		if e.NewsletterID == id {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockDeliveryLog) DeliveredEmails(ctx context.Context, id int) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	out := map[string]bool{}
	for _, e := range m.entries {
		if e.NewsletterID != id {
			continue
		}
		switch e.Status {
		case model.DeliverySent, model.DeliveryDelivered, model.DeliveryBounced:
			out[e.Email] = true
		}
	}
	return out, nil
}

func (m *MockDeliveryLog) byEmail(email string) *model.DeliveryLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Email == email {
			e := e
			return &e
		}
	}
	return nil
}

func (m *MockDeliveryLog) all() []model.DeliveryLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.DeliveryLogEntry(nil), m.entries...)
}

// --- Recipient directory ---

type MockRecipientRepo struct {
	recipients []model.Recipient
	bounces    *MockBounceRepo
	fail       error
}

func (m *MockRecipientRepo) GetByID(ctx context.Context, id int) (*model.Recipient, error) {
	for _, r := range m.recipients {
		if r.CustomerID == id {
			r := r
			return &r, nil
		}
	}
	return nil, nil
}

func (m *MockRecipientRepo) ListSubscribed(ctx context.Context) ([]model.Recipient, error) {
	if m.fail != nil {
		return nil, m.fail
	}
	out := []model.Recipient{}
	for _, r := range m.recipients {
		if r.OptedIn && r.Active {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CustomerID < out[j].CustomerID })
	return out, nil
}

func (m *MockRecipientRepo) ListEligible(ctx context.Context, offset, limit int) ([]model.Recipient, int, error) {
	subscribed, err := m.ListSubscribed(ctx)
	if err != nil {
		return nil, 0, err
	}
	eligible := []model.Recipient{}
	for _, r := range subscribed {
		if m.bounces != nil {
			if u, _ := m.bounces.IsUnsubscribed(ctx, strings.ToLower(r.Email)); u {
				continue
			}
		}
		eligible = append(eligible, r)
	}
	total := len(eligible)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return eligible[offset:end], total, nil
}

func (m *MockRecipientRepo) CountEligible(ctx context.Context) (int, error) {
	_, total, err := m.ListEligible(ctx, 0, 0)
	return total, err
}

// --- Newsletters ---

type MockNewsletterRepo struct {
	mu          sync.Mutex
	newsletters map[int]*model.Newsletter
	nextID      int
}

func NewMockNewsletterRepo(ns ...*model.Newsletter) *MockNewsletterRepo {
	m := &MockNewsletterRepo{newsletters: map[int]*model.Newsletter{}}
	for _, n := range ns {
		m.newsletters[n.ID] = n
		if n.ID > m.nextID {
			m.nextID = n.ID
		}
	}
	return m
}

func (m *MockNewsletterRepo) Create(ctx context.Context, n *model.Newsletter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	n.ID = m.nextID
	n.CreatedAt = time.Now()
	m.newsletters[n.ID] = n
	return nil
}

func (m *MockNewsletterRepo) GetByID(ctx context.Context, id int) (*model.Newsletter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.newsletters[id]
	if !ok {
		return nil, nil
	}
	c := *n
	return &c, nil
}

func (m *MockNewsletterRepo) List(ctx context.Context, offset, limit int, status string) ([]*model.Newsletter, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := []*model.Newsletter{}
	for _, n := range m.newsletters {
		if status == "" || n.Status == status {
			all = append(all, n)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *MockNewsletterRepo) UpdateStatus(ctx context.Context, id int, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.newsletters[id]
	if !ok {
		return fmt.Errorf("newsletter %d missing", id)
	}
	n.Status = status
	return nil
}

func (m *MockNewsletterRepo) ListDue(ctx context.Context, now time.Time) ([]*model.Newsletter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	due := []*model.Newsletter{}
	for _, n := range m.newsletters {
		if n.Status == model.NewsletterScheduled && n.ScheduledAt != nil && !n.ScheduledAt.After(now) {
			due = append(due, n)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

func (m *MockNewsletterRepo) status(id int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.newsletters[id].Status
}

// --- Settings ---

type StaticSettings struct {
	settings model.Settings
	err      error
}

func (s StaticSettings) Load(ctx context.Context) (model.Settings, error) {
	return s.settings, s.err
}

func sendableSettings() model.Settings {
	return model.Settings{
		APIToken:            "server-token",
		FromEmail:           "news@example.com",
		FromName:            "Shop",
		MessageStream:       "broadcast",
		TrackOpens:          true,
		TrackLinks:          true,
		AutoUnsubscribeHard: true,
		SoftBounceThreshold: 3,
	}
}

// --- Mailer ---

type MockMailer struct {
	mu      sync.Mutex
	calls   []model.OutboundEmail
	respond func(call int, email model.OutboundEmail) (string, error)
	testErr error
}

func (m *MockMailer) Send(ctx context.Context, email model.OutboundEmail) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, email)
	n := len(m.calls)
	m.mu.Unlock()
	if m.respond != nil {
		return m.respond(n, email)
	}
	return "msg-" + email.To, nil
}

func (m *MockMailer) TestConnection(ctx context.Context) error {
	return m.testErr
}

func (m *MockMailer) sentTo() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	for i, c := range m.calls {
		out[i] = c.To
	}
	return out
}

func recipient(id int, email string) model.Recipient {
	return model.Recipient{CustomerID: id, Email: email, OptedIn: true, Active: true}
}
