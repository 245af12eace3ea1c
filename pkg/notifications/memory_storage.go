package notifications

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

type recipientKey struct {
	notificationID string
	userID         string
}

type channelKey struct {
	recipientID string
	channel     Channel
}

type prefKey struct {
	userID  string
	typeID  int64
	channel Channel
}

type templateKey struct {
	typeID  int64
	channel Channel
	locale  string
}

// MemoryStorage is an in-memory Storage for tests and local runs.
type MemoryStorage struct {
	mu sync.RWMutex

	inboxes    map[string]Inbox
	types      map[string]*NotificationType
	typeCodes  map[int64]string
	nextTypeID int64

	notifications map[string]Notification
	dedupe        map[string]string

	recipients       map[string]*Recipient
	recipientsByUser map[recipientKey]string
	recipientOrder   map[string][]string

	deliveries       map[string]*Delivery
	deliveryTokens   map[string]string
	deliveryChannels map[channelKey]string

	prefs     map[prefKey]ChannelPreference
	devices   map[string]DeviceToken
	templates map[templateKey]Template
}

var _ Storage = (*MemoryStorage)(nil)

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		inboxes:          make(map[string]Inbox),
		types:            make(map[string]*NotificationType),
		typeCodes:        make(map[int64]string),
		notifications:    make(map[string]Notification),
		dedupe:           make(map[string]string),
		recipients:       make(map[string]*Recipient),
		recipientsByUser: make(map[recipientKey]string),
		recipientOrder:   make(map[string][]string),
		deliveries:       make(map[string]*Delivery),
		deliveryTokens:   make(map[string]string),
		deliveryChannels: make(map[channelKey]string),
		prefs:            make(map[prefKey]ChannelPreference),
		devices:          make(map[string]DeviceToken),
		templates:        make(map[templateKey]Template),
	}
}

// Catalog

func (m *MemoryStorage) UpsertInbox(_ context.Context, inbox Inbox) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inboxes[inbox.Code] = inbox
	return nil
}

func (m *MemoryStorage) ListInboxes(_ context.Context) ([]Inbox, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedInboxes(), nil
}

func (m *MemoryStorage) sortedInboxes() []Inbox {
	out := make([]Inbox, 0, len(m.inboxes))
	for _, in := range m.inboxes {
		out = append(out, in)
	}
	slices.SortFunc(out, func(a, b Inbox) int {
		return cmp.Or(cmp.Compare(a.Position, b.Position), cmp.Compare(a.Code, b.Code))
	})
	return out
}

func (m *MemoryStorage) UpsertType(_ context.Context, t NotificationType) (*NotificationType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.inboxes[t.Inbox]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownInbox, t.Inbox)
	}
	if existing, ok := m.types[t.Code]; ok {
		t.ID = existing.ID
	} else {
		m.nextTypeID++
		t.ID = m.nextTypeID
	}
	t.DefaultChannels = slices.Clone(t.DefaultChannels)
	m.types[t.Code] = &t
	m.typeCodes[t.ID] = t.Code
	out := t
	return &out, nil
}

func (m *MemoryStorage) GetType(_ context.Context, ref string) (*NotificationType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.types[ref]
	if !ok {
		if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
			t, ok = m.types[m.typeCodes[id]]
		}
	}
	if !ok {
		return nil, ErrUnknownType
	}
	out := *t
	out.DefaultChannels = slices.Clone(t.DefaultChannels)
	return &out, nil
}

func (m *MemoryStorage) ListTypes(_ context.Context) ([]NotificationType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]NotificationType, 0, len(m.types))
	for _, t := range m.types {
		c := *t
		c.DefaultChannels = slices.Clone(t.DefaultChannels)
		out = append(out, c)
	}
	slices.SortFunc(out, func(a, b NotificationType) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

// Notifications

func (m *MemoryStorage) CreateNotification(_ context.Context, n Notification, recipients []Recipient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.notifications[n.ID]; exists {
		return fmt.Errorf("notification %s already exists", n.ID)
	}
	if n.DedupeKey != "" {
		if _, taken := m.dedupe[n.DedupeKey]; taken {
			return ErrDuplicateNotification
		}
		m.dedupe[n.DedupeKey] = n.ID
	}
	m.notifications[n.ID] = n
	for _, r := range recipients {
		key := recipientKey{notificationID: n.ID, userID: r.UserID}
		if _, dup := m.recipientsByUser[key]; dup {
			continue
		}
		r.NotificationID = n.ID
		rc := r
		m.recipients[r.ID] = &rc
		m.recipientsByUser[key] = r.ID
		m.recipientOrder[n.ID] = append(m.recipientOrder[n.ID], r.ID)
	}
	return nil
}

func (m *MemoryStorage) GetNotification(_ context.Context, id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	return &n, nil
}

func (m *MemoryStorage) GetNotificationByDedupeKey(_ context.Context, key string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.dedupe[key]
	if !ok {
		return nil, ErrNotificationNotFound
	}
	n := m.notifications[id]
	return &n, nil
}

func (m *MemoryStorage) ListRecipients(_ context.Context, notificationID string) ([]Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.recipientOrder[notificationID]
	out := make([]Recipient, 0, len(ids))
	for _, id := range ids {
		out = append(out, *m.recipients[id])
	}
	return out, nil
}

func (m *MemoryStorage) ClaimDue(_ context.Context, now time.Time, limit int) ([]Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []Notification
	for _, n := range m.notifications {
		if n.DispatchedAt == nil && n.ScheduledFor != nil && !n.ScheduledFor.After(now) {
			due = append(due, n)
		}
	}
	slices.SortFunc(due, func(a, b Notification) int {
		return cmp.Or(a.ScheduledFor.Compare(*b.ScheduledFor), cmp.Compare(a.ID, b.ID))
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		at := now
		due[i].DispatchedAt = &at
		m.notifications[due[i].ID] = due[i]
	}
	return due, nil
}

// Deliveries

func cloneDelivery(d *Delivery) *Delivery {
	c := *d
	c.TokenResults = slices.Clone(d.TokenResults)
	return &c
}

func (m *MemoryStorage) CreateDelivery(_ context.Context, d Delivery) (*Delivery, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := channelKey{recipientID: d.RecipientID, channel: d.Channel}
	if id, ok := m.deliveryChannels[key]; ok {
		return cloneDelivery(m.deliveries[id]), false, nil
	}
	stored := cloneDelivery(&d)
	m.deliveries[d.ID] = stored
	m.deliveryChannels[key] = d.ID
	if d.TrackingToken != "" {
		m.deliveryTokens[d.TrackingToken] = d.ID
	}
	return cloneDelivery(stored), true, nil
}

func (m *MemoryStorage) TransitionDelivery(_ context.Context, id string, tr Transition) (*Delivery, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, false, ErrDeliveryNotFound
	}
	applied := d.Apply(tr)
	return cloneDelivery(d), applied, nil
}

func (m *MemoryStorage) GetDelivery(_ context.Context, id string) (*Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deliveries[id]
	if !ok {
		return nil, ErrDeliveryNotFound
	}
	return cloneDelivery(d), nil
}

func (m *MemoryStorage) GetDeliveryByToken(_ context.Context, token string) (*Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.deliveryTokens[token]
	if !ok {
		return nil, ErrDeliveryNotFound
	}
	return cloneDelivery(m.deliveries[id]), nil
}

func (m *MemoryStorage) GetDeliveryByProviderID(_ context.Context, ch Channel, providerID string) (*Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if providerID == "" {
		return nil, ErrDeliveryNotFound
	}
	for _, d := range m.deliveries {
		if d.Channel == ch && d.ProviderID == providerID {
			return cloneDelivery(d), nil
		}
	}
	return nil, ErrDeliveryNotFound
}

func (m *MemoryStorage) ListDeliveries(_ context.Context, recipientID string) ([]Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Delivery
	for _, d := range m.deliveries {
		if d.RecipientID == recipientID {
			out = append(out, *cloneDelivery(d))
		}
	}
	sortDeliveries(out)
	return out, nil
}

func (m *MemoryStorage) ListStaleDeliveries(_ context.Context, olderThan time.Time, limit int) ([]Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Delivery
	for _, d := range m.deliveries {
		if d.Status == StatusQueued && d.CreatedAt.Before(olderThan) {
			out = append(out, *cloneDelivery(d))
		}
	}
	sortDeliveries(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortDeliveries(ds []Delivery) {
	order := func(ch Channel) int { return slices.Index(KnownChannels, ch) }
	slices.SortFunc(ds, func(a, b Delivery) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(order(a.Channel), order(b.Channel)), cmp.Compare(a.ID, b.ID))
	})
}

// Inbox

func (m *MemoryStorage) ownedRecipient(userID, recipientID string) (*Recipient, error) {
	r, ok := m.recipients[recipientID]
	if !ok || r.UserID != userID {
		return nil, ErrRecipientNotFound
	}
	return r, nil
}

func (m *MemoryStorage) GetRecipient(_ context.Context, userID, recipientID string) (*Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, err := m.ownedRecipient(userID, recipientID)
	if err != nil {
		return nil, err
	}
	out := *r
	return &out, nil
}

func (m *MemoryStorage) UpdateRecipient(_ context.Context, userID, recipientID string, upd RecipientUpdate) (*Recipient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, err := m.ownedRecipient(userID, recipientID)
	if err != nil {
		return nil, err
	}
	if !upd.Apply(r) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, upd.Action)
	}
	out := *r
	return &out, nil
}

func (m *MemoryStorage) MarkRecipientRead(_ context.Context, recipientID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.recipients[recipientID]
	if !ok {
		return false, ErrRecipientNotFound
	}
	if r.ReadAt != nil {
		return false, nil
	}
	RecipientUpdate{Action: ActionRead, At: at}.Apply(r)
	return true, nil
}

func (m *MemoryStorage) MarkAllRead(_ context.Context, userID, inbox string, at time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, r := range m.recipients {
		if r.UserID != userID || r.ReadAt != nil || !visible(r) {
			continue
		}
		n := m.notifications[r.NotificationID]
		if n.DispatchedAt == nil || (inbox != "" && n.Inbox != inbox) {
			continue
		}
		RecipientUpdate{Action: ActionRead, At: at}.Apply(r)
		ids = append(ids, r.ID)
	}
	slices.Sort(ids)
	return ids, nil
}

func visible(r *Recipient) bool {
	return r.DismissedAt == nil && r.ArchivedAt == nil
}

func (m *MemoryStorage) ListInbox(_ context.Context, userID string, opts ListOptions) ([]InboxItem, int, error) {
	opts = opts.Normalize()
	m.mu.RLock()
	defer m.mu.RUnlock()

	search := strings.ToLower(opts.Search)
	var items []InboxItem
	for _, r := range m.recipients {
		if r.UserID != userID || r.DismissedAt != nil {
			continue
		}
		if r.ArchivedAt != nil && !opts.IncludeArchived {
			continue
		}
		if opts.OnlyUnread && r.ReadAt != nil {
			continue
		}
		n := m.notifications[r.NotificationID]
		if n.DispatchedAt == nil {
			continue
		}
		if opts.Inbox != "" && n.Inbox != opts.Inbox {
			continue
		}
		if opts.ThreadKey != "" && n.ThreadKey != opts.ThreadKey {
			continue
		}
		if opts.Ref != nil && !n.Refs.Matches(*opts.Ref) {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(n.Title), search) &&
			!strings.Contains(strings.ToLower(n.Message), search) {
			continue
		}
		items = append(items, InboxItem{Recipient: *r, Notification: n})
	}

	slices.SortFunc(items, func(a, b InboxItem) int { return compareItems(a, b, opts.Sort) })

	total := len(items)
	if opts.Offset >= total {
		return []InboxItem{}, total, nil
	}
	end := min(opts.Offset+opts.Limit, total)
	return items[opts.Offset:end], total, nil
}

func compareItems(a, b InboxItem, order SortOrder) int {
	ap, bp := a.Recipient.PinOrder, b.Recipient.PinOrder
	switch {
	case ap != nil && bp == nil:
		return -1
	case ap == nil && bp != nil:
		return 1
	case ap != nil && bp != nil && *ap != *bp:
		return cmp.Compare(*ap, *bp)
	}
	newest := func() int {
		return cmp.Or(b.Notification.CreatedAt.Compare(a.Notification.CreatedAt), cmp.Compare(b.Recipient.ID, a.Recipient.ID))
	}
	switch order {
	case SortOldest:
		return cmp.Or(a.Notification.CreatedAt.Compare(b.Notification.CreatedAt), cmp.Compare(a.Recipient.ID, b.Recipient.ID))
	case SortImportance:
		return cmp.Or(cmp.Compare(b.Notification.Importance, a.Notification.Importance), newest())
	default:
		return newest()
	}
}

func (m *MemoryStorage) CountInbox(_ context.Context, userID string) ([]InboxCount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[string]*InboxCount, len(m.inboxes))
	out := make([]InboxCount, 0, len(m.inboxes))
	for _, in := range m.sortedInboxes() {
		out = append(out, InboxCount{Inbox: in.Code})
	}
	for i := range out {
		counts[out[i].Inbox] = &out[i]
	}
	for _, r := range m.recipients {
		if r.UserID != userID || !visible(r) {
			continue
		}
		n := m.notifications[r.NotificationID]
		c, ok := counts[n.Inbox]
		if !ok || n.DispatchedAt == nil {
			continue
		}
		c.Total++
		if r.ReadAt == nil {
			c.Unread++
		}
	}
	return out, nil
}

// Preferences

func (m *MemoryStorage) ListPreferences(_ context.Context, userID string) ([]ChannelPreference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ChannelPreference
	for k, p := range m.prefs {
		if k.userID == userID {
			out = append(out, p)
		}
	}
	sortPreferences(out)
	return out, nil
}

func (m *MemoryStorage) ListPreferencesFor(_ context.Context, userIDs []string, typeID int64) ([]ChannelPreference, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ChannelPreference
	for k, p := range m.prefs {
		if k.typeID == typeID && slices.Contains(userIDs, k.userID) {
			out = append(out, p)
		}
	}
	sortPreferences(out)
	return out, nil
}

func (m *MemoryStorage) SavePreferences(_ context.Context, userID string, prefs []ChannelPreference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range prefs {
		if _, ok := m.typeCodes[p.TypeID]; !ok {
			return fmt.Errorf("%w: id %d", ErrUnknownType, p.TypeID)
		}
	}
	for _, p := range prefs {
		p.UserID = userID
		m.prefs[prefKey{userID: userID, typeID: p.TypeID, channel: p.Channel}] = p
	}
	return nil
}

func sortPreferences(ps []ChannelPreference) {
	slices.SortFunc(ps, func(a, b ChannelPreference) int {
		return cmp.Or(cmp.Compare(a.UserID, b.UserID), cmp.Compare(a.TypeID, b.TypeID), cmp.Compare(a.Channel, b.Channel))
	})
}

// Devices

func (m *MemoryStorage) RegisterDevice(_ context.Context, d DeviceToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.devices[d.Token]; ok && existing.UserID == d.UserID {
		d.CreatedAt = existing.CreatedAt
	}
	d.RevokedAt = nil
	m.devices[d.Token] = d
	return nil
}

func (m *MemoryStorage) RevokeDevice(_ context.Context, token string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[token]
	if !ok || d.RevokedAt != nil {
		return nil
	}
	d.RevokedAt = &at
	m.devices[token] = d
	return nil
}

func (m *MemoryStorage) ListActiveDevices(_ context.Context, userID string) ([]DeviceToken, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []DeviceToken
	for _, d := range m.devices {
		if d.UserID == userID && d.RevokedAt == nil {
			out = append(out, d)
		}
	}
	slices.SortFunc(out, func(a, b DeviceToken) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.Token, b.Token))
	})
	return out, nil
}

// Templates

func (m *MemoryStorage) GetTemplate(_ context.Context, typeID int64, ch Channel, locale string) (*Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[templateKey{typeID: typeID, channel: ch, locale: locale}]
	if !ok {
		return nil, ErrTemplateNotFound
	}
	return &t, nil
}

func (m *MemoryStorage) SaveTemplate(_ context.Context, t Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[templateKey{typeID: t.TypeID, channel: t.Channel, locale: t.Locale}] = t
	return nil
}
