package notifications

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// ChannelPreference is an explicit user choice for one (type, channel).
type ChannelPreference struct {
	UserID    string    `json:"-"`
	TypeID    int64     `json:"type_id"`
	Channel   Channel   `json:"channel"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChannelSet is the set of channels enabled for one user and type.
type ChannelSet map[Channel]struct{}

func (s ChannelSet) Has(ch Channel) bool {
	_, ok := s[ch]
	return ok
}

// Ordered returns members of s in KnownChannels order.
func (s ChannelSet) Ordered() []Channel {
	out := make([]Channel, 0, len(s))
	for _, ch := range KnownChannels {
		if s.Has(ch) {
			out = append(out, ch)
		}
	}
	return out
}

// Enabled is the resolution rule: an explicit preference wins, otherwise the
// type's default channel list decides.
func Enabled(t NotificationType, ch Channel, explicit map[Channel]bool) bool {
	if v, ok := explicit[ch]; ok {
		return v
	}
	return t.DefaultsTo(ch)
}

// PreferenceResolver answers "should this user get this type on this
// channel?". It is total: every known channel resolves to a boolean.
type PreferenceResolver struct {
	store PreferenceStore
}

func NewPreferenceResolver(store PreferenceStore) *PreferenceResolver {
	return &PreferenceResolver{store: store}
}

// Resolve decides a single (user, type, channel) triple.
func (r *PreferenceResolver) Resolve(ctx context.Context, userID string, t NotificationType, ch Channel) (bool, error) {
	sets, err := r.ResolveMany(ctx, []string{userID}, t)
	if err != nil {
		return false, err
	}
	return sets[userID].Has(ch), nil
}

// ResolveMany computes the enabled channel set for every user with one
// preference lookup.
func (r *PreferenceResolver) ResolveMany(ctx context.Context, userIDs []string, t NotificationType) (map[string]ChannelSet, error) {
	prefs, err := r.store.ListPreferencesFor(ctx, userIDs, t.ID)
	if err != nil {
		return nil, fmt.Errorf("load preferences for type %s: %w", t.Code, err)
	}
	explicit := make(map[string]map[Channel]bool, len(userIDs))
	for _, p := range prefs {
		if explicit[p.UserID] == nil {
			explicit[p.UserID] = make(map[Channel]bool, len(KnownChannels))
		}
		explicit[p.UserID][p.Channel] = p.Enabled
	}
	out := make(map[string]ChannelSet, len(userIDs))
	for _, uid := range userIDs {
		set := make(ChannelSet, len(KnownChannels))
		for _, ch := range KnownChannels {
			if Enabled(t, ch, explicit[uid]) {
				set[ch] = struct{}{}
			}
		}
		out[uid] = set
	}
	return out, nil
}

// PreferenceView is one row of a user's effective preference matrix.
type PreferenceView struct {
	TypeCode string  `json:"type"`
	TypeName string  `json:"type_name"`
	Inbox    string  `json:"inbox"`
	Channel  Channel `json:"channel"`
	Enabled  bool    `json:"enabled"`
	Explicit bool    `json:"explicit"`
}

// PreferenceChange is one requested update in a batch.
type PreferenceChange struct {
	Type    string  `json:"type"`
	Channel Channel `json:"channel"`
	Enabled bool    `json:"enabled"`
}

// PreferenceService exposes the preference matrix to users.
type PreferenceService struct {
	catalog CatalogStore
	store   PreferenceStore
	now     func() time.Time
}

func NewPreferenceService(catalog CatalogStore, store PreferenceStore) *PreferenceService {
	return &PreferenceService{catalog: catalog, store: store, now: time.Now}
}

// Effective lists every (type, channel) pair with its resolved value.
func (s *PreferenceService) Effective(ctx context.Context, userID string) ([]PreferenceView, error) {
	types, err := s.catalog.ListTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list types: %w", err)
	}
	prefs, err := s.store.ListPreferences(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list preferences: %w", err)
	}
	explicit := make(map[int64]map[Channel]bool)
	for _, p := range prefs {
		if explicit[p.TypeID] == nil {
			explicit[p.TypeID] = make(map[Channel]bool)
		}
		explicit[p.TypeID][p.Channel] = p.Enabled
	}
	views := make([]PreferenceView, 0, len(types)*len(KnownChannels))
	for _, t := range types {
		for _, ch := range KnownChannels {
			_, isExplicit := explicit[t.ID][ch]
			views = append(views, PreferenceView{
				TypeCode: t.Code,
				TypeName: t.Name,
				Inbox:    t.Inbox,
				Channel:  ch,
				Enabled:  Enabled(t, ch, explicit[t.ID]),
				Explicit: isExplicit,
			})
		}
	}
	return views, nil
}

// Update validates and stores a batch of changes. Either every change is
// stored or none is.
func (s *PreferenceService) Update(ctx context.Context, userID string, changes []PreferenceChange) error {
	if len(changes) == 0 {
		return nil
	}
	now := s.now()
	prefs := make([]ChannelPreference, 0, len(changes))
	for _, c := range changes {
		if !slices.Contains(KnownChannels, c.Channel) {
			return fmt.Errorf("%w: %q", ErrUnknownChannel, c.Channel)
		}
		t, err := s.catalog.GetType(ctx, c.Type)
		if err != nil {
			return err
		}
		prefs = append(prefs, ChannelPreference{
			UserID:    userID,
			TypeID:    t.ID,
			Channel:   c.Channel,
			Enabled:   c.Enabled,
			UpdatedAt: now,
		})
	}
	return s.store.SavePreferences(ctx, userID, prefs)
}
