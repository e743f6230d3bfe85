package correlation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	phonenum "github.com/anonzap/anonzap-backend/internal/phone"
)

type fakeStore struct {
	messages []*OutboundMessage

	replies  []*Reply
	answered []uuid.UUID

	codeSince  time.Time
	fuzzySince time.Time
	unansSince time.Time
}

func (f *fakeStore) LatestByTrackingCode(ctx context.Context, code, channel string) (*OutboundMessage, error) {
	var best *OutboundMessage
	for _, m := range f.messages {
		if m.TrackingCode == code && m.Channel == channel {
			if best == nil || m.SentAt.After(best.SentAt) {
				best = m
			}
		}
	}
	return best, nil
}

func (f *fakeStore) LatestByPhoneClasses(ctx context.Context, digits string, since time.Time) (*OutboundMessage, error) {
	f.fuzzySince = since
	last9 := phonenum.LastN(digits, 9)
	last8 := phonenum.LastN(digits, 8)
	var best *OutboundMessage
	for _, m := range f.messages {
		if m.SentAt.Before(since) {
			continue
		}
		if m.Phone != digits && phonenum.LastN(m.Phone, 9) != last9 && phonenum.LastN(m.Phone, 8) != last8 {
			continue
		}
		if best == nil || m.SentAt.After(best.SentAt) {
			best = m
		}
	}
	return best, nil
}

func (f *fakeStore) LatestUnanswered(ctx context.Context, channel string, since time.Time) (*OutboundMessage, error) {
	f.unansSince = since
	var best *OutboundMessage
	for _, m := range f.messages {
		if m.Channel != channel || m.HasReply || m.SentAt.Before(since) {
			continue
		}
		if best == nil || m.SentAt.After(best.SentAt) {
			best = m
		}
	}
	return best, nil
}

func (f *fakeStore) InsertReply(ctx context.Context, reply *Reply) error {
	f.replies = append(f.replies, reply)
	return nil
}

func (f *fakeStore) MarkAnswered(ctx context.Context, messageID uuid.UUID) error {
	f.answered = append(f.answered, messageID)
	for _, m := range f.messages {
		if m.ID == messageID {
			m.HasReply = true
		}
	}
	return nil
}

type fakeCache struct {
	entries map[string]string
	puts    map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string]string{}, puts: map[string]string{}}
}

func (f *fakeCache) Get(ctx context.Context, opaqueID string) (string, bool) {
	phone, ok := f.entries[canonical(opaqueID)]
	return phone, ok
}

func (f *fakeCache) Put(ctx context.Context, opaqueID, phone string) {
	f.entries[canonical(opaqueID)] = phone
	f.puts[canonical(opaqueID)] = phone
}

func canonical(id string) string {
	for i := 0; i < len(id); i++ {
		if id[i] == '@' {
			return id[:i]
		}
	}
	return id
}

func message(phone, channel, code string, age time.Duration, hasReply bool) *OutboundMessage {
	return &OutboundMessage{
		ID:           uuid.New(),
		UserID:       uuid.New(),
		Phone:        phone,
		Channel:      channel,
		TrackingCode: code,
		SentAt:       time.Now().Add(-age),
		HasReply:     hasReply,
	}
}

func TestTrackingCodeScenario(t *testing.T) {
	// Message sent to 5511999998888 with code by7K2m; reply arrives from an
	// opaque id quoting the code.
	msg := message("5511999998888", "whatsapp", "by7K2m", time.Minute, false)
	store := &fakeStore{messages: []*OutboundMessage{msg}}
	cache := newFakeCache()
	resolver := NewResolver(store, cache, nil, nil)

	match, err := resolver.Resolve(context.Background(), InboundReply{
		FromIdentifier: "123456@lid",
		Body:           "by7K2m obrigado",
		Channel:        "whatsapp",
		OpaqueID:       true,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if match == nil || match.Message.ID != msg.ID {
		t.Fatal("expected tracking-code match")
	}
	if match.Stage != "tracking_code" {
		t.Fatalf("unexpected stage %q", match.Stage)
	}
	if !msg.HasReply {
		t.Fatal("expected has_reply flipped")
	}
	if cache.puts["123456"] != "5511999998888" {
		t.Fatalf("expected opportunistic mapping write, got %v", cache.puts)
	}
	if len(store.replies) != 1 || store.replies[0].MessageID != msg.ID {
		t.Fatal("expected one persisted reply")
	}
}

func TestOpaqueCacheLookupFeedsFuzzyMatch(t *testing.T) {
	// Two minutes later: a reply with no code from the same opaque id should
	// land on the same phone's most recent message via stage 2.
	older := message("5511999998888", "whatsapp", "byAAAA", 30*time.Minute, true)
	newest := message("5511999998888", "whatsapp", "byBBBB", 2*time.Minute, true)
	decoy := message("5511900000000", "whatsapp", "byCCCC", time.Minute, false)
	store := &fakeStore{messages: []*OutboundMessage{older, newest, decoy}}
	cache := newFakeCache()
	cache.entries["123456"] = "5511999998888"
	resolver := NewResolver(store, cache, nil, nil)

	match, err := resolver.Resolve(context.Background(), InboundReply{
		FromIdentifier: "123456@lid",
		Body:           "sem codigo dessa vez",
		Channel:        "whatsapp",
		OpaqueID:       true,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if match == nil || match.Message.ID != newest.ID {
		t.Fatal("expected most recent message for the cached phone")
	}
	if match.Stage != "identity_cache" {
		t.Fatalf("unexpected stage %q", match.Stage)
	}
}

func TestStagePriorityCodeBeatsFuzzy(t *testing.T) {
	// The reply body carries A's code but comes from B's phone; stage 1 wins.
	msgA := message("5511911112222", "whatsapp", "byQQQQ", 10*time.Minute, false)
	msgB := message("5511933334444", "whatsapp", "byRRRR", time.Minute, false)
	store := &fakeStore{messages: []*OutboundMessage{msgA, msgB}}
	resolver := NewResolver(store, newFakeCache(), nil, nil)

	match, err := resolver.Resolve(context.Background(), InboundReply{
		FromIdentifier: "+55 11 93333-4444",
		Body:           "byQQQQ oi",
		Channel:        "whatsapp",
		OpaqueID:       false,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if match == nil || match.Message.ID != msgA.ID {
		t.Fatal("stage 1 must beat the phone-fuzzy stage")
	}
}

func TestFuzzySuffixClasses(t *testing.T) {
	// Stored without country code; reply arrives fully qualified.
	msg := message("11999998888", "whatsapp", "byDDDD", time.Hour, false)
	store := &fakeStore{messages: []*OutboundMessage{msg}}
	resolver := NewResolver(store, newFakeCache(), nil, nil)

	match, err := resolver.Resolve(context.Background(), InboundReply{
		FromIdentifier: "5511999998888",
		Body:           "oi",
		Channel:        "whatsapp",
		OpaqueID:       false,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if match == nil || match.Message.ID != msg.ID {
		t.Fatal("expected last-9 suffix match")
	}
}

func TestFuzzyWindowExcludesOldMessages(t *testing.T) {
	stale := message("5511999998888", "whatsapp", "byEEEE", 8*24*time.Hour, false)
	store := &fakeStore{messages: []*OutboundMessage{stale}}
	resolver := NewResolver(store, newFakeCache(), nil, nil)

	match, err := resolver.Resolve(context.Background(), InboundReply{
		FromIdentifier: "5511999998888",
		Body:           "oi",
		Channel:        "whatsapp",
		OpaqueID:       false,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if match != nil {
		t.Fatal("identical suffix outside the 7-day window must not match")
	}
	wantSince := time.Now().Add(-fuzzyWindow)
	if store.fuzzySince.Before(wantSince.Add(-time.Minute)) || store.fuzzySince.After(wantSince.Add(time.Minute)) {
		t.Fatalf("fuzzy window bound off: %s", store.fuzzySince)
	}
}

func TestRecencyHeuristic(t *testing.T) {
	answered := message("5511955556666", "whatsapp", "byFFFF", 5*time.Minute, true)
	tooOld := message("5511977778888", "whatsapp", "byGGGG", 2*time.Hour, false)
	target := message("5511999990000", "whatsapp", "byHHHH", 10*time.Minute, false)
	store := &fakeStore{messages: []*OutboundMessage{answered, tooOld, target}}
	cache := newFakeCache()
	resolver := NewResolver(store, cache, nil, nil)

	match, err := resolver.Resolve(context.Background(), InboundReply{
		FromIdentifier: "999@lid",
		Body:           "quem é?",
		Channel:        "whatsapp",
		OpaqueID:       true,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if match == nil || match.Message.ID != target.ID {
		t.Fatal("expected most recent unanswered message inside 60 minutes")
	}
	if match.Stage != "recency" {
		t.Fatalf("unexpected stage %q", match.Stage)
	}
	if cache.puts["999"] != "5511999990000" {
		t.Fatalf("expected speculative binding, got %v", cache.puts)
	}
}

func TestRecencyHeuristicSkippedForPhoneIdentifiers(t *testing.T) {
	target := message("5511999990000", "whatsapp", "byJJJJ", 10*time.Minute, false)
	store := &fakeStore{messages: []*OutboundMessage{target}}
	resolver := NewResolver(store, newFakeCache(), nil, nil)

	match, err := resolver.Resolve(context.Background(), InboundReply{
		FromIdentifier: "5511900001111",
		Body:           "oi",
		Channel:        "whatsapp",
		OpaqueID:       false,
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if match != nil {
		t.Fatal("stage 4 must not run for plain phone identifiers")
	}
}

func TestMissIsSilent(t *testing.T) {
	store := &fakeStore{}
	resolver := NewResolver(store, newFakeCache(), nil, nil)

	match, err := resolver.Resolve(context.Background(), InboundReply{
		FromIdentifier: "unknown@lid",
		Body:           "nada",
		Channel:        "whatsapp",
		OpaqueID:       true,
	})
	if err != nil {
		t.Fatalf("miss must not be an error: %v", err)
	}
	if match != nil {
		t.Fatal("expected nil match")
	}
	if len(store.replies) != 0 || len(store.answered) != 0 {
		t.Fatal("miss must not write anything")
	}
}
