package telemetry

import (
	"time"
)

// ClientState describes the ambient client environment at capture time.
// Zero values stand for capabilities the host does not expose.
type ClientState struct {
	URL            string
	Referrer       string
	UserAgent      string
	Platform       string
	Language       string
	Timezone       string
	ViewportWidth  int
	ViewportHeight int
	ScreenWidth    int
	ScreenHeight   int
	Online         *bool
	Model          string
	ConversationID string
}

// StateProvider supplies the ambient client state for context snapshots.
// Implementations must be cheap to call; missing capabilities are left zero.
type StateProvider interface {
	State() ClientState
}

// StaticStateProvider returns a fixed ClientState.
type StaticStateProvider struct {
	Client ClientState
}

func (p StaticStateProvider) State() ClientState {
	return p.Client
}

// snapshotBuilder produces the serializable context snapshot attached to
// every event. It is pure and never fails: a misbehaving provider degrades
// to null fields, not an error.
type snapshotBuilder struct {
	provider StateProvider
	clock    func() time.Time
}

func newSnapshotBuilder(provider StateProvider, clock func() time.Time) *snapshotBuilder {
	if clock == nil {
		clock = time.Now
	}
	return &snapshotBuilder{provider: provider, clock: clock}
}

// Build merges the ambient snapshot with event-specific fields. The extra
// fields win on key collision.
func (b *snapshotBuilder) Build(extra map[string]any) map[string]any {
	snap := map[string]any{
		"url":             nil,
		"referrer":        nil,
		"user_agent":      nil,
		"platform":        nil,
		"language":        nil,
		"timezone":        nil,
		"viewport":        nil,
		"screen":          nil,
		"online":          nil,
		"model":           nil,
		"conversation_id": nil,
	}

	b.fill(snap)

	for k, v := range extra {
		snap[k] = v
	}
	snap["captured_at"] = b.clock().UTC().Format(time.RFC3339Nano)
	return snap
}

// fill copies provider state into the snapshot, containing any panic from a
// broken provider.
func (b *snapshotBuilder) fill(snap map[string]any) {
	defer func() {
		_ = recover()
	}()

	if b.provider == nil {
		return
	}
	st := b.provider.State()

	snap["url"] = nullable(st.URL)
	snap["referrer"] = nullable(st.Referrer)
	snap["user_agent"] = nullable(st.UserAgent)
	snap["platform"] = nullable(st.Platform)
	snap["language"] = nullable(st.Language)
	snap["timezone"] = nullable(st.Timezone)
	snap["model"] = nullable(st.Model)
	snap["conversation_id"] = nullable(st.ConversationID)

	if st.ViewportWidth > 0 || st.ViewportHeight > 0 {
		snap["viewport"] = map[string]any{"width": st.ViewportWidth, "height": st.ViewportHeight}
	}
	if st.ScreenWidth > 0 || st.ScreenHeight > 0 {
		snap["screen"] = map[string]any{"width": st.ScreenWidth, "height": st.ScreenHeight}
	}
	if st.Online != nil {
		snap["online"] = *st.Online
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
