package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
	"github.com/getdatasurge/fresh-staged-sub013/internal/auth"
	masterdata "github.com/getdatasurge/fresh-staged-sub013/internal/masterdata/domain"
	"github.com/getdatasurge/fresh-staged-sub013/internal/masterdata/infrastructure/memory"
)

var testSecret = []byte("gateway-test-secret")

type recordingSink struct {
	mu       sync.Mutex
	frames   [][]byte
	closed   string
	capacity int
}

func (s *recordingSink) Send(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capacity > 0 && len(s.frames) >= s.capacity {
		return false
	}
	s.frames = append(s.frames, payload)
	return true
}

func (s *recordingSink) Close(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = reason
}

func (s *recordingSink) messages(t *testing.T) []Message {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, 0, len(s.frames))
	for _, frame := range s.frames {
		var msg Message
		require.NoError(t, json.Unmarshal(frame, &msg))
		out = append(out, msg)
	}
	return out
}

type fixture struct {
	gateway     *Gateway
	revocations *auth.MemoryRevocations
}

func newFixture(t *testing.T, fanout Fanout) fixture {
	t.Helper()
	ctx := context.Background()
	directory := memory.NewDirectory()
	require.NoError(t, directory.SaveSite(ctx, &masterdata.Site{ID: "site-a", OrganizationID: "org-a", Name: "Main"}))
	require.NoError(t, directory.SaveSite(ctx, &masterdata.Site{ID: "site-b", OrganizationID: "org-b", Name: "Other"}))
	require.NoError(t, directory.SaveUnit(ctx, &masterdata.Unit{ID: "unit-a", OrganizationID: "org-a", SiteID: "site-a", Name: "Cooler"}))
	require.NoError(t, directory.SaveUnit(ctx, &masterdata.Unit{ID: "unit-b", OrganizationID: "org-b", SiteID: "site-b", Name: "Freezer"}))

	revocations := auth.NewMemoryRevocations()
	verifier, err := auth.NewVerifier(testSecret, nil)
	require.NoError(t, err)
	authenticator, err := NewAuthenticator(verifier, revocations)
	require.NoError(t, err)
	checker, err := auth.NewDirectoryChecker(directory)
	require.NoError(t, err)
	if fanout == nil {
		fanout = NewLocalFanout(zerolog.Nop())
	}
	gw, err := New(ctx, authenticator, checker, fanout)
	require.NoError(t, err)
	return fixture{gateway: gw, revocations: revocations}
}

func token(t *testing.T, organizationID, subject string, ttl time.Duration) string {
	t.Helper()
	signed, err := auth.SignJWT(auth.Identity{
		OrganizationID: organizationID,
		Subject:        subject,
		Role:           auth.RoleViewer,
		TokenID:        subject + "-token",
	}, testSecret, ttl, time.Now())
	require.NoError(t, err)
	return signed
}

func alertEvent(organizationID, siteID, unitID string) alerts.Event {
	return alerts.Event{
		Type:           alerts.EventAlertTriggered,
		AlertID:        "alert-1",
		OrganizationID: organizationID,
		SiteID:         siteID,
		UnitID:         unitID,
		RuleID:         "rule-1",
		Severity:       alerts.SeverityWarning,
		Status:         alerts.StatusTriggered,
		Value:          8,
		OccurredAt:     time.Date(2026, 3, 1, 8, 3, 0, 0, time.UTC),
	}
}

func TestConnectRejectsBadCredentials(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.gateway.Connect(ctx, "", &recordingSink{})
	assert.Equal(t, auth.ReasonMissing, RejectReason(err))

	_, err = f.gateway.Connect(ctx, "not-a-jwt", &recordingSink{})
	assert.Equal(t, auth.ReasonMalformed, RejectReason(err))

	_, err = f.gateway.Connect(ctx, token(t, "org-a", "user-1", -time.Minute), &recordingSink{})
	assert.Equal(t, auth.ReasonExpired, RejectReason(err))

	assert.Zero(t, f.gateway.ConnectionCount())
}

func TestConnectJoinsOrganizationRoom(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sinkA := &recordingSink{}
	sinkB := &recordingSink{}
	_, err := f.gateway.Connect(ctx, token(t, "org-a", "user-a", time.Hour), sinkA)
	require.NoError(t, err)
	_, err = f.gateway.Connect(ctx, token(t, "org-b", "user-b", time.Hour), sinkB)
	require.NoError(t, err)

	require.NoError(t, f.gateway.Send(ctx, alertEvent("org-a", "site-a", "unit-a")))

	msgs := sinkA.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, alerts.EventAlertTriggered, msgs[0].Type)
	assert.Equal(t, "alert-1", msgs[0].AlertID)
	assert.Empty(t, sinkB.messages(t))
}

func TestSubscribeRefusesForeignRooms(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	conn, err := f.gateway.Connect(ctx, token(t, "org-a", "user-a", time.Hour), &recordingSink{})
	require.NoError(t, err)

	room, err := f.gateway.Subscribe(ctx, conn, RoomRequest{UnitID: "unit-a"})
	require.NoError(t, err)
	assert.Equal(t, "org:org-a:unit:unit-a", room)

	_, err = f.gateway.Subscribe(ctx, conn, RoomRequest{UnitID: "unit-b"})
	var roomErr *RoomError
	require.ErrorAs(t, err, &roomErr)
	assert.Equal(t, RoomForbidden, roomErr.Reason)

	_, err = f.gateway.Subscribe(ctx, conn, RoomRequest{SiteID: "site-missing"})
	require.ErrorAs(t, err, &roomErr)
	assert.Equal(t, RoomNotFound, roomErr.Reason)

	_, err = f.gateway.Subscribe(ctx, conn, RoomRequest{SiteID: "site-a", UnitID: "unit-a"})
	require.ErrorAs(t, err, &roomErr)
	assert.Equal(t, RoomInvalid, roomErr.Reason)
}

func TestDeliveryIsOncePerConnection(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sink := &recordingSink{}
	conn, err := f.gateway.Connect(ctx, token(t, "org-a", "user-a", time.Hour), sink)
	require.NoError(t, err)
	_, err = f.gateway.Subscribe(ctx, conn, RoomRequest{SiteID: "site-a"})
	require.NoError(t, err)
	_, err = f.gateway.Subscribe(ctx, conn, RoomRequest{UnitID: "unit-a"})
	require.NoError(t, err)

	require.NoError(t, f.gateway.Send(ctx, alertEvent("org-a", "site-a", "unit-a")))
	assert.Len(t, sink.messages(t), 1)
}

func TestForgedFrameNeverCrossesTenants(t *testing.T) {
	fanout := NewLocalFanout(zerolog.Nop())
	f := newFixture(t, fanout)
	ctx := context.Background()
	sink := &recordingSink{}
	_, err := f.gateway.Connect(ctx, token(t, "org-b", "user-b", time.Hour), sink)
	require.NoError(t, err)

	frame, err := NewFrame(alertEvent("org-a", "site-a", "unit-a"))
	require.NoError(t, err)
	frame.Rooms = append(frame.Rooms, OrgRoom("org-b"))
	require.NoError(t, fanout.Publish(ctx, frame))

	assert.Empty(t, sink.messages(t))
}

func TestSlowClientDropsFrames(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sink := &recordingSink{capacity: 1}
	_, err := f.gateway.Connect(ctx, token(t, "org-a", "user-a", time.Hour), sink)
	require.NoError(t, err)

	require.NoError(t, f.gateway.Send(ctx, alertEvent("org-a", "site-a", "unit-a")))
	require.NoError(t, f.gateway.Send(ctx, alertEvent("org-a", "site-a", "unit-a")))
	assert.Len(t, sink.messages(t), 1)
}

func TestSweepClosesRevokedConnections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	revokedSink := &recordingSink{}
	keptSink := &recordingSink{}
	_, err := f.gateway.Connect(ctx, token(t, "org-a", "user-a", time.Hour), revokedSink)
	require.NoError(t, err)
	_, err = f.gateway.Connect(ctx, token(t, "org-a", "user-c", time.Hour), keptSink)
	require.NoError(t, err)

	f.revocations.RevokeSubject("user-a", time.Now())
	assert.Equal(t, 1, f.gateway.SweepRevoked(ctx))
	assert.Equal(t, CloseRevoked, revokedSink.closed)
	assert.Empty(t, keptSink.closed)
	assert.Equal(t, 1, f.gateway.ConnectionCount())
}

func TestDisconnectSubject(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sink := &recordingSink{}
	conn, err := f.gateway.Connect(ctx, token(t, "org-a", "user-a", time.Hour), sink)
	require.NoError(t, err)

	assert.Equal(t, 1, f.gateway.DisconnectSubject("user-a", CloseRevoked))
	assert.Zero(t, f.gateway.ConnectionCount())

	_, err = f.gateway.Subscribe(ctx, conn, RoomRequest{UnitID: "unit-a"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRoomIDsWithSeparatorAreRefused(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	sink := &recordingSink{}
	_, err := f.gateway.Connect(ctx, token(t, "org-a:site:site-a", "user-x", time.Hour), sink)
	assert.Equal(t, auth.ReasonInvalidClaims, RejectReason(err))
	assert.Zero(t, f.gateway.ConnectionCount())

	conn, err := f.gateway.Connect(ctx, token(t, "org-a", "user-a", time.Hour), &recordingSink{})
	require.NoError(t, err)
	var roomErr *RoomError
	_, err = f.gateway.Subscribe(ctx, conn, RoomRequest{UnitID: "unit-a:site:site-a"})
	require.ErrorAs(t, err, &roomErr)
	assert.Equal(t, RoomInvalid, roomErr.Reason)
	_, err = f.gateway.Unsubscribe(conn, RoomRequest{SiteID: "site-a:unit:unit-a"})
	require.ErrorAs(t, err, &roomErr)
	assert.Equal(t, RoomInvalid, roomErr.Reason)

	assert.Equal(t, []string{"org:org-a", "org:org-a:site:site-a"}, RoomsFor(alertEvent("org-a", "site-a", "unit:x")))
}

func TestDisconnectAllClosesWithShutdownReason(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	sinkA := &recordingSink{}
	sinkB := &recordingSink{}
	_, err := f.gateway.Connect(ctx, token(t, "org-a", "user-a", time.Hour), sinkA)
	require.NoError(t, err)
	_, err = f.gateway.Connect(ctx, token(t, "org-b", "user-b", time.Hour), sinkB)
	require.NoError(t, err)

	f.gateway.DisconnectAll()

	assert.Zero(t, f.gateway.ConnectionCount())
	assert.Equal(t, CloseShutdown, sinkA.closed)
	assert.Equal(t, CloseShutdown, sinkB.closed)

	require.NoError(t, f.gateway.Send(ctx, alertEvent("org-a", "site-a", "unit-a")))
	assert.Empty(t, sinkA.messages(t))
}
