package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	alerts "github.com/getdatasurge/fresh-staged-sub013/internal/alerts/domain"
	"github.com/getdatasurge/fresh-staged-sub013/internal/auth"
	"github.com/getdatasurge/fresh-staged-sub013/internal/observability/metrics"
)

// Close reasons sent to clients.
const (
	CloseRevoked  = "revoked"
	CloseShutdown = "shutdown"
)

// Gateway tracks live connections and routes events to their rooms.
type Gateway struct {
	authenticator *Authenticator
	tenants       auth.TenantChecker
	fanout        Fanout
	logger        zerolog.Logger
	now           func() time.Time

	mu    sync.RWMutex
	conns map[string]*Connection
	rooms map[string]map[string]*Connection
}

// Option configures the gateway.
type Option func(*Gateway)

// WithLogger assigns a logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// New constructs a gateway and subscribes it to the fan-out backend.
func New(ctx context.Context, authenticator *Authenticator, tenants auth.TenantChecker, fanout Fanout, opts ...Option) (*Gateway, error) {
	if authenticator == nil {
		return nil, errors.New("gateway: nil authenticator")
	}
	if tenants == nil {
		return nil, errors.New("gateway: nil tenant checker")
	}
	if fanout == nil {
		return nil, errors.New("gateway: nil fanout")
	}
	g := &Gateway{
		authenticator: authenticator,
		tenants:       tenants,
		fanout:        fanout,
		logger:        zerolog.Nop(),
		now:           func() time.Time { return time.Now().UTC() },
		conns:         make(map[string]*Connection),
		rooms:         make(map[string]map[string]*Connection),
	}
	for _, opt := range opts {
		opt(g)
	}
	if err := fanout.Subscribe(ctx, g.deliverLocal); err != nil {
		return nil, fmt.Errorf("gateway: subscribe fanout: %w", err)
	}
	return g, nil
}

// Connect authenticates a client and joins its organization room.
func (g *Gateway) Connect(ctx context.Context, token string, sink Sink) (*Connection, error) {
	if sink == nil {
		return nil, errors.New("gateway: nil sink")
	}
	identity, err := g.authenticator.Authenticate(ctx, token)
	if err != nil {
		if reason := RejectReason(err); reason != "" {
			g.logger.Info().Str("reason", string(reason)).Msg("connection rejected")
		}
		return nil, err
	}
	if !ValidRoomID(identity.OrganizationID) {
		g.logger.Info().Str("reason", string(auth.ReasonInvalidClaims)).Msg("connection rejected")
		return nil, &AuthRejectedError{Reason: auth.ReasonInvalidClaims, Err: errors.New("org_id is not a valid room id")}
	}
	conn := &Connection{
		ID:          uuid.NewString(),
		Identity:    identity,
		ConnectedAt: g.now(),
		sink:        sink,
		rooms:       make(map[string]struct{}),
	}
	g.mu.Lock()
	g.conns[conn.ID] = conn
	g.joinLocked(conn, OrgRoom(identity.OrganizationID))
	g.mu.Unlock()
	metrics.AddGatewayConnections(1)
	g.logger.Debug().Str("connection_id", conn.ID).Str("organization_id", identity.OrganizationID).Msg("client connected")
	return conn, nil
}

// Subscribe joins a site or unit room after checking it belongs to the connection's organization.
func (g *Gateway) Subscribe(ctx context.Context, conn *Connection, req RoomRequest) (string, error) {
	room, err := g.authorizeRoom(ctx, conn, req)
	if err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.conns[conn.ID]; !ok {
		return "", ErrClosed
	}
	g.joinLocked(conn, room)
	return room, nil
}

// Unsubscribe leaves a site or unit room. The organization room cannot be left.
func (g *Gateway) Unsubscribe(conn *Connection, req RoomRequest) (string, error) {
	room, err := roomName(conn.OrganizationID(), req)
	if err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leaveLocked(conn, room)
	return room, nil
}

// Disconnect removes a connection from every room.
func (g *Gateway) Disconnect(conn *Connection) {
	if conn == nil {
		return
	}
	g.mu.Lock()
	_, ok := g.conns[conn.ID]
	if ok {
		for room := range conn.rooms {
			g.leaveLocked(conn, room)
		}
		delete(g.conns, conn.ID)
	}
	g.mu.Unlock()
	if ok {
		metrics.AddGatewayConnections(-1)
	}
}

// DisconnectSubject closes every connection of a subject, e.g. after revocation.
func (g *Gateway) DisconnectSubject(subject, reason string) int {
	g.mu.RLock()
	var victims []*Connection
	for _, conn := range g.conns {
		if conn.Identity.Subject == subject {
			victims = append(victims, conn)
		}
	}
	g.mu.RUnlock()
	for _, conn := range victims {
		conn.close(reason)
		g.Disconnect(conn)
	}
	return len(victims)
}

// SweepRevoked closes connections whose credentials were revoked after connect.
func (g *Gateway) SweepRevoked(ctx context.Context) int {
	g.mu.RLock()
	conns := make([]*Connection, 0, len(g.conns))
	for _, conn := range g.conns {
		conns = append(conns, conn)
	}
	g.mu.RUnlock()

	closed := 0
	for _, conn := range conns {
		revoked, err := g.authenticator.Revoked(ctx, conn.Identity)
		if err != nil {
			g.logger.Error().Err(err).Msg("revocation sweep failed")
			return closed
		}
		if revoked {
			conn.close(CloseRevoked)
			g.Disconnect(conn)
			closed++
		}
	}
	return closed
}

// RunRevocationSweep calls SweepRevoked on every tick until ctx is done.
func (g *Gateway) RunRevocationSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := g.SweepRevoked(ctx); n > 0 {
				g.logger.Info().Int("closed", n).Msg("revoked connections closed")
			}
		}
	}
}

// Name implements eventing.Sink.
func (g *Gateway) Name() string { return "gateway" }

// Send broadcasts an event to its rooms on every gateway process.
func (g *Gateway) Send(ctx context.Context, event alerts.Event) error {
	frame, err := NewFrame(event)
	if err != nil {
		return err
	}
	if err := g.fanout.Publish(ctx, frame); err != nil {
		return fmt.Errorf("gateway: fanout %s: %w", g.fanout.Name(), err)
	}
	return nil
}

// DisconnectAll closes every local connection with CloseShutdown.
func (g *Gateway) DisconnectAll() {
	g.mu.RLock()
	conns := make([]*Connection, 0, len(g.conns))
	for _, conn := range g.conns {
		conns = append(conns, conn)
	}
	g.mu.RUnlock()
	for _, conn := range conns {
		conn.close(CloseShutdown)
		g.Disconnect(conn)
	}
}

// Close disconnects all clients and stops the fan-out.
func (g *Gateway) Close() error {
	g.DisconnectAll()
	return g.fanout.Close()
}

// ConnectionCount returns the number of live local connections.
func (g *Gateway) ConnectionCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// deliverLocal pushes a fan-out frame to this process's members, at most once per connection.
func (g *Gateway) deliverLocal(frame Frame) {
	g.mu.RLock()
	targets := make(map[string]*Connection)
	for _, room := range frame.Rooms {
		if RoomOrganization(room) != frame.OrganizationID {
			continue
		}
		for id, conn := range g.rooms[room] {
			targets[id] = conn
		}
	}
	g.mu.RUnlock()

	for _, conn := range targets {
		if conn.OrganizationID() != frame.OrganizationID {
			g.logger.Warn().Str("connection_id", conn.ID).Msg("cross-tenant frame suppressed")
			metrics.IncGatewayFrame("suppressed")
			continue
		}
		if conn.sink.Send(frame.Payload) {
			metrics.IncGatewayFrame("delivered")
			continue
		}
		metrics.IncGatewayFrame(metrics.ResultDropped)
		g.logger.Debug().Str("connection_id", conn.ID).Msg("slow client, frame dropped")
	}
}

func (g *Gateway) authorizeRoom(ctx context.Context, conn *Connection, req RoomRequest) (string, error) {
	if conn == nil {
		return "", ErrClosed
	}
	room, err := roomName(conn.OrganizationID(), req)
	if err != nil {
		return "", err
	}
	org := conn.OrganizationID()
	if req.SiteID != "" {
		err = g.tenants.EnsureSite(ctx, org, req.SiteID)
	} else {
		err = g.tenants.EnsureUnit(ctx, org, req.UnitID)
	}
	switch {
	case err == nil:
		return room, nil
	case errors.Is(err, auth.ErrTenantMismatch):
		g.logger.Warn().Str("connection_id", conn.ID).Str("room", room).Msg("cross-tenant room request refused")
		return "", &RoomError{Reason: RoomForbidden, Room: room}
	case errors.Is(err, auth.ErrNotFound):
		return "", &RoomError{Reason: RoomNotFound, Room: room}
	default:
		return "", err
	}
}

func roomName(organizationID string, req RoomRequest) (string, error) {
	if !ValidRoomID(req.SiteID + req.UnitID) {
		return "", &RoomError{Reason: RoomInvalid}
	}
	switch {
	case req.SiteID != "" && req.UnitID == "":
		return SiteRoom(organizationID, req.SiteID), nil
	case req.UnitID != "" && req.SiteID == "":
		return UnitRoom(organizationID, req.UnitID), nil
	default:
		return "", &RoomError{Reason: RoomInvalid}
	}
}

func (g *Gateway) joinLocked(conn *Connection, room string) {
	members, ok := g.rooms[room]
	if !ok {
		members = make(map[string]*Connection)
		g.rooms[room] = members
	}
	members[conn.ID] = conn
	conn.rooms[room] = struct{}{}
}

func (g *Gateway) leaveLocked(conn *Connection, room string) {
	if members, ok := g.rooms[room]; ok {
		delete(members, conn.ID)
		if len(members) == 0 {
			delete(g.rooms, room)
		}
	}
	delete(conn.rooms, room)
}
