package rib

import (
	"context"
	"log/slog"
	"net/netip"

	"github.com/dantte-lp/trip/internal/trip"
)

// -------------------------------------------------------------------------
// Handler — TRIP Update -> GoBGP RIB consumer
// -------------------------------------------------------------------------

// Handler consumes parsed TRIP Update attributes (delivered via
// trip.UpdateCallback) and applies them against GoBGP's RIB: reachable
// routes become AddPath calls, withdrawn routes become DeletePath calls.
// There is no flap dampening here: an Update is a discrete
// routing-information change the location server must apply as received,
// not a liveness signal to be smoothed.
type Handler struct {
	client Client
	logger *slog.Logger
}

// HandlerConfig holds the configuration for a Handler.
type HandlerConfig struct {
	// Client is the GoBGP gRPC client.
	Client Client

	// Logger is the parent logger. The handler adds its own component tag.
	Logger *slog.Logger
}

// NewHandler creates a new TRIP->GoBGP route handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		client: cfg.Client,
		logger: cfg.Logger.With(slog.String("component", "rib.handler")),
	}
}

// OnUpdate is a trip.UpdateCallback: it is invoked synchronously by the
// session goroutine that parsed the Update, so it must not block on
// anything slower
// than the GoBGP RPC itself.
func (h *Handler) OnUpdate(peer netip.Addr, attrs []trip.Attribute) {
	ctx := context.Background()

	asPath, communities := extractPathMeta(attrs)
	nextHop := extractNextHopServer(attrs, peer)

	for _, attr := range attrs {
		switch attr.Type {
		case trip.AttrReachableRoutes:
			h.applyRoutes(ctx, attr, nextHop, asPath, communities, false)
		case trip.AttrWithdrawnRoutes:
			h.applyRoutes(ctx, attr, nextHop, asPath, communities, true)
		}
	}
}

func (h *Handler) applyRoutes(ctx context.Context, attr trip.Attribute, nextHop string, asPath, communities []uint32, withdraw bool) {
	routes, err := trip.DecodeRoutes(attr.Value)
	if err != nil {
		h.logger.Error("failed to decode routes", slog.String("error", err.Error()))
		return
	}

	for _, r := range routes {
		prefixLen := uint32(len(r.Addr) * 8)
		if prefixLen > 32 {
			prefixLen = 32
		}

		var applyErr error
		if withdraw {
			applyErr = h.client.DeletePath(ctx, r.Addr, prefixLen)
		} else {
			applyErr = h.client.AddPath(ctx, r.Addr, prefixLen, nextHop, asPath, communities)
		}
		if applyErr != nil {
			h.logger.Error("failed to apply route to gobgp",
				slog.Bool("withdraw", withdraw),
				slog.String("af", r.AF.String()),
				slog.String("error", applyErr.Error()),
			)
		}
	}
}

// extractPathMeta pulls the ITAD advertisement path and TRIP communities
// out of an Update's attribute set, to attach to every route it carries.
func extractPathMeta(attrs []trip.Attribute) (asPath []uint32, communities []uint32) {
	for _, attr := range attrs {
		switch attr.Type {
		case trip.AttrAdvertisementPath:
			if path, err := trip.DecodeITADPath(attr.Value); err == nil {
				asPath = path.Segs
			}
		case trip.AttrCommunities:
			if cs, err := trip.DecodeCommunities(attr.Value); err == nil {
				communities = make([]uint32, 0, len(cs))
				for _, c := range cs {
					communities = append(communities, communityToUint32(c))
				}
			}
		}
	}
	return asPath, communities
}

func communityToUint32(c trip.Community) uint32 {
	return c.ITAD<<16 | (c.ID & 0xFFFF) //nolint:gosec // lossy by design, matches BGP's 16+16 community layout
}

// extractNextHopServer reads the NextHopServer attribute if present,
// falling back to the session's peer address.
func extractNextHopServer(attrs []trip.Attribute, peer netip.Addr) string {
	for _, attr := range attrs {
		if attr.Type != trip.AttrNextHopServer {
			continue
		}
		if _, server, err := trip.DecodeNextHopServer(attr.Value); err == nil {
			if ap, err := netip.ParseAddrPort(server); err == nil {
				return ap.Addr().Unmap().String()
			}
			if ip, err := netip.ParseAddr(server); err == nil {
				return ip.Unmap().String()
			}
		}
	}
	return peer.Unmap().String()
}
