// Package rib integrates the TRIP location server with GoBGP via its gRPC
// API.
//
// When a TRIP session delivers an Update, the handler translates the
// parsed attributes
// into a GoBGP path: reachable routes become an AddPath call, withdrawn
// routes a DeletePath call. The ITAD advertisement path (an opaque
// identifier analogous to a BGP AS number) is carried as the
// path's AS_PATH attribute, and TRIP communities are carried as BGP
// communities, so the routes are visible to any BGP speaker GoBGP talks
// to, not just other TRIP location servers.
package rib

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apipb "github.com/osrg/gobgp/v3/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// -------------------------------------------------------------------------
// Client Interface
// -------------------------------------------------------------------------

// Client abstracts the GoBGP gRPC operations the handler needs. This
// interface enables testing without a running GoBGP instance.
type Client interface {
	// AddPath installs or replaces one IPv4 unicast path, built from a TRIP
	// route. prefixLen is in bits; asPath carries the ITAD advertisement
	// path, in order, nearest-hop first; communities is the route's TRIP
	// community list re-encoded as 32-bit BGP communities.
	AddPath(ctx context.Context, prefix []byte, prefixLen uint32, nextHop string, asPath []uint32, communities []uint32) error

	// DeletePath withdraws the path previously installed for prefix/prefixLen.
	DeletePath(ctx context.Context, prefix []byte, prefixLen uint32) error

	// Close releases the underlying gRPC connection.
	Close() error
}

// -------------------------------------------------------------------------
// Sentinel Errors
// -------------------------------------------------------------------------

var (
	// ErrClientClosed indicates the client has been closed.
	ErrClientClosed = errors.New("rib: gobgp client is closed")

	// ErrDialFailed indicates the gRPC dial to GoBGP failed.
	ErrDialFailed = errors.New("rib: gobgp gRPC dial failed")
)

// -------------------------------------------------------------------------
// GRPCClient — production GoBGP gRPC client
// -------------------------------------------------------------------------

// GRPCClient connects to GoBGP's gRPC API and implements the Client
// interface. It wraps the generated GobgpApiClient with reconnection
// friendly patterns.
//
// The underlying gRPC connection uses insecure credentials (plaintext)
// because GoBGP's API is typically accessed on localhost in production
// deployments.
type GRPCClient struct {
	conn   *grpc.ClientConn
	api    apipb.GobgpApiClient
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// GRPCClientConfig holds connection parameters for the GoBGP gRPC client.
type GRPCClientConfig struct {
	// Addr is the GoBGP gRPC listen address (e.g., "127.0.0.1:50051").
	Addr string

	// DialTimeout is not read by NewGRPCClient, which opens no connection
	// itself; each RPC is bounded only by the context passed to it.
	DialTimeout time.Duration
}

// NewGRPCClient creates a new GoBGP gRPC client without connecting: it
// uses grpc.NewClient with insecure credentials, which performs no I/O,
// so actual connectivity is first exercised by the first RPC call.
func NewGRPCClient(cfg GRPCClientConfig, logger *slog.Logger) (*GRPCClient, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("create gobgp client: %w: empty address", ErrDialFailed)
	}

	conn, err := grpc.NewClient(
		cfg.Addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("create gobgp client to %s: %w: %w", cfg.Addr, ErrDialFailed, err)
	}

	client := &GRPCClient{
		conn: conn,
		api:  apipb.NewGobgpApiClient(conn),
		logger: logger.With(
			slog.String("component", "rib.client"),
			slog.String("addr", cfg.Addr),
		),
	}

	client.logger.Info("gobgp gRPC client created", slog.String("target", cfg.Addr))

	return client, nil
}

// AddPath builds an IPv4 unicast NLRI from prefix/prefixLen and installs
// it in GoBGP's RIB with the given next hop, AS_PATH, and communities.
func (c *GRPCClient) AddPath(ctx context.Context, prefix []byte, prefixLen uint32, nextHop string, asPath []uint32, communities []uint32) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return fmt.Errorf("add path: %w", ErrClientClosed)
	}
	c.mu.RUnlock()

	nlri, err := marshalIPv4NLRI(prefix, prefixLen)
	if err != nil {
		return fmt.Errorf("add path: %w", err)
	}
	pattrs, err := marshalPathAttrs(nextHop, asPath, communities)
	if err != nil {
		return fmt.Errorf("add path: %w", err)
	}

	_, err = c.api.AddPath(ctx, &apipb.AddPathRequest{
		Path: &apipb.Path{
			Nlri:   nlri,
			Pattrs: pattrs,
			Family: &apipb.Family{Afi: apipb.Family_AFI_IP, Safi: apipb.Family_SAFI_UNICAST},
			Best:   true,
		},
	})
	if err != nil {
		return fmt.Errorf("add path %s/%d: %w", prefixString(prefix), prefixLen, err)
	}

	c.logger.Info("installed route",
		slog.String("prefix", prefixString(prefix)),
		slog.Uint64("len", uint64(prefixLen)),
		slog.Any("as_path", asPath),
	)
	return nil
}

// DeletePath withdraws the IPv4 unicast path for prefix/prefixLen.
func (c *GRPCClient) DeletePath(ctx context.Context, prefix []byte, prefixLen uint32) error {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return fmt.Errorf("delete path: %w", ErrClientClosed)
	}
	c.mu.RUnlock()

	nlri, err := marshalIPv4NLRI(prefix, prefixLen)
	if err != nil {
		return fmt.Errorf("delete path: %w", err)
	}

	_, err = c.api.DeletePath(ctx, &apipb.DeletePathRequest{
		Path: &apipb.Path{
			Nlri:       nlri,
			Family:     &apipb.Family{Afi: apipb.Family_AFI_IP, Safi: apipb.Family_SAFI_UNICAST},
			IsWithdraw: true,
		},
	})
	if err != nil {
		return fmt.Errorf("delete path %s/%d: %w", prefixString(prefix), prefixLen, err)
	}

	c.logger.Info("withdrew route",
		slog.String("prefix", prefixString(prefix)),
		slog.Uint64("len", uint64(prefixLen)),
	)
	return nil
}

// Close releases the underlying gRPC connection. After Close, all methods
// return ErrClientClosed.
func (c *GRPCClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("close gobgp client: %w", err)
	}

	c.logger.Info("gobgp gRPC client closed")
	return nil
}
