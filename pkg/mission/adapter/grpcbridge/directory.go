// Package grpcbridge connects mission adapters to services over gRPC.
//
// Two services are defined, both carrying google.protobuf.Struct messages so
// no generated code is needed:
//
//   - mission.remote.v1.RemoteMission runs a mission hosted by another
//     process. Remote is the RemoteGrpc adapter that drives a session
//     (EstablishSession, Tick until terminal, Stop, TeardownSession) and
//     Host serves one.
//   - mission.robot.v1.Robot exposes robot-facing adapters. RobotClient
//     builds an adapter.Set that calls it, and RegisterRobotServer serves an
//     existing adapter.Set, such as a simulated robot.
//
// Service names and hosts are mapped to dial targets by a Directory.
// Connections are shared through a Pool.
package grpcbridge

import (
	"errors"
	"fmt"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/randalmurphal/mission/pkg/mission/adapter"
)

// ErrNoEndpoint indicates the directory has no entry for a target.
var ErrNoEndpoint = errors.New("no endpoint for service")

// Directory resolves a target to a gRPC dial target.
type Directory interface {
	Resolve(t adapter.Target) (string, error)
}

// StaticDirectory is a fixed Directory. Keys are tried in order
// "service@host", "service", then "host".
type StaticDirectory map[string]string

// Resolve implements Directory.
func (d StaticDirectory) Resolve(t adapter.Target) (string, error) {
	var keys []string
	if t.ServiceName != "" && t.Host != "" {
		keys = append(keys, t.ServiceName+"@"+t.Host)
	}
	if t.ServiceName != "" {
		keys = append(keys, t.ServiceName)
	}
	if t.Host != "" {
		keys = append(keys, t.Host)
	}
	for _, k := range keys {
		if endpoint, ok := d[k]; ok {
			return endpoint, nil
		}
	}
	return "", fmt.Errorf("%w: service %q host %q", ErrNoEndpoint, t.ServiceName, t.Host)
}

// Pool shares one client connection per dial target.
type Pool struct {
	opts []grpc.DialOption

	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewPool creates a pool. Without options, connections use insecure
// transport credentials.
func NewPool(opts ...grpc.DialOption) *Pool {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	return &Pool{
		opts:  opts,
		conns: make(map[string]*grpc.ClientConn),
	}
}

// Get returns the connection for target, creating it on first use.
// Connecting is lazy; errors surface on the first call.
func (p *Pool) Get(target string) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[target]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(target, p.opts...)
	if err != nil {
		return nil, fmt.Errorf("create client for %q: %w", target, err)
	}
	p.conns[target] = conn
	return conn, nil
}

// Close closes every connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	for target, conn := range p.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %q: %w", target, err))
		}
		delete(p.conns, target)
	}
	return errors.Join(errs...)
}
