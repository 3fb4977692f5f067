package cluster

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/teranos/tempo/errors"
	"github.com/teranos/tempo/logger"
)

const deliverMethod = "/tempo.cluster.Router/Deliver"

// Envelope carries a Reload between nodes. EntityID is the serialized ref.
type Envelope struct {
	EntityID string `json:"entity_id"`
	ETag     string `json:"etag,omitempty"`
}

// Ack is the Deliver response.
type Ack struct {
	Node string `json:"node"`
}

// RouterServer receives forwarded envelopes.
type RouterServer interface {
	Deliver(ctx context.Context, env *Envelope) (*Ack, error)
}

var routerServiceDesc = grpc.ServiceDesc{
	ServiceName: "tempo.cluster.Router",
	HandlerType: (*RouterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tempo/cluster/router",
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RouterServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: deliverMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(RouterServer).Deliver(ctx, req.(*Envelope))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterRouterServer attaches srv to s.
func RegisterRouterServer(s *grpc.Server, srv RouterServer) {
	s.RegisterService(&routerServiceDesc, srv)
}

// Transport forwards envelopes to other nodes.
type Transport interface {
	Forward(ctx context.Context, node string, env Envelope) error
}

// GRPCTransport dials peers lazily and keeps one connection per peer.
type GRPCTransport struct {
	mu       sync.Mutex
	peers    map[string]string
	conns    map[string]*grpc.ClientConn
	dialOpts []grpc.DialOption
	log      *zap.SugaredLogger
}

// NewGRPCTransport creates a transport for peers (node id to address).
// Extra dial options are appended to the insecure defaults.
func NewGRPCTransport(peers map[string]string, log *zap.SugaredLogger, opts ...grpc.DialOption) *GRPCTransport {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	t := &GRPCTransport{
		conns:    make(map[string]*grpc.ClientConn),
		dialOpts: append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...),
		log:      logger.AddRingSymbol(log.Named("transport")),
	}
	t.SetPeers(peers)
	return t
}

// SetPeers replaces the peer table. Connections to removed peers, or peers
// whose address changed, are closed.
func (t *GRPCTransport) SetPeers(peers map[string]string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := make(map[string]string, len(peers))
	for node, addr := range peers {
		next[node] = addr
	}
	for node, conn := range t.conns {
		if addr, ok := next[node]; !ok || addr != t.peers[node] {
			conn.Close()
			delete(t.conns, node)
		}
	}
	t.peers = next
}

func (t *GRPCTransport) conn(node string) (*grpc.ClientConn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.conns[node]; ok {
		return c, nil
	}
	addr, ok := t.peers[node]
	if !ok {
		return nil, errors.Newf("no address for node %q", node)
	}
	c, err := grpc.NewClient(addr, t.dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial node %s at %s", node, addr)
	}
	t.log.Debugw("Dialed peer", logger.FieldPeer, node, logger.FieldAddress, addr)
	t.conns[node] = c
	return c, nil
}

// Forward delivers env to node. A lease held on the far side comes back
// as errors.ErrLeaseHeld.
func (t *GRPCTransport) Forward(ctx context.Context, node string, env Envelope) error {
	c, err := t.conn(node)
	if err != nil {
		return err
	}
	var ack Ack
	err = c.Invoke(ctx, deliverMethod, &env, &ack, grpc.CallContentSubtype(codecName))
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.FailedPrecondition:
		return errors.Wrapf(errors.ErrLeaseHeld, "node %s: %s", node, st.Message())
	case codes.NotFound:
		return errors.Wrapf(errors.ErrUnknownRepository, "node %s: %s", node, st.Message())
	}
	return errors.Wrapf(err, "failed to forward %s to %s", env.EntityID, node)
}

// Close closes all peer connections.
func (t *GRPCTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var first error
	for node, c := range t.conns {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
		delete(t.conns, node)
	}
	return first
}

// statusOf maps delivery errors to gRPC status codes.
func statusOf(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errors.ErrLeaseHeld):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, errors.ErrUnknownRepository):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, errors.ErrDeserialization):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errNotOwner):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
