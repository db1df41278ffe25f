package status

import (
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/vietddude/aiguard/internal/core/domain"
	"github.com/vietddude/aiguard/internal/resilience/health"
)

// ServiceName is the overall service name registered with the gRPC health server.
// Each capability is registered as "<ServiceName>.<capability>".
const ServiceName = "aiguard"

// FallbackNotifier delivers fallback transitions.
type FallbackNotifier interface {
	Subscribe(fn health.Listener) (unsubscribe func())
}

// GRPCHealth mirrors capability fallback state onto the standard gRPC health service.
type GRPCHealth struct {
	health      *grpchealth.Server
	server      *grpc.Server
	port        int
	unsubscribe func()
}

// NewGRPCHealth creates the health service and seeds it with the given states.
func NewGRPCHealth(port int, states []domain.CapabilityHealth) *GRPCHealth {
	g := &GRPCHealth{
		health: grpchealth.NewServer(),
		server: grpc.NewServer(),
		port:   port,
	}
	healthpb.RegisterHealthServer(g.server, g.health)

	g.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	for _, st := range states {
		g.set(st.Capability, st.FallbackActive)
	}
	return g
}

// ServiceFor returns the gRPC health service name for a capability.
func ServiceFor(capability domain.Capability) string {
	return ServiceName + "." + string(capability)
}

// Watch subscribes to fallback transitions.
func (g *GRPCHealth) Watch(n FallbackNotifier) {
	g.unsubscribe = n.Subscribe(func(ev domain.FallbackEvent) {
		g.set(ev.Capability, ev.Active)
	})
}

func (g *GRPCHealth) set(capability domain.Capability, inFallback bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if inFallback {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	g.health.SetServingStatus(ServiceFor(capability), status)
}

// HealthServer exposes the underlying health implementation.
func (g *GRPCHealth) HealthServer() healthpb.HealthServer {
	return g.health
}

// Start serves until Stop is called.
func (g *GRPCHealth) Start() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", g.port))
	if err != nil {
		return fmt.Errorf("failed to listen on grpc port %d: %w", g.port, err)
	}
	slog.Info("gRPC health service listening", "port", g.port)
	return g.server.Serve(lis)
}

// Stop marks everything NOT_SERVING and drains the server.
func (g *GRPCHealth) Stop() {
	if g.unsubscribe != nil {
		g.unsubscribe()
	}
	g.health.Shutdown()
	g.server.GracefulStop()
}
