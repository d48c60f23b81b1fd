package core

import (
	"context"

	"github.com/dkeye/VoiceCall/internal/domain"
)

// MediaEngine is the relay engine the orchestrator drives. Every handle it
// returns is safe for concurrent use, and every Close is idempotent.
type MediaEngine interface {
	CreateWorker(ctx context.Context) (Worker, error)
}

// Worker is one engine instance. Many routers share a worker.
type Worker interface {
	PID() int
	CreateRouter(ctx context.Context, codecs []domain.RtpCodecCapability) (Router, error)
	// Died is closed when the worker terminates unexpectedly.
	Died() <-chan struct{}
	Close() error
}

// Router binds a codec set to one worker for the lifetime of a room.
type Router interface {
	ID() string
	RtpCapabilities() domain.RtpCapabilities
	CreateTransport(ctx context.Context, opts TransportOptions) (Transport, error)
	CanConsume(producerID string, caps domain.RtpCapabilities) bool
	Close() error
}

type TransportOptions struct {
	Direction                       domain.Direction
	ListenIP                        string
	AnnouncedIP                     string
	EnableUDP                       bool
	EnableTCP                       bool
	PreferUDP                       bool
	InitialAvailableOutgoingBitrate uint32
}

type Transport interface {
	ID() string
	Direction() domain.Direction
	Descriptor() domain.TransportDescriptor
	Connect(ctx context.Context, params domain.ConnectParams) error
	Produce(ctx context.Context, opts ProduceOptions) (Producer, error)
	Consume(ctx context.Context, opts ConsumeOptions) (Consumer, error)
	// Close closes every producer and consumer of the transport first,
	// firing their transport-close hooks.
	Close() error
}

type ProduceOptions struct {
	Kind          domain.MediaKind
	RtpParameters domain.RtpParameters
	AppData       domain.AppData
}

type ConsumeOptions struct {
	ProducerID      string
	RtpCapabilities domain.RtpCapabilities
	Paused          bool
}

type Producer interface {
	ID() string
	Kind() domain.MediaKind
	AppData() domain.AppData
	// OnTransportClose registers fn to run once when the owning transport
	// closes. Registering after that happened runs fn immediately.
	OnTransportClose(fn func())
	// OnClose registers fn to run once the producer is closed for any
	// reason, including its media stream ending.
	OnClose(fn func())
	Close() error
}

type Consumer interface {
	ID() string
	ProducerID() string
	Kind() domain.MediaKind
	RtpParameters() domain.RtpParameters
	Paused() bool
	Resume(ctx context.Context) error
	OnTransportClose(fn func())
	// OnProducerClose registers fn to run once when the remote producer closes.
	OnProducerClose(fn func())
	Close() error
}
