package rtc

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
)

var opusCapability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}

// hostIPv4 picks a non-loopback address; host candidates skip loopback.
func hostIPv4(t *testing.T) net.IP {
	t.Helper()
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		t.Skipf("interface addrs: %v", err)
	}
	for _, a := range addrs {
		n, ok := a.(*net.IPNet)
		if ok && n.IP.To4() != nil && !n.IP.IsLoopback() && !n.IP.IsLinkLocalUnicast() {
			return n.IP
		}
	}
	t.Skip("no non-loopback ipv4 address")
	return nil
}

func newRouter(t *testing.T, ip net.IP) *Router {
	t.Helper()
	w, err := NewEngine(Config{ListenIP: ip.String()}).CreateWorker(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = w.Close() })
	r, err := w.CreateRouter(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return r.(*Router)
}

// client is the remote end of one transport, built on the same ORTC API.
type client struct {
	api      *webrtc.API
	gatherer *webrtc.ICEGatherer
	ice      *webrtc.ICETransport
	dtls     *webrtc.DTLSTransport
}

func newClient(t *testing.T, ip net.IP) *client {
	t.Helper()
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{RTPCodecCapability: opusCapability, PayloadType: 100}, webrtc.RTPCodecTypeAudio); err != nil {
		t.Fatal(err)
	}
	se := webrtc.SettingEngine{}
	se.SetIPFilter(func(candidate net.IP) bool { return candidate.Equal(ip) })
	se.SetNetworkTypes([]webrtc.NetworkType{webrtc.NetworkTypeUDP4})
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithSettingEngine(se))

	gatherer, err := api.NewICEGatherer(webrtc.ICEGatherOptions{})
	if err != nil {
		t.Fatal(err)
	}
	ice := api.NewICETransport(gatherer)
	dtls, err := api.NewDTLSTransport(ice, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = dtls.Stop()
		_ = ice.Stop()
		_ = gatherer.Close()
	})

	gathered := make(chan struct{})
	var once sync.Once
	gatherer.OnLocalCandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			once.Do(func() { close(gathered) })
		}
	})
	if err := gatherer.Gather(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-gathered:
	case <-time.After(5 * time.Second):
		t.Fatal("client gathering timed out")
	}
	return &client{api: api, gatherer: gatherer, ice: ice, dtls: dtls}
}

// connect hands the client parameters to tr and runs ICE and DTLS as the
// controlling side.
func (c *client) connect(t *testing.T, tr core.Transport) {
	t.Helper()
	iceParams, err := c.gatherer.GetLocalParameters()
	if err != nil {
		t.Fatal(err)
	}
	candidates, err := c.gatherer.GetLocalCandidates()
	if err != nil {
		t.Fatal(err)
	}
	dtlsParams, err := c.dtls.GetLocalParameters()
	if err != nil {
		t.Fatal(err)
	}
	err = tr.Connect(context.Background(), domain.ConnectParams{
		DtlsParameters: fromPionDTLS(dtlsParams),
		IceParameters:  &domain.IceParameters{UsernameFragment: iceParams.UsernameFragment, Password: iceParams.Password},
		IceCandidates:  fromPionCandidates(candidates),
	})
	if err != nil {
		t.Fatal(err)
	}

	desc := tr.Descriptor()
	remote, err := toPionCandidates(desc.IceCandidates)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.ice.SetRemoteCandidates(remote); err != nil {
		t.Fatal(err)
	}
	remoteDTLS, err := toPionDTLS(desc.DtlsParameters)
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		role := webrtc.ICERoleControlling
		err := c.ice.Start(nil, webrtc.ICEParameters{
			UsernameFragment: desc.IceParameters.UsernameFragment,
			Password:         desc.IceParameters.Password,
		}, &role)
		if err == nil {
			err = c.dtls.Start(remoteDTLS)
		}
		done <- err
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("client connect: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("client connect timed out")
	}
}

func opusParameters(pt uint8, ssrc uint32) domain.RtpParameters {
	return domain.RtpParameters{
		Codecs:    []domain.RtpCodecParameters{{MimeType: webrtc.MimeTypeOpus, PayloadType: pt, ClockRate: 48000, Channels: 2}},
		Encodings: []domain.RtpEncodingParameters{{SSRC: ssrc}},
	}
}

func TestMediaFlowsBetweenClients(t *testing.T) {
	ip := hostIPv4(t)
	r := newRouter(t, ip)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	sendTr, err := r.CreateTransport(ctx, core.TransportOptions{Direction: domain.DirectionSend})
	if err != nil {
		t.Fatal(err)
	}
	recvTr, err := r.CreateTransport(ctx, core.TransportOptions{Direction: domain.DirectionRecv})
	if err != nil {
		t.Fatal(err)
	}

	alice := newClient(t, ip)
	alice.connect(t, sendTr)

	track, err := webrtc.NewTrackLocalStaticRTP(opusCapability, "audio", "alice")
	if err != nil {
		t.Fatal(err)
	}
	sender, err := alice.api.NewRTPSender(track, alice.dtls)
	if err != nil {
		t.Fatal(err)
	}
	sendParams := sender.GetParameters()
	if err := sender.Send(sendParams); err != nil {
		t.Fatal(err)
	}
	go func() {
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for seq := uint16(0); ; seq++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			pkt := &rtp.Packet{
				Header:  rtp.Header{Version: 2, SequenceNumber: seq, Timestamp: uint32(seq) * 960},
				Payload: []byte{0xfc, 0xff, 0xfe},
			}
			if err := track.WriteRTP(pkt); err != nil {
				return
			}
		}
	}()

	producer, err := sendTr.Produce(ctx, core.ProduceOptions{
		Kind:          domain.KindAudio,
		RtpParameters: opusParameters(100, uint32(sendParams.Encodings[0].SSRC)),
		AppData:       domain.AppData{"userId": "alice"},
	})
	if err != nil {
		t.Fatal(err)
	}

	consumer, err := recvTr.Consume(ctx, core.ConsumeOptions{
		ProducerID:      producer.ID(),
		RtpCapabilities: r.RtpCapabilities(),
		Paused:          true,
	})
	if err != nil {
		t.Fatal(err)
	}
	producerClosed := make(chan struct{})
	consumer.OnProducerClose(func() { close(producerClosed) })

	bob := newClient(t, ip)
	bob.connect(t, recvTr)
	recv, err := bob.api.NewRTPReceiver(webrtc.RTPCodecTypeAudio, bob.dtls)
	if err != nil {
		t.Fatal(err)
	}
	err = recv.Receive(webrtc.RTPReceiveParameters{Encodings: []webrtc.RTPDecodingParameters{{
		RTPCodingParameters: webrtc.RTPCodingParameters{
			SSRC:        webrtc.SSRC(consumer.RtpParameters().Encodings[0].SSRC),
			PayloadType: 100,
		},
	}}})
	if err != nil {
		t.Fatal(err)
	}
	var received atomic.Int32
	go func() {
		for {
			if _, _, err := recv.Track().ReadRTP(); err != nil {
				return
			}
			received.Add(1)
		}
	}()
	defer func() { _ = recv.Stop() }()

	time.Sleep(300 * time.Millisecond)
	if n := received.Load(); n != 0 {
		t.Fatalf("paused consumer delivered %d packets", n)
	}

	if err := consumer.Resume(ctx); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for received.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no media after resume")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := producer.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-producerClosed:
	case <-time.After(time.Second):
		t.Fatal("consumer not told its producer closed")
	}
	if r.CanConsume(producer.ID(), r.RtpCapabilities()) {
		t.Fatal("closed producer still consumable")
	}
}

func TestProduceRejectsForeignPayloadType(t *testing.T) {
	ip := hostIPv4(t)
	r := newRouter(t, ip)
	tr, err := r.CreateTransport(context.Background(), core.TransportOptions{Direction: domain.DirectionSend})
	if err != nil {
		t.Fatal(err)
	}

	// rejected before DTLS is awaited, so an unconnected transport answers at once
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = tr.Produce(ctx, core.ProduceOptions{Kind: domain.KindAudio, RtpParameters: opusParameters(111, 1234)})
	if !errors.Is(err, domain.ErrUnsupported) {
		t.Fatalf("produce with payload type 111: %v", err)
	}
}

func TestCreateTransportWithoutCandidates(t *testing.T) {
	// TEST-NET-1 is bound to no interface
	r := newRouter(t, net.ParseIP("192.0.2.1"))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := r.CreateTransport(ctx, core.TransportOptions{Direction: domain.DirectionSend})
	if !errors.Is(err, errNoCandidates) {
		t.Fatalf("transport on unbound ip: %v", err)
	}
}
