package rtc

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

type chanSource chan *rtp.Packet

func (s chanSource) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-s
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, nil, nil
}

// scriptedSource replays reads in order, then reports EOF.
type scriptedSource struct {
	reads []error
	n     int
}

func (s *scriptedSource) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	if s.n >= len(s.reads) {
		return nil, nil, io.EOF
	}
	err := s.reads[s.n]
	s.n++
	if err != nil {
		return nil, nil, err
	}
	return &rtp.Packet{Header: rtp.Header{SequenceNumber: uint16(s.n)}}, nil, nil
}

func newLocalTrack(t *testing.T, id string) *webrtc.TrackLocalStaticRTP {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, id, "stream")
	if err != nil {
		t.Fatal(err)
	}
	return track
}

func TestOutTrackStates(t *testing.T) {
	ot := NewOutTrack(nil, true)
	if ot.GetState() != TrackStateMuted {
		t.Fatal("paused track not muted")
	}
	ot.MarkOk()
	if ot.GetState() != TrackStateOk {
		t.Fatal("resume did not unmute")
	}
	ot.MarkDelete()
	ot.MarkOk()
	if ot.GetState() != TrackStateDelete {
		t.Fatal("deleted track came back")
	}
}

func TestRelayDropsDeletedTracks(t *testing.T) {
	src := make(chanSource)
	relay := NewRelay(src, zerolog.Nop())

	live := NewOutTrack(newLocalTrack(t, "live"), false)
	muted := NewOutTrack(newLocalTrack(t, "muted"), true)
	gone := NewOutTrack(newLocalTrack(t, "gone"), false)
	relay.AddOutTrack("live", live)
	relay.AddOutTrack("muted", muted)
	relay.AddOutTrack("gone", gone)
	gone.MarkDelete()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		relay.loop(ctx)
		close(done)
	}()

	src <- &rtp.Packet{Header: rtp.Header{SequenceNumber: 1}}
	src <- &rtp.Packet{Header: rtp.Header{SequenceNumber: 2}}
	if n := relay.Len(); n != 2 {
		t.Fatalf("relay holds %d tracks, want 2", n)
	}

	close(src)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop on source EOF")
	}
	if live.GetState() != TrackStateDelete || muted.GetState() != TrackStateDelete {
		t.Fatal("tracks not released when the source ended")
	}
}

func TestRelaySkipsUnreadablePackets(t *testing.T) {
	unknownPT := errors.New("codec not found")
	src := &scriptedSource{reads: []error{nil, unknownPT, nil, unknownPT, nil}}
	relay := NewRelay(src, zerolog.Nop())
	live := NewOutTrack(newLocalTrack(t, "live"), false)
	relay.AddOutTrack("live", live)

	stopped := 0
	relay.OnStop(func() { stopped++ })
	relay.loop(context.Background())

	if src.n != len(src.reads) {
		t.Fatalf("relay stopped after %d reads, want %d", src.n, len(src.reads))
	}
	if stopped != 1 {
		t.Fatalf("onStop ran %d times, want 1", stopped)
	}
	if live.GetState() != TrackStateDelete {
		t.Fatal("track not released after EOF")
	}
}

func TestRelayGivesUpOnRepeatedErrors(t *testing.T) {
	reads := make([]error, maxReadErrors+10)
	for i := range reads {
		reads[i] = errors.New("broken")
	}
	src := &scriptedSource{reads: reads}
	relay := NewRelay(src, zerolog.Nop())

	stopped := false
	relay.OnStop(func() { stopped = true })
	relay.loop(context.Background())

	if src.n != maxReadErrors {
		t.Fatalf("relay read %d times, want %d", src.n, maxReadErrors)
	}
	if !stopped {
		t.Fatal("onStop not called")
	}
}

func TestRelayStopsOnCancel(t *testing.T) {
	relay := NewRelay(make(chanSource), zerolog.Nop())
	stopped := false
	relay.OnStop(func() { stopped = true })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	relay.loop(ctx)
	if !stopped {
		t.Fatal("onStop not called on cancel")
	}
}
