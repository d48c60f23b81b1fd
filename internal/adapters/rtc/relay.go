package rtc

import (
	"context"
	"errors"
	"io"
	"maps"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"
)

// rtpSource is the producer side of a relay.
type rtpSource interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// maxReadErrors is how many failed reads in a row end the relay. Single
// failures (a packet with an unknown payload type) are skipped.
const maxReadErrors = 32

// Relay fans RTP packets of one producer out to its consumers.
type Relay struct {
	src    rtpSource
	logger zerolog.Logger
	onStop func()

	mu        sync.RWMutex
	outTracks map[string]*OutTrack
}

func NewRelay(src rtpSource, logger zerolog.Logger) *Relay {
	return &Relay{
		src:       src,
		logger:    logger,
		outTracks: make(map[string]*OutTrack),
	}
}

// OnStop registers fn to run when the loop exits.
func (r *Relay) OnStop(fn func()) { r.onStop = fn }

// loop reads RTP packets from the source track and forwards them to all OutTracks.
func (r *Relay) loop(ctx context.Context) {
	defer func() {
		r.markAllDelete()
		if r.onStop != nil {
			r.onStop()
		}
	}()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			r.logger.Debug().Msg("relay ctx done, marking all out tracks for delete")
			return
		default:
		}
		pkt, _, err := r.src.ReadRTP()
		if err != nil {
			if streamEnded(err) {
				r.logger.Debug().Err(err).Msg("relay read RTP stopped")
				return
			}
			failures++
			if failures >= maxReadErrors {
				r.logger.Warn().Err(err).Int("failures", failures).Msg("relay giving up after repeated read errors")
				return
			}
			r.logger.Debug().Err(err).Msg("relay skipped unreadable packet")
			continue
		}
		failures = 0
		r.forward(pkt)
	}
}

func streamEnded(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, context.Canceled)
}

func (r *Relay) forward(pkt *rtp.Packet) {
	r.mu.RLock()
	snapshot := maps.Clone(r.outTracks)
	r.mu.RUnlock()

	dirty := make([]string, 0, len(snapshot))
	for consumerID, ot := range snapshot {
		switch ot.GetState() {
		case TrackStateDelete:
			dirty = append(dirty, consumerID)
		case TrackStateMuted:
		case TrackStateOk:
			if err := ot.Track.WriteRTP(pkt); err != nil {
				r.logger.Error().
					Err(err).
					Str("consumer_id", consumerID).
					Msg("relay write RTP error, marking outtrack as delete")
				ot.MarkDelete()
				dirty = append(dirty, consumerID)
			}
		}
	}

	// Cleanup is done outside the RLock.
	if len(dirty) > 0 {
		r.cleanupDeleted(dirty)
	}
}

func (r *Relay) cleanupDeleted(dirty []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range dirty {
		if ot, ok := r.outTracks[id]; ok && ot.GetState() == TrackStateDelete {
			delete(r.outTracks, id)
		}
	}
}

func (r *Relay) markAllDelete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ot := range r.outTracks {
		ot.MarkDelete()
	}
}

func (r *Relay) AddOutTrack(consumerID string, ot *OutTrack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outTracks[consumerID] = ot
}

func (r *Relay) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.outTracks)
}
