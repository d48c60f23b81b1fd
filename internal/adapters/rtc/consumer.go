package rtc

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/VoiceCall/internal/domain"
)

var errConsumerClosed = errors.New("consumer closed")

// Consumer sends one producer's stream to a receiving transport.
type Consumer struct {
	id        string
	producer  *Producer
	transport *Transport
	sender    *webrtc.RTPSender
	out       *OutTrack
	params    domain.RtpParameters

	transportClosed hooks
	producerClosed  hooks

	closed atomic.Bool
}

func (c *Consumer) ID() string                          { return c.id }
func (c *Consumer) ProducerID() string                  { return c.producer.id }
func (c *Consumer) Kind() domain.MediaKind              { return c.producer.kind }
func (c *Consumer) RtpParameters() domain.RtpParameters { return c.params }
func (c *Consumer) Paused() bool                        { return c.out.GetState() == TrackStateMuted }
func (c *Consumer) OnTransportClose(fn func())          { c.transportClosed.add(fn) }
func (c *Consumer) OnProducerClose(fn func())           { c.producerClosed.add(fn) }

func (c *Consumer) Resume(context.Context) error {
	if c.closed.Load() {
		return errConsumerClosed
	}
	c.out.MarkOk()
	c.producer.RequestKeyFrame()
	return nil
}

// readRTCP forwards key frame requests of the receiver to the producer.
func (c *Consumer) readRTCP(ctx context.Context) {
	for ctx.Err() == nil {
		pkts, _, err := c.sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, pkt := range pkts {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				c.producer.RequestKeyFrame()
			}
		}
	}
}

func (c *Consumer) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.out.MarkDelete()
	err := c.sender.Stop()
	c.transport.forgetConsumer(c.id)
	c.producer.detach(c.id)
	return err
}
