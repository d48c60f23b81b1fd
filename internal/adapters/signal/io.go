package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/VoiceCall/internal/core"
	"github.com/dkeye/VoiceCall/internal/domain"
	"github.com/dkeye/VoiceCall/internal/metrics"
)

func (ctl *SignalWSController) writePump(ctx context.Context, cid domain.ConnID, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn_id", cid.String()).Msg("writePump ctx done")
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(ctl.opts.WriteTimeout))
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Str("conn_id", cid.String()).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(ctl.opts.WriteTimeout)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("conn_id", cid.String()).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteTimeout)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("conn_id", cid.String()).Msg("ping failed")
				return
			}
		}
	}
}

// readPump runs every message in its own goroutine so a slow engine call
// does not stall the connection. On exit it waits for them, then leaves.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, cid domain.ConnID, c *WsSignalConn) {
	var inflight conc.WaitGroup
	defer func() {
		cancel()
		if r := inflight.WaitAndRecover(); r != nil {
			log.Error().Str("module", "signal").Str("conn_id", cid.String()).Str("panic", r.String()).Msg("handler panicked")
		}
		ctl.Orch.Disconnect(cid)
		c.Close()
		log.Info().Str("module", "signal").Str("conn_id", cid.String()).Msg("readPump closing")
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("conn_id", cid.String()).Msg("readPump read error")
			}
			return
		}
		inflight.Go(func() { ctl.handleMessage(ctx, cid, c, data) })
	}
}

func (ctl *SignalWSController) handleMessage(ctx context.Context, cid domain.ConnID, c *WsSignalConn, data []byte) {
	var env core.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn_id", cid.String()).Msg("bad json")
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, ctl.opts.RequestTimeout)
	defer cancel()

	res, err := ctl.dispatch(reqCtx, cid, env)
	code := domain.ErrorCode(err)
	if errors.Is(err, domain.ErrNotInRoom) {
		// no active room: answer with an empty result
		res, err = nil, nil
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn_id", cid.String()).Str("event", env.Event).Msg("request failed")
	}
	metrics.SignalMessages.WithLabelValues(env.Event, codeLabel(code)).Inc()

	if env.ID == nil {
		return
	}
	var frame core.Frame
	if err != nil {
		frame, err = core.EncodeNack(*env.ID, err)
	} else {
		frame, err = core.EncodeAck(*env.ID, res)
	}
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode ack")
		return
	}
	if err := c.TrySend(frame); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("conn_id", cid.String()).Msg("ack dropped")
	}
}

func (ctl *SignalWSController) dispatch(ctx context.Context, cid domain.ConnID, env core.Envelope) (any, error) {
	switch env.Event {
	case "join-room":
		return ctl.handleJoin(ctx, cid, env.Data)
	case "update-capabilities":
		return ctl.handleUpdateCapabilities(cid, env.Data)
	case "leave-room":
		return ctl.handleLeave(cid)
	case "end-for-all":
		return ctl.handleEndForAll(ctx, cid, env.Data)
	case "create-transport":
		return ctl.handleCreateTransport(ctx, cid, env.Data)
	case "connect-transport":
		return ctl.handleConnectTransport(ctx, cid, env.Data)
	case "produce":
		return ctl.handleProduce(ctx, cid, env.Data)
	case "consume":
		return ctl.handleConsume(ctx, cid, env.Data)
	case "resume-consumer":
		return ctl.handleResumeConsumer(ctx, cid, env.Data)
	case "signal":
		return ctl.handleRelay(cid, env.Data)
	case "ping":
		return ctl.handlePing()
	default:
		return nil, fmt.Errorf("unknown event %q: %w", env.Event, domain.ErrBadPayload)
	}
}

func decode[T any](data json.RawMessage) (T, error) {
	var p T
	if len(data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("%w: %w", domain.ErrBadPayload, err)
	}
	return p, nil
}

func codeLabel(code string) string {
	if code == "" {
		return "ok"
	}
	return code
}
