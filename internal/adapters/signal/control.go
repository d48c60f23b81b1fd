package signal

import "time"

type pongPayload struct {
	Pong bool  `json:"pong"`
	Time int64 `json:"time"`
}

func (ctl *SignalWSController) handlePing() (any, error) {
	return pongPayload{Pong: true, Time: time.Now().UnixMilli()}, nil
}
