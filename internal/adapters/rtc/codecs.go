package rtc

import (
	"fmt"
	"sort"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/VoiceCall/internal/domain"
)

// DefaultCodecs is the router codec set offered to every room.
func DefaultCodecs() []domain.RtpCodecCapability {
	return []domain.RtpCodecCapability{
		{Kind: domain.KindAudio, MimeType: webrtc.MimeTypeOpus, PreferredPayloadType: 100, ClockRate: 48000, Channels: 2},
		{
			Kind: domain.KindVideo, MimeType: webrtc.MimeTypeVP8, PreferredPayloadType: 101, ClockRate: 90000,
			Parameters: map[string]any{"x-google-start-bitrate": 1000},
		},
		{
			Kind: domain.KindVideo, MimeType: webrtc.MimeTypeVP9, PreferredPayloadType: 103, ClockRate: 90000,
			Parameters: map[string]any{"profile-id": 2, "x-google-start-bitrate": 1000},
		},
		{
			Kind: domain.KindVideo, MimeType: webrtc.MimeTypeH264, PreferredPayloadType: 105, ClockRate: 90000,
			Parameters: map[string]any{
				"packetization-mode":      1,
				"profile-level-id":        "4d0032",
				"level-asymmetry-allowed": 1,
				"x-google-start-bitrate":  1000,
			},
		},
	}
}

var videoFeedback = []domain.RtcpFeedback{
	{Type: "nack"},
	{Type: "nack", Parameter: "pli"},
	{Type: "ccm", Parameter: "fir"},
	{Type: "goog-remb"},
}

// withFeedback fills in the RTCP feedback the engine implements.
func withFeedback(codecs []domain.RtpCodecCapability) []domain.RtpCodecCapability {
	out := make([]domain.RtpCodecCapability, len(codecs))
	for i, c := range codecs {
		if c.Kind == domain.KindVideo && len(c.RtcpFeedback) == 0 {
			c.RtcpFeedback = videoFeedback
		}
		out[i] = c
	}
	return out
}

func codecType(kind domain.MediaKind) webrtc.RTPCodecType {
	if kind == domain.KindVideo {
		return webrtc.RTPCodecTypeVideo
	}
	return webrtc.RTPCodecTypeAudio
}

func fmtpLine(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, ";")
}

func toPionFeedback(fb []domain.RtcpFeedback) []webrtc.RTCPFeedback {
	out := make([]webrtc.RTCPFeedback, 0, len(fb))
	for _, f := range fb {
		out = append(out, webrtc.RTCPFeedback{Type: f.Type, Parameter: f.Parameter})
	}
	return out
}

func toPionCapability(c domain.RtpCodecCapability) webrtc.RTPCodecCapability {
	return webrtc.RTPCodecCapability{
		MimeType:     c.MimeType,
		ClockRate:    c.ClockRate,
		Channels:     c.Channels,
		SDPFmtpLine:  fmtpLine(c.Parameters),
		RTCPFeedback: toPionFeedback(c.RtcpFeedback),
	}
}

func toPionCodec(c domain.RtpCodecCapability) webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: toPionCapability(c),
		PayloadType:        webrtc.PayloadType(c.PreferredPayloadType),
	}
}

// matchCapability finds the router codec a producer's codec maps to.
func matchCapability(caps domain.RtpCapabilities, codec domain.RtpCodecParameters) (domain.RtpCodecCapability, bool) {
	for _, c := range caps.Codecs {
		if strings.EqualFold(c.MimeType, codec.MimeType) && c.ClockRate == codec.ClockRate {
			return c, true
		}
	}
	return domain.RtpCodecCapability{}, false
}

func fromSendParameters(p webrtc.RTPSendParameters, mime string) domain.RtpParameters {
	var out domain.RtpParameters
	for _, c := range p.Codecs {
		if !strings.EqualFold(c.MimeType, mime) {
			continue
		}
		fb := make([]domain.RtcpFeedback, 0, len(c.RTCPFeedback))
		for _, f := range c.RTCPFeedback {
			fb = append(fb, domain.RtcpFeedback{Type: f.Type, Parameter: f.Parameter})
		}
		out.Codecs = append(out.Codecs, domain.RtpCodecParameters{
			MimeType:     c.MimeType,
			PayloadType:  uint8(c.PayloadType),
			ClockRate:    c.ClockRate,
			Channels:     c.Channels,
			Parameters:   parseFmtp(c.SDPFmtpLine),
			RtcpFeedback: fb,
		})
	}
	for _, e := range p.Encodings {
		out.Encodings = append(out.Encodings, domain.RtpEncodingParameters{SSRC: uint32(e.SSRC), Rid: e.RID})
	}
	return out
}

func parseFmtp(line string) map[string]any {
	if line == "" {
		return nil
	}
	out := make(map[string]any)
	for _, kv := range strings.Split(line, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if ok {
			out[k] = v
		}
	}
	return out
}
