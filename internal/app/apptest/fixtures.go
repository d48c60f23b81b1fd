package apptest

import "github.com/dkeye/VoiceCall/internal/domain"

var Opus = domain.RtpCodecCapability{Kind: domain.KindAudio, MimeType: "audio/opus", ClockRate: 48000, Channels: 2}
var VP8 = domain.RtpCodecCapability{Kind: domain.KindVideo, MimeType: "video/VP8", ClockRate: 90000}

// Codecs is a minimal router codec set.
func Codecs() []domain.RtpCodecCapability {
	return []domain.RtpCodecCapability{Opus, VP8}
}

// AudioOnly is a client that can only receive opus.
func AudioOnly() domain.RtpCapabilities {
	return domain.RtpCapabilities{Codecs: []domain.RtpCodecCapability{Opus}}
}

func FullCaps() domain.RtpCapabilities {
	return domain.RtpCapabilities{Codecs: Codecs()}
}

func OpusParams() domain.RtpParameters {
	return domain.RtpParameters{
		Codecs:    []domain.RtpCodecParameters{{MimeType: "audio/opus", PayloadType: 111, ClockRate: 48000, Channels: 2}},
		Encodings: []domain.RtpEncodingParameters{{SSRC: 1111}},
	}
}

func VP8Params() domain.RtpParameters {
	return domain.RtpParameters{
		Codecs:    []domain.RtpCodecParameters{{MimeType: "video/VP8", PayloadType: 96, ClockRate: 90000}},
		Encodings: []domain.RtpEncodingParameters{{SSRC: 2222}},
	}
}
