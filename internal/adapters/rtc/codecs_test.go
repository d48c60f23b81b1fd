package rtc

import (
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/VoiceCall/internal/domain"
)

func TestFmtpLine(t *testing.T) {
	got := fmtpLine(map[string]any{"profile-level-id": "4d0032", "packetization-mode": 1, "level-asymmetry-allowed": 1})
	want := "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=4d0032"
	if got != want {
		t.Fatalf("fmtpLine = %q, want %q", got, want)
	}
	if fmtpLine(nil) != "" {
		t.Fatal("empty parameters should give an empty line")
	}
}

func TestDefaultCodecs(t *testing.T) {
	codecs := DefaultCodecs()
	if len(codecs) != 4 {
		t.Fatalf("got %d codecs", len(codecs))
	}
	opus := codecs[0]
	if opus.MimeType != webrtc.MimeTypeOpus || opus.ClockRate != 48000 || opus.Channels != 2 {
		t.Fatalf("opus = %+v", opus)
	}
	for _, c := range withFeedback(codecs) {
		if c.Kind == domain.KindVideo && len(c.RtcpFeedback) == 0 {
			t.Fatalf("%s has no rtcp feedback", c.MimeType)
		}
	}
}

func TestSendParametersKeepOnlyProducerCodec(t *testing.T) {
	p := webrtc.RTPSendParameters{
		RTPParameters: webrtc.RTPParameters{Codecs: []webrtc.RTPCodecParameters{
			{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2, SDPFmtpLine: "minptime=10;useinbandfec=1"}, PayloadType: 111},
			{RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}, PayloadType: 96},
		}},
		Encodings: []webrtc.RTPEncodingParameters{{RTPCodingParameters: webrtc.RTPCodingParameters{SSRC: 42}}},
	}
	got := fromSendParameters(p, "audio/OPUS")
	if len(got.Codecs) != 1 || got.Codecs[0].PayloadType != 111 || got.Codecs[0].Parameters["useinbandfec"] != "1" {
		t.Fatalf("codecs = %+v", got.Codecs)
	}
	if len(got.Encodings) != 1 || got.Encodings[0].SSRC != 42 {
		t.Fatalf("encodings = %+v", got.Encodings)
	}
}

func TestCandidateConversion(t *testing.T) {
	in := []domain.IceCandidate{{Foundation: "1", Priority: 100, IP: "10.0.0.1", Protocol: "udp", Port: 40001, Type: "host"}}
	pc, err := toPionCandidates(in)
	if err != nil {
		t.Fatal(err)
	}
	back := fromPionCandidates(pc)
	if back[0] != in[0] {
		t.Fatalf("round trip = %+v", back[0])
	}
	if _, err := toPionCandidates([]domain.IceCandidate{{Protocol: "sctp", Type: "host"}}); err == nil {
		t.Fatal("bad protocol accepted")
	}
}

func TestDTLSConversion(t *testing.T) {
	if _, err := toPionDTLS(domain.DtlsParameters{Role: "client"}); err == nil {
		t.Fatal("missing fingerprints accepted")
	}
	p, err := toPionDTLS(domain.DtlsParameters{Role: "client", Fingerprints: []domain.DtlsFingerprint{{Algorithm: "sha-256", Value: "AB"}}})
	if err != nil {
		t.Fatal(err)
	}
	if p.Role != webrtc.DTLSRoleClient || p.Fingerprints[0].Value != "AB" {
		t.Fatalf("dtls = %+v", p)
	}
}
