package energy_test

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/susurrus-chat/susurrus/pkg/vad"
	"github.com/susurrus-chat/susurrus/pkg/vad/energy"
)

// pcmFrame builds a frame of n int16 samples, all at the given amplitude.
func pcmFrame(n int, amplitude int16) []byte {
	frame := make([]byte, n*2)
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(frame[i*2:], uint16(amplitude))
	}
	return frame
}

// testConfig yields requiredSilent = ceil(0.016s * 16000/128) = 2 frames, so
// tests stay short.
func testConfig() vad.Config {
	return vad.Config{
		SampleRate:      16000,
		FrameSize:       128,
		EnergyThreshold: 10,
		SilenceDuration: 16 * time.Millisecond,
	}
}

func newSession(t *testing.T, cfg vad.Config) vad.Session {
	t.Helper()
	s, err := energy.New().NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return s
}

var (
	// amplitude 8000/32768*300 ≈ 73, well above threshold 10.
	loud = pcmFrame(128, 8000)
	// all-zero samples, amplitude 0.
	quiet = pcmFrame(128, 0)
)

func TestSession_SpeechStart(t *testing.T) {
	t.Parallel()

	s := newSession(t, testConfig())

	sig, err := s.ProcessFrame(loud)
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if sig.Type != vad.SignalSpeechStart {
		t.Errorf("first loud frame: signal=%v, want %v", sig.Type, vad.SignalSpeechStart)
	}
	if sig.Energy <= 10 {
		t.Errorf("energy=%f, want > threshold", sig.Energy)
	}

	// A second loud frame is a continuation, not another start.
	sig, err = s.ProcessFrame(loud)
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if sig.Type != vad.SignalNone {
		t.Errorf("second loud frame: signal=%v, want %v", sig.Type, vad.SignalNone)
	}
}

func TestSession_SilenceFiresAtWindowNotBefore(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	required := cfg.RequiredSilentFrames()
	if required != 2 {
		t.Fatalf("RequiredSilentFrames=%d, want 2", required)
	}

	s := newSession(t, cfg)
	if _, err := s.ProcessFrame(loud); err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}

	// N-1 silent frames must not trigger.
	for i := 0; i < required-1; i++ {
		sig, err := s.ProcessFrame(quiet)
		if err != nil {
			t.Fatalf("ProcessFrame: %v", err)
		}
		if sig.Type != vad.SignalNone {
			t.Fatalf("silent frame %d: signal=%v, want none", i+1, sig.Type)
		}
	}

	// The Nth silent frame triggers.
	sig, err := s.ProcessFrame(quiet)
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if sig.Type != vad.SignalSilenceDetected {
		t.Errorf("silent frame %d: signal=%v, want %v", required, sig.Type, vad.SignalSilenceDetected)
	}
}

func TestSession_LeadingSilenceIgnored(t *testing.T) {
	t.Parallel()

	s := newSession(t, testConfig())

	// Any amount of silence before the first speech frame never triggers.
	for i := 0; i < 50; i++ {
		sig, err := s.ProcessFrame(quiet)
		if err != nil {
			t.Fatalf("ProcessFrame: %v", err)
		}
		if sig.Type != vad.SignalNone {
			t.Fatalf("leading silent frame %d: signal=%v, want none", i+1, sig.Type)
		}
	}
}

func TestSession_SpeechResetsSilenceCounter(t *testing.T) {
	t.Parallel()

	s := newSession(t, testConfig())
	if _, err := s.ProcessFrame(loud); err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}

	// One silent frame, then speech again: the counter starts over, so one
	// more silent frame must not trigger.
	if _, err := s.ProcessFrame(quiet); err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if _, err := s.ProcessFrame(loud); err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	sig, err := s.ProcessFrame(quiet)
	if err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	if sig.Type != vad.SignalNone {
		t.Errorf("after counter reset: signal=%v, want none", sig.Type)
	}
}

func TestSession_RearmsAfterSilence(t *testing.T) {
	t.Parallel()

	s := newSession(t, testConfig())

	fire := func(utterance int) {
		t.Helper()
		if _, err := s.ProcessFrame(loud); err != nil {
			t.Fatalf("ProcessFrame: %v", err)
		}
		var last vad.Signal
		for i := 0; i < 2; i++ {
			var err error
			last, err = s.ProcessFrame(quiet)
			if err != nil {
				t.Fatalf("ProcessFrame: %v", err)
			}
		}
		if last.Type != vad.SignalSilenceDetected {
			t.Fatalf("utterance %d: signal=%v, want silence", utterance, last.Type)
		}
	}

	fire(1)

	// After firing, further silence alone never re-triggers.
	for i := 0; i < 10; i++ {
		sig, err := s.ProcessFrame(quiet)
		if err != nil {
			t.Fatalf("ProcessFrame: %v", err)
		}
		if sig.Type != vad.SignalNone {
			t.Fatalf("post-silence frame %d: signal=%v, want none", i+1, sig.Type)
		}
	}

	// A fresh utterance re-arms the detector.
	fire(2)
}

func TestSession_Reset(t *testing.T) {
	t.Parallel()

	s := newSession(t, testConfig())
	if _, err := s.ProcessFrame(loud); err != nil {
		t.Fatalf("ProcessFrame: %v", err)
	}
	s.Reset()

	// The latch is cleared, so silence after Reset behaves like leading silence.
	for i := 0; i < 10; i++ {
		sig, err := s.ProcessFrame(quiet)
		if err != nil {
			t.Fatalf("ProcessFrame: %v", err)
		}
		if sig.Type != vad.SignalNone {
			t.Fatalf("frame %d after Reset: signal=%v, want none", i+1, sig.Type)
		}
	}
}

func TestSession_MalformedFrame(t *testing.T) {
	t.Parallel()

	s := newSession(t, testConfig())
	if _, err := s.ProcessFrame([]byte{1, 2, 3}); err == nil {
		t.Error("odd-length frame: err=nil, want error")
	}
}

func TestSession_Closed(t *testing.T) {
	t.Parallel()

	s := newSession(t, testConfig())
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := s.ProcessFrame(loud); !errors.Is(err, energy.ErrClosed) {
		t.Errorf("ProcessFrame after Close: err=%v, want ErrClosed", err)
	}
}

func TestNewSession_InvalidConfig(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*vad.Config)
	}{
		{"zero sample rate", func(c *vad.Config) { c.SampleRate = 0 }},
		{"zero frame size", func(c *vad.Config) { c.FrameSize = 0 }},
		{"negative threshold", func(c *vad.Config) { c.EnergyThreshold = -1 }},
		{"zero silence duration", func(c *vad.Config) { c.SilenceDuration = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			tc.mutate(&cfg)
			if _, err := energy.New().NewSession(cfg); err == nil {
				t.Error("NewSession: err=nil, want error")
			}
		})
	}
}

func TestConfig_RequiredSilentFrames(t *testing.T) {
	t.Parallel()

	// 16000 Hz / 128 samples = 125 frames/s; 1.5 s of silence rounds up to 188.
	cfg := vad.Config{
		SampleRate:      16000,
		FrameSize:       128,
		SilenceDuration: 1500 * time.Millisecond,
	}
	if got := cfg.RequiredSilentFrames(); got != 188 {
		t.Errorf("RequiredSilentFrames=%d, want 188", got)
	}
}
