package speech

import (
	"sync"
	"time"

	"github.com/hraban/opus"
)

// FrameSink receives encoded Opus frames at playback pace. The kiosk
// WebSocket handler implements it by forwarding frames as binary messages.
type FrameSink interface {
	WriteFrame(frame []byte) error
}

// OpusPacedPlayer encodes 48kHz mono PCM to Opus and delivers 20ms frames to
// a sink on a real-time pacer, so a burst of synthesized audio plays at
// speaking speed instead of arriving all at once.
type OpusPacedPlayer struct {
	enc          *opus.Encoder
	sink         FrameSink
	pcmBuf       []int16
	frameSamples int
	frames       chan []byte
	stopCh       chan struct{}
	stopped      bool
	mu           sync.Mutex
}

// NewOpusPacedPlayer constructs a paced player with 20ms frames at 48kHz mono.
func NewOpusPacedPlayer(sink FrameSink) (*OpusPacedPlayer, error) {
	enc, err := opus.NewEncoder(48000, 1, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	p := &OpusPacedPlayer{
		enc:          enc,
		sink:         sink,
		frameSamples: 960, // 20ms at 48kHz
		frames:       make(chan []byte, 512),
		stopCh:       make(chan struct{}),
	}
	go p.pacer()
	return p, nil
}

// WritePCM buffers PCM 48kHz mono bytes and emits full Opus frames.
func (p *OpusPacedPlayer) WritePCM(pcmBytes []byte) {
	if len(pcmBytes) < 2 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	need := len(pcmBytes) / 2
	startLen := len(p.pcmBuf)
	if cap(p.pcmBuf)-startLen < need {
		tmp := make([]int16, startLen, startLen+need+2048)
		copy(tmp, p.pcmBuf)
		p.pcmBuf = tmp
	}
	p.pcmBuf = p.pcmBuf[:startLen+need]
	for i := 0; i < need; i++ {
		p.pcmBuf[startLen+i] = int16(uint16(pcmBytes[2*i]) | uint16(pcmBytes[2*i+1])<<8)
	}

	opusBuf := make([]byte, 4000)
	for len(p.pcmBuf) >= p.frameSamples {
		frame := p.pcmBuf[:p.frameSamples]
		n, _ := p.enc.Encode(frame, opusBuf)
		if n > 0 {
			pkt := make([]byte, n)
			copy(pkt, opusBuf[:n])
			p.pushFrame(pkt)
		}
		copy(p.pcmBuf, p.pcmBuf[p.frameSamples:])
		p.pcmBuf = p.pcmBuf[:len(p.pcmBuf)-p.frameSamples]
	}
}

// FlushTail pads the remaining PCM to a full frame and appends a short
// silence tail so the last word is not clipped.
func (p *OpusPacedPlayer) FlushTail() {
	p.mu.Lock()
	defer p.mu.Unlock()
	opusBuf := make([]byte, 4000)
	if len(p.pcmBuf) > 0 {
		pad := make([]int16, p.frameSamples)
		copy(pad, p.pcmBuf)
		n, _ := p.enc.Encode(pad, opusBuf)
		if n > 0 {
			pkt := make([]byte, n)
			copy(pkt, opusBuf[:n])
			p.pushFrame(pkt)
		}
		p.pcmBuf = p.pcmBuf[:0]
	}
	silence := make([]int16, p.frameSamples)
	for i := 0; i < 10; i++ {
		n, _ := p.enc.Encode(silence, opusBuf)
		if n > 0 {
			pkt := make([]byte, n)
			copy(pkt, opusBuf[:n])
			p.pushFrame(pkt)
		}
	}
}

// Reset drops any queued frames so a superseding question starts cleanly.
func (p *OpusPacedPlayer) Reset() {
	p.mu.Lock()
	for {
		select {
		case <-p.frames:
		default:
			p.pcmBuf = p.pcmBuf[:0]
			p.mu.Unlock()
			return
		}
	}
}

// Close stops the pacer.
func (p *OpusPacedPlayer) Close() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stopCh)
	}
	p.mu.Unlock()
}

func (p *OpusPacedPlayer) pacer() {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			select {
			case frame := <-p.frames:
				_ = p.sink.WriteFrame(frame)
			default:
			}
		}
	}
}

func (p *OpusPacedPlayer) pushFrame(pkt []byte) {
	for {
		select {
		case <-p.stopCh:
			return
		case p.frames <- pkt:
			return
		}
	}
}
