// Package audio plays the level-up chime. Audio is optional: without an
// output device the chime stays silent and the game runs unchanged.
package audio

import (
	"math"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"

	"ratcellar.io/internal/sim/game"
)

const sampleRate = beep.SampleRate(44100)

type Chime struct {
	mu          sync.Mutex
	mixer       *beep.Mixer
	initialized bool
	played      int
}

func NewChime() *Chime {
	return &Chime{mixer: &beep.Mixer{}}
}

// Init opens the speaker. Calling it again after success is a no-op.
func (c *Chime) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}
	if err := speaker.Init(sampleRate, sampleRate.N(100*time.Millisecond)); err != nil {
		return err
	}
	speaker.Play(c.mixer)
	c.initialized = true
	return nil
}

// Enabled reports whether the speaker is open.
func (c *Chime) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Played is the number of chimes queued since Init.
func (c *Chime) Played() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.played
}

// Notify plays one chime for the highest level reached in evs.
func (c *Chime) Notify(evs []game.Event) {
	level := 0
	for _, e := range evs {
		if e.Kind == game.EventLeveledUp && e.Level > level {
			level = e.Level
		}
	}
	if level == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return
	}
	speaker.Lock()
	c.mixer.Add(Bell(level))
	speaker.Unlock()
	c.played++
}

func (c *Chime) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return
	}
	speaker.Lock()
	c.mixer.Clear()
	speaker.Unlock()
	speaker.Close()
	c.initialized = false
}

// Bell is a two-note rising chime. Higher levels ring slightly higher.
func Bell(level int) beep.Streamer {
	step := math.Min(float64(level-1), 12)
	base := 659.25 * math.Pow(2, step/24) // E5 upward in quarter tones
	return beep.Seq(
		beep.Take(sampleRate.N(120*time.Millisecond), newTone(base, 0.25)),
		beep.Take(sampleRate.N(380*time.Millisecond), newTone(base*1.5, 0.25)),
	)
}

// tone is a sine with a bell-like exponential decay.
type tone struct {
	freq float64
	amp  float64
	pos  int
}

func newTone(freq, amp float64) *tone {
	return &tone{freq: freq, amp: amp}
}

func (t *tone) Stream(samples [][2]float64) (n int, ok bool) {
	for i := range samples {
		sec := float64(t.pos) / float64(sampleRate)
		attack := math.Min(sec/0.005, 1)
		v := t.amp * attack * math.Exp(-sec*6) * math.Sin(2*math.Pi*t.freq*sec)
		samples[i][0] = v
		samples[i][1] = v
		t.pos++
	}
	return len(samples), true
}

func (t *tone) Err() error { return nil }
