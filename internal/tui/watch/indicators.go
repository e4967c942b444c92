package watch

import (
	"strings"
	"time"
)

// Pulse lights up when live events arrive and fades over ten seconds.
type Pulse struct {
	lit       int
	lastEvent time.Time
}

const pulseWidth = 5

func (p *Pulse) OnEvent(at time.Time) {
	p.lit = pulseWidth
	p.lastEvent = at
}

// Decay dims one dot for every two seconds without events.
func (p *Pulse) Decay(now time.Time) {
	if p.lit == 0 {
		return
	}
	left := pulseWidth - int(now.Sub(p.lastEvent)/(2*time.Second))
	p.lit = max(left, 0)
}

func (p Pulse) Lit() int { return p.lit }

func (p Pulse) LastEvent() time.Time { return p.lastEvent }

func (p Pulse) Render(theme Theme) string {
	var b strings.Builder
	for i := range pulseWidth {
		if i < p.lit {
			b.WriteString(theme.PulseOn.Render("●"))
		} else {
			b.WriteString(theme.PulseOff.Render("○"))
		}
	}
	return b.String()
}
