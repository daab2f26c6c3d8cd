package preview

import (
	"strings"
	"time"
)

// Activity lights up when the watched file changes and fades over time.
type Activity struct {
	dots    int
	changed time.Time
}

func (a *Activity) OnChange(at time.Time) {
	a.dots = 5
	a.changed = at
}

// Decay fades the dots based on time since the last change.
func (a *Activity) Decay(now time.Time) {
	if a.dots == 0 {
		return
	}
	elapsed := now.Sub(a.changed)
	switch {
	case elapsed > 10*time.Second:
		a.dots = 0
	case elapsed > 8*time.Second:
		a.dots = 1
	case elapsed > 6*time.Second:
		a.dots = 2
	case elapsed > 4*time.Second:
		a.dots = 3
	case elapsed > 2*time.Second:
		a.dots = 4
	}
}

func (a Activity) Render(theme Theme) string {
	var b strings.Builder
	for i := range 5 {
		if i < a.dots {
			b.WriteString(theme.DotActive.Render("●"))
		} else {
			b.WriteString(theme.DotInactive.Render("○"))
		}
	}
	return b.String()
}

func (a Activity) Changed() time.Time {
	return a.changed
}
