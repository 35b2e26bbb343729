package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPacerTracksWeightFromHeader(t *testing.T) {
	p := NewPacer(10, 5, 100, time.Minute)

	p.UpdateFromHeader("42")
	used, limit := p.Usage()
	assert.Equal(t, 42, used)
	assert.Equal(t, 100, limit)

	// Venue reports are absolute, not additive.
	p.UpdateFromHeader("57")
	used, _ = p.Usage()
	assert.Equal(t, 57, used)
}

func TestPacerIgnoresMalformedHeader(t *testing.T) {
	p := NewPacer(10, 5, 100, time.Minute)

	p.UpdateFromHeader("")
	p.UpdateFromHeader("not-a-number")

	used, _ := p.Usage()
	assert.Zero(t, used)
}
