package main

import (
	"testing"

	"github.com/openmined/driftlink/internal/statusactor"
	"github.com/stretchr/testify/assert"
)

func TestColorizeIcon_UnknownTokenPassesThrough(t *testing.T) {
	assert.Contains(t, colorizeIcon("mystery-icon"), "mystery-icon")
}

func TestColorizeIcon_KnownTokensRoundTrip(t *testing.T) {
	for _, token := range []string{
		statusactor.IconBlueTick,
		statusactor.IconBlueSync,
		statusactor.IconGreenTick,
		statusactor.IconRedCross,
		statusactor.IconGreyDash,
	} {
		assert.Contains(t, colorizeIcon(token), token)
	}
}
