package schemas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityRankOrdering(t *testing.T) {
	t.Parallel()

	assert.Greater(t, SeverityCritical.Rank(), SeverityHigh.Rank())
	assert.Greater(t, SeverityHigh.Rank(), SeverityMedium.Rank())
	assert.Greater(t, SeverityMedium.Rank(), SeverityLow.Rank())
	assert.Greater(t, SeverityLow.Rank(), Severity("bogus").Rank(),
		"unknown severities must sort below low")
}

func TestSeverityAutoApplicable(t *testing.T) {
	t.Parallel()

	assert.True(t, SeverityCritical.AutoApplicable())
	assert.True(t, SeverityHigh.AutoApplicable())
	assert.False(t, SeverityMedium.AutoApplicable())
	assert.False(t, SeverityLow.AutoApplicable())
	assert.False(t, Severity("bogus").AutoApplicable())
}
