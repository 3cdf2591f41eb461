package events

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, SubjectReportSybil, SubjectFor("Sybil Attack"))
	assert.Equal(t, SubjectReportPosition, SubjectFor("Position Falsification"))
	assert.Equal(t, "forensics.report.unknown", SubjectFor("anything else"))
}

func TestPublisherNilConnection(t *testing.T) {
	p := NewPublisher(nil, zerolog.Nop())

	assert.False(t, p.Connected())
	// Must be a no-op, not a panic
	p.PublishReport(SubjectReportSybil, ReportEvent{ReportID: "SYBIL_1"})
}
