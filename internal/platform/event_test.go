package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvent_Names(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{RegionEntered{Identifier: "a"}, "region_entered"},
		{RegionExited{Identifier: "a"}, "region_exited"},
		{MonitoringStarted{Identifier: "a"}, "monitoring_started"},
		{MonitoringFailed{Identifier: "a"}, "monitoring_failed"},
		{LocationsUpdated{}, "locations_updated"},
		{LocationFailed{}, "location_failed"},
		{AuthorizationChanged{}, "authorization_changed"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.event.Name())
		})
	}
}

func TestSinkFunc_Delivers(t *testing.T) {
	var got []Event
	sink := SinkFunc(func(e Event) bool {
		got = append(got, e)
		return true
	})

	assert.True(t, sink.Deliver(RegionEntered{Identifier: "home"}))
	assert.Equal(t, []Event{RegionEntered{Identifier: "home"}}, got)
}
