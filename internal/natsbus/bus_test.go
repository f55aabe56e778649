package natsbus

import (
	"testing"

	"github.com/stretchr/testify/require"

	"shelly-dtu/internal/schema"
	"shelly-dtu/internal/shelly"
)

func TestSubjects(t *testing.T) {
	require.Equal(t, "shelly-dtu.livedata", LiveDataSubject("shelly-dtu"))
	require.Equal(t, "home.pv.shelly.plugs_power", ShellySubject("home.pv", "plugs_power"))
}

func TestDisabledBus(t *testing.T) {
	b, err := New(Config{})
	require.NoError(t, err)
	require.False(t, b.IsConnected())
	require.NoError(t, b.PublishLiveData(&schema.LiveData{}))
	require.NoError(t, b.PublishShelly(shelly.Values{Limit: 100}))
	b.Close()
}
