package fake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hemlockoak/parcelscan/internal/models"
)

func TestClient_Track(t *testing.T) {
	c := New(models.CarrierUPS)

	res, err := c.Track(context.Background(), "1Z5R89390304935982")
	require.NoError(t, err)
	require.NotEmpty(t, res.Status)
	require.NotNil(t, res.EstimatedDelivery)

	// deterministic per number
	again, err := c.Track(context.Background(), "1Z5R89390304935982")
	require.NoError(t, err)
	require.Equal(t, res.Status, again.Status)
}
