package gateway

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"oracle-mm/order"
)

func TestDryRunGatewayAcksWithoutNetwork(t *testing.T) {
	gw := NewDryRunGateway(nil)
	var _ order.Gateway = gw

	ack, err := gw.Place(context.Background(), order.PlaceRequest{Symbol: "LOAN", Side: order.Buy, Price: 51, Size: 10})
	require.NoError(t, err)
	assert.True(t, ack.Accepted())
	_, err = uuid.Parse(ack.OrderID)
	assert.NoError(t, err)

	require.NoError(t, gw.Cancel(context.Background(), ack.OrderID))
	placed, canceled := gw.Counts()
	assert.Equal(t, 1, placed)
	assert.Equal(t, 1, canceled)
}
