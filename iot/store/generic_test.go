package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/awsiot/iot/greengrass"
	"github.com/relabs-tech/awsiot/iot/store"
)

func testData() *greengrass.DiscoveryCallbackData {
	return &greengrass.DiscoveryCallbackData{
		Groups: []greengrass.Core{{
			Info: greengrass.CoreInfo{
				GroupID:           "group-1",
				ThingArn:          "arn:aws:iot:eu-central-1:123456789012:thing/core-1",
				RootCACertificate: "-----BEGIN CERTIFICATE-----\nMIIB\n-----END CERTIFICATE-----\n",
				RootCALength:      54,
				Connections: []greengrass.Connection{
					{Info: greengrass.ConnectionInfo{Metadata: "eth0", IPAddress: "10.0.0.1", Port: 8883}},
				},
			},
		}},
	}
}

// testDriver runs the same checks on every driver
func testDriver(t *testing.T, driver store.Driver) {
	ctx := context.Background()
	thing := "thing/" + t.Name()

	_, _, err := driver.Load(ctx, thing)
	require.ErrorIs(t, err, store.ErrNotFound)

	before := time.Now().Add(-time.Second)
	require.NoError(t, driver.Save(ctx, thing, testData()))

	data, savedAt, err := driver.Load(ctx, thing)
	require.NoError(t, err)
	assert.Equal(t, testData(), data)
	assert.True(t, savedAt.After(before), "saved at %s", savedAt)

	updated := testData()
	updated.Groups[0].Info.Connections[0].Info.Port = 8884
	require.NoError(t, driver.Save(ctx, thing, updated))
	data, _, err = driver.Load(ctx, thing)
	require.NoError(t, err)
	assert.Equal(t, 8884, data.Groups[0].Info.Connections[0].Info.Port)

	require.NoError(t, driver.Delete(ctx, thing))
	_, _, err = driver.Load(ctx, thing)
	require.ErrorIs(t, err, store.ErrNotFound)

	assert.Error(t, driver.Save(ctx, "", testData()))
}
