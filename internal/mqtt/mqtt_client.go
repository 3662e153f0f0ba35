package mqtt

import (
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// NewClient builds an auto-reconnecting client without connecting it.
// onConnect runs after every (re)connect, which is where subscriptions are
// restored.
func NewClient(broker, clientID string, onConnect func(MQTT.Client)) MQTT.Client {
	logger := log.With().Str("component", "mqtt").Logger()
	opts := MQTT.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetCleanSession(false).
		SetOrderMatters(false).
		SetConnectionLostHandler(func(_ MQTT.Client, err error) {
			logger.Warn().Err(err).Msg("connection lost")
		}).
		SetOnConnectHandler(func(c MQTT.Client) {
			logger.Info().Str("broker", broker).Msg("connected")
			if onConnect != nil {
				onConnect(c)
			}
		})
	return MQTT.NewClient(opts)
}

// Connect waits up to timeout for the first connection
func Connect(c MQTT.Client, timeout time.Duration) error {
	token := c.Connect()
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt connect: timed out after %s", timeout)
	}
	return token.Error()
}
