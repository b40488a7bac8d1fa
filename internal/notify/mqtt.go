package notify

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"go.uber.org/zap"
)

// MQTTConfig holds broker connection settings
type MQTTConfig struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	KeepAlive      uint16
	ConnectTimeout time.Duration
}

// DialMQTT starts an auto-reconnecting MQTT connection and waits for the
// first successful connect or ctx expiry.
func DialMQTT(ctx context.Context, cfg MQTTConfig, logger *zap.Logger) (*autopaho.ConnectionManager, error) {
	brokerURL, err := url.Parse(cfg.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("invalid MQTT broker url: %w", err)
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 30
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:       []*url.URL{brokerURL},
		KeepAlive:        cfg.KeepAlive,
		ConnectTimeout:   cfg.ConnectTimeout,
		ConnectUsername:  cfg.Username,
		ConnectPassword:  []byte(cfg.Password),
		ReconnectBackoff: autopaho.NewConstantBackoff(3 * time.Second),
		OnConnectionUp: func(*autopaho.ConnectionManager, *paho.Connack) {
			logger.Info("mqtt connection established", zap.String("broker", cfg.BrokerURL))
		},
		OnConnectError: func(err error) {
			logger.Warn("mqtt connection failed, retrying", zap.Error(err))
		},
		ClientConfig: paho.ClientConfig{
			ClientID: cfg.ClientID,
			OnClientError: func(err error) {
				logger.Error("mqtt client error", zap.Error(err))
			},
		},
	}

	cm, err := autopaho.NewConnection(context.WithoutCancel(ctx), pahoCfg)
	if err != nil {
		return nil, fmt.Errorf("[MQTT CONNECTION FAILED] cannot start connection to %s: %w", cfg.BrokerURL, err)
	}
	if err := cm.AwaitConnection(ctx); err != nil {
		return nil, fmt.Errorf("[MQTT CONNECTION FAILED] broker %s not reachable: %w", cfg.BrokerURL, err)
	}
	return cm, nil
}
