// Package mqtt carries the scale channels over an MQTT broker.
//
// Published (QoS 0): <prefix>/weight, <prefix>/battery, <prefix>/status.
// Subscribed: <prefix>/tare, <prefix>/calibrate, <prefix>/settings.
// Payloads are the raw channel payloads.
package mqtt

import (
	"errors"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/djamfikr7/ble32/pkg/packet"
	"github.com/djamfikr7/ble32/pkg/transport"
)

const DefaultTopicPrefix = "scale"

var ErrNotConnected = errors.New("mqtt connection is unavailable")

type Options struct {
	Broker      string
	TopicPrefix string
	ClientID    string
	Username    string
	Password    string
}

// publisher is the part of paho.Client the sink uses.
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Client publishes scale channels and runs commands received on the command
// topics. It implements transport.Sink.
type Client struct {
	prefix string
	cmd    transport.Commander

	client publisher
	paho   paho.Client

	connectTimeout   time.Duration
	subscribeTimeout time.Duration
}

var _ transport.Sink = (*Client)(nil)

// Connect connects to the broker. Reconnects are handled by paho; command
// topics are subscribed again on every connect.
func Connect(opts Options, cmd transport.Commander) (*Client, error) {
	if opts.Broker == "" {
		return nil, errors.New("no mqtt broker configured")
	}
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = DefaultTopicPrefix
	}
	if opts.ClientID == "" {
		opts.ClientID = "scale-" + uuid.NewString()
	}

	c := &Client{
		prefix:           strings.TrimSuffix(opts.TopicPrefix, "/"),
		cmd:              cmd,
		connectTimeout:   5 * time.Second,
		subscribeTimeout: 3 * time.Second,
	}

	cfg := paho.NewClientOptions()
	cfg.AddBroker(opts.Broker)
	cfg.SetClientID(opts.ClientID)
	cfg.SetCleanSession(true)
	cfg.SetProtocolVersion(4)
	cfg.SetKeepAlive(30 * time.Second)
	cfg.SetAutoReconnect(true)
	cfg.SetConnectRetry(true)
	cfg.SetMaxReconnectInterval(10 * time.Second)
	if opts.Username != "" {
		cfg.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		cfg.SetPassword(opts.Password)
	}
	cfg.SetOnConnectHandler(c.onConnect)
	cfg.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logrus.WithError(err).Warn("mqtt connection lost")
	})

	c.paho = paho.NewClient(cfg)
	c.client = c.paho

	token := c.paho.Connect()
	if !token.WaitTimeout(c.connectTimeout) {
		// ConnectRetry keeps trying in the background.
		logrus.WithField("broker", opts.Broker).Warn("mqtt connect timed out, retrying in background")
	} else if err := token.Error(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) onConnect(pc paho.Client) {
	logrus.WithField("prefix", c.prefix).Info("mqtt connected")
	if c.cmd == nil {
		return
	}
	for _, ch := range []packet.Channel{packet.ChannelTare, packet.ChannelCalibrate, packet.ChannelSettings} {
		topic := c.Topic(ch)
		token := pc.Subscribe(topic, 0, func(_ paho.Client, msg paho.Message) {
			c.handleMessage(msg.Topic(), msg.Payload())
		})
		if !token.WaitTimeout(c.subscribeTimeout) {
			logrus.WithField("topic", topic).Warn("mqtt subscribe timed out")
		} else if err := token.Error(); err != nil {
			logrus.WithError(err).WithField("topic", topic).Warn("mqtt subscribe failed")
		}
	}
}

func (c *Client) handleMessage(topic string, payload []byte) {
	name := strings.TrimPrefix(topic, c.prefix+"/")
	ch, ok := packet.ParseChannel(name)
	if !ok {
		logrus.WithField("topic", topic).Debug("ignoring message on unknown topic")
		return
	}
	transport.HandleWrite(c.cmd, ch, payload, "mqtt")
}

// Topic returns the topic of a channel.
func (c *Client) Topic(ch packet.Channel) string {
	return c.prefix + "/" + ch.String()
}

func (c *Client) SendWeight(report [packet.Size]byte) error {
	return c.publish(packet.ChannelWeight, report[:])
}

func (c *Client) SendBattery(percent uint8) error {
	return c.publish(packet.ChannelBattery, []byte{percent})
}

func (c *Client) SendStatus(status string) error {
	return c.publish(packet.ChannelStatus, []byte(status))
}

// publish does not wait for the token; QoS 0 has nothing to wait for.
func (c *Client) publish(ch packet.Channel, payload []byte) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}
	c.client.Publish(c.Topic(ch), 0, false, payload)
	return nil
}

// Close disconnects, waiting up to 300ms for in-flight work.
func (c *Client) Close() {
	if c.paho != nil && c.paho.IsConnected() {
		c.paho.Disconnect(300)
	}
}
