// Package mqtt publishes attendance events to an MQTT broker so that home
// automation or monitoring systems can react to them.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"attendance-go/config"
)

// Client wraps the paho MQTT client. A disabled client is valid and all its
// publish operations are silent no-ops.
type Client struct {
	config      config.MQTTConfig
	client      mqtt.Client
	isConnected bool
}

// NewClient creates a new MQTT client. Call Start to connect.
func NewClient(cfg config.MQTTConfig) *Client {
	return &Client{config: cfg}
}

// Start connects the client to the broker. With MQTT disabled in the
// configuration it returns immediately.
func (c *Client) Start() error {
	if !c.config.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(c.config.ClientID)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetOnConnectHandler(c.onConnectHandler)
	opts.SetConnectionLostHandler(c.connectionLostHandler)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	c.client = mqtt.NewClient(opts)
	log.Infof("Connecting to MQTT broker at %s", brokerURL)

	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// Stop disconnects the client from the broker.
func (c *Client) Stop() {
	if c.client != nil && c.client.IsConnected() {
		log.Info("Disconnecting from MQTT broker")
		c.client.Disconnect(250)
	}
	c.isConnected = false
}

// IsConnected reports whether the client currently has a broker connection.
func (c *Client) IsConnected() bool {
	return c.isConnected && c.client != nil && c.client.IsConnected()
}

func (c *Client) onConnectHandler(client mqtt.Client) {
	log.Info("Connected to MQTT broker")
	c.isConnected = true
}

func (c *Client) connectionLostHandler(client mqtt.Client, err error) {
	log.Warnf("Lost connection to MQTT broker: %v", err)
	c.isConnected = false
}

// attendanceMessage is the JSON payload published for each attendance event.
type attendanceMessage struct {
	Student    string    `json:"student"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	Timestamp  time.Time `json:"timestamp"`
}

// PublishAttendance publishes an attendance event to the configured topic.
func (c *Client) PublishAttendance(student string, confidence float64, source string) error {
	if !c.config.Enabled {
		return nil
	}
	if !c.IsConnected() {
		return fmt.Errorf("MQTT client not connected")
	}

	payload, err := json.Marshal(attendanceMessage{
		Student:    student,
		Confidence: confidence,
		Source:     source,
		Timestamp:  time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal attendance message: %w", err)
	}

	token := c.client.Publish(c.config.Topic, 0, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish attendance message: %w", token.Error())
	}
	log.Debugf("Published attendance event for %s to %s", student, c.config.Topic)
	return nil
}
