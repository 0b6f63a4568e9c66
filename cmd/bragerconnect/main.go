// Command bragerconnect keeps a session with the BragerConnect cloud open and,
// when MQTT is enabled, republishes device data to a broker.
//
// Configuration is read from configs/config.yaml, or from the file named by
// BRAGER_CONFIG. Secrets may be supplied through BRAGER_* variables.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/marpi82/bragerconnect/internal/bridge"
	"github.com/marpi82/bragerconnect/internal/config"
	"github.com/marpi82/bragerconnect/internal/connection"
	"github.com/marpi82/bragerconnect/internal/logging"
)

// Set at build time via -ldflags "-X main.version=...".
var version = "dev"

const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	log := logging.Default()

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("starting bragerconnect", "version", version, "config", configPath)

	conn := newConnection(cfg, log)
	conn.OnConnected = func() {
		log.Info("session ready", "devid", conn.ActiveDeviceID())
	}
	conn.OnDisconnected = func(err error) {
		log.Warn("session lost", "error", err)
	}

	if err := conn.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Brager.URL, err)
	}
	defer func() {
		info := conn.Info()
		log.Info("closing connection",
			"sent", info.MessagesSent,
			"received", info.MessagesReceived,
			"reconnects", info.ReconnectCount,
			"online", info.TimeOnline(),
		)
		if closeErr := conn.Close(); closeErr != nil {
			log.Error("error closing connection", "error", closeErr)
		}
	}()

	if err := selectDevice(ctx, conn, cfg.Brager.ActiveDevice, log); err != nil {
		return err
	}

	if !cfg.MQTT.Enabled {
		log.Info("mqtt disabled, holding session open")
		<-ctx.Done()
		return nil
	}

	pub, err := bridge.DialMQTT(cfg.MQTT, log)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := pub.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	b := bridge.New(conn, pub, bridge.Options{
		TopicPrefix:  cfg.MQTT.TopicPrefix,
		QoS:          byte(cfg.MQTT.QoS),
		PollInterval: cfg.GetPollInterval(),
		Logger:       log,
	})
	return b.Run(ctx)
}

func newConnection(cfg *config.Config, log *slog.Logger) *connection.Connection {
	return connection.New(connection.Config{
		URL:       cfg.Brager.URL,
		Username:  cfg.Brager.Username,
		Password:  cfg.Brager.Password,
		Language:  cfg.Brager.Language,
		Timeout:   cfg.GetTimeout(),
		Reconnect: cfg.Brager.Reconnect,
	},
		connection.WithLogger(log),
		connection.WithPingInterval(cfg.GetPingInterval()),
		connection.WithRateLimit(cfg.Brager.RateLimit, cfg.Brager.RateBurst),
	)
}

// selectDevice logs the account's devices and switches to want if it is set
// and differs from the server's current choice.
func selectDevice(ctx context.Context, conn *connection.Connection, want string, log *slog.Logger) error {
	devices, err := conn.GetMyDeviceIDList(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	for _, d := range devices {
		log.Info("device", "devid", d.GetFields()["devid"].GetStringValue())
	}

	if want == "" || want == conn.ActiveDeviceID() {
		return nil
	}
	ok, err := conn.SetActiveDeviceID(ctx, want)
	if err != nil {
		return fmt.Errorf("selecting device %s: %w", want, err)
	}
	if !ok {
		return fmt.Errorf("selecting device %s: refused by server", want)
	}
	log.Info("active device selected", "devid", want)
	return nil
}

func getConfigPath() string {
	if path := os.Getenv("BRAGER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
