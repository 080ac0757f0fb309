package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/docease/telecare/cli/internal/config"
	"github.com/docease/telecare/cli/internal/signaling"
)

const joinTimeout = 10 * time.Second

var errNoParticipant = errors.New("participant id is required (--as or TELECARE_PARTICIPANT)")

// ConnectionContext is a relay connection joined to one appointment.
type ConnectionContext struct {
	Client  *signaling.Client
	Handler *signaling.Handler
	Config  *config.Config

	AppointmentID string
	// Peers is the number of other members present when we joined.
	Peers int
}

// NewConnectionContext connects to the relay of cfg and starts routing
// its messages.
func NewConnectionContext(ctx context.Context, cfg *config.Config) (*ConnectionContext, error) {
	client := signaling.NewClient(cfg.WebSocketURL())
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to server: %w", err)
	}

	handler := signaling.NewHandler(client)
	go handler.Start()

	return &ConnectionContext{
		Client:  client,
		Handler: handler,
		Config:  cfg,
	}, nil
}

// Join registers in the appointment's room and waits for the relay to
// acknowledge it.
func (c *ConnectionContext) Join(ctx context.Context, appointmentID string) error {
	if err := c.Client.Join(appointmentID, c.Config.ParticipantID); err != nil {
		return fmt.Errorf("join appointment: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, joinTimeout)
	defer cancel()

	select {
	case msg := <-c.Handler.Joined:
		c.AppointmentID = appointmentID
		c.Peers = msg.Peers
		return nil
	case serverErr := <-c.Handler.Error:
		return fmt.Errorf("join appointment: %w", serverErr)
	case <-c.Handler.Done:
		return fmt.Errorf("join appointment: %w", signaling.ErrClosed)
	case <-ctx.Done():
		return fmt.Errorf("join appointment: %w", ctx.Err())
	}
}

func (c *ConnectionContext) Close() {
	if c.Client != nil {
		c.Client.Close()
	}
}

// LoadConfig loads the configuration from the global flags.
func LoadConfig(needParticipant bool) (*config.Config, error) {
	cfg, err := config.Load(configOptions())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if needParticipant && cfg.ParticipantID == "" {
		return nil, errNoParticipant
	}
	return cfg, nil
}

// secureOrigin reports whether media capture is allowed against server:
// https, or plain http to a loopback host.
func secureOrigin(server string) bool {
	u, err := url.Parse(server)
	if err != nil {
		return false
	}
	if u.Scheme == "https" {
		return true
	}
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
