package common

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Hub server configuration struct
// --------------------------------------------------------------------------

// ServerConfig holds all configuration parameters for the hub server.
type ServerConfig struct {
	// Endpoint is the address the HTTP/WebSocket server listens on.
	Endpoint string

	// Codec selects the wire codec ("binary" or "json").
	Codec string

	// Room lifecycle parameters
	GracePeriodSec     int // idle room eviction delay after the last disconnect
	PresenceTimeoutSec int // stale presence records are swept after this
	SendQueueSize      int // per-session outbound queue bound

	// StrictRooms rejects connections to rooms whose project id is not
	// present in the project store.
	StrictRooms bool

	// Collaborator endpoints. Empty values select in-memory fallbacks.
	DatabaseURL string // Postgres project store
	RedisAddr   string // cross-node update bridge
	DataDir     string // bbolt snapshot store directory

	// AssetBucketURL is the base URL under which upload targets are issued.
	AssetBucketURL string

	// Logging configuration
	LogLevel string
}

// GracePeriod returns the idle eviction delay as a duration.
func (c *ServerConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSec) * time.Second
}

// PresenceTimeout returns the presence sweep age as a duration.
func (c *ServerConfig) PresenceTimeout() time.Duration {
	return time.Duration(c.PresenceTimeoutSec) * time.Second
}

// String returns a formatted string representation of the configuration.
func (c *ServerConfig) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Hub Server")
	addField("Endpoint", c.Endpoint)
	addField("Codec", c.Codec)
	addField("Strict Rooms", strconv.FormatBool(c.StrictRooms))

	addSection("Rooms")
	addField("Grace Period", fmt.Sprintf("%d sec", c.GracePeriodSec))
	addField("Presence Timeout", fmt.Sprintf("%d sec", c.PresenceTimeoutSec))
	addField("Send Queue Size", strconv.Itoa(c.SendQueueSize))

	addSection("Collaborators")
	addField("Project Store", orMemory(c.DatabaseURL))
	addField("Snapshot Store", orMemory(c.DataDir))
	addField("Update Bridge", orNone(c.RedisAddr))
	addField("Asset Bucket", c.AssetBucketURL)

	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}

func orMemory(s string) string {
	if s == "" {
		return "(in-memory)"
	}
	return s
}

func orNone(s string) string {
	if s == "" {
		return "(disabled)"
	}
	return s
}

// --------------------------------------------------------------------------
// Hub client configuration struct
// --------------------------------------------------------------------------

// ClientConfig holds the configuration of the Go client.
type ClientConfig struct {
	// Endpoint is the base URL of the hub server (e.g. ws://localhost:3000).
	Endpoint string
	// ProjectID selects the room to join.
	ProjectID string
	// ClientID is the actor identity used for local edits. A random id is
	// generated when empty.
	ClientID string

	TimeoutSecond int
	RetryCount    int
}

// String returns a formatted string representation of the client
// configuration.
func (c *ClientConfig) String() string {
	var sb strings.Builder

	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	addSection("Client Configuration")
	addField("Endpoint", c.Endpoint)
	addField("Project", c.ProjectID)
	addField("Client ID", c.ClientID)
	addField("Timeout", fmt.Sprintf("%d sec", c.TimeoutSecond))
	addField("Retry Count", strconv.Itoa(c.RetryCount))

	return sb.String()
}
