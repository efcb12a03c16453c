package notifications

import (
	"context"
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/pactumai/pactum/internal/store"
)

// APNsConfig holds configuration for Apple Push Notification service
type APNsConfig struct {
	KeyPath    string // Path to .p8 key file
	KeyID      string // Key ID from Apple Developer Portal
	TeamID     string // Team ID from Apple Developer Portal
	BundleID   string // App bundle ID
	Production bool   // Use production environment
}

// APNsClient sends push notifications via Apple Push Notification service
type APNsClient struct {
	client   *apns2.Client
	bundleID string
	logger   *log.Logger
	mu       sync.Mutex
}

// NewAPNsClient creates a new APNs client. It returns nil, nil when the
// configuration is incomplete; a nil client ignores every send.
func NewAPNsClient(cfg APNsConfig, logger *log.Logger) (*APNsClient, error) {
	if cfg.KeyPath == "" || cfg.KeyID == "" || cfg.TeamID == "" || cfg.BundleID == "" {
		logger.Println("APNs: missing configuration, push notifications disabled")
		return nil, nil
	}

	keyBytes, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read APNs key file: %w", err)
	}
	ecdsaKey, err := parseAuthKey(keyBytes)
	if err != nil {
		return nil, err
	}

	authToken := &token.Token{
		AuthKey: ecdsaKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	var client *apns2.Client
	if cfg.Production {
		client = apns2.NewTokenClient(authToken).Production()
	} else {
		client = apns2.NewTokenClient(authToken).Development()
	}

	logger.Printf("APNs: client initialized (production=%v, bundle=%s)", cfg.Production, cfg.BundleID)
	return newAPNsClient(client, cfg.BundleID, logger), nil
}

func newAPNsClient(client *apns2.Client, bundleID string, logger *log.Logger) *APNsClient {
	return &APNsClient{
		client:   client,
		bundleID: bundleID,
		logger:   logger,
	}
}

func parseAuthKey(keyBytes []byte) (*ecdsa.PrivateKey, error) {
	block, _ := pem.Decode(keyBytes)
	if block == nil {
		return nil, fmt.Errorf("failed to decode APNs key PEM block")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs key: %w", err)
	}
	ecdsaKey, ok := key.(*ecdsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("APNs key is not an ECDSA private key")
	}
	return ecdsaKey, nil
}

func (c *APNsClient) push(kind, deviceToken string, p *payload.Payload) error {
	if c == nil || c.client == nil {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	notification := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       c.bundleID,
		Payload:     p,
		Expiration:  time.Now().Add(24 * time.Hour),
	}

	res, err := c.client.Push(notification)
	if err != nil {
		c.logger.Printf("APNs: failed to send %s: %v", kind, err)
		return err
	}

	if res.StatusCode != 200 {
		c.logger.Printf("APNs: %s rejected (status=%d, reason=%s)", kind, res.StatusCode, res.Reason)
		return fmt.Errorf("APNs rejected notification: %s", res.Reason)
	}

	c.logger.Printf("APNs: %s sent to %s...", kind, tokenPrefix(deviceToken))
	return nil
}

// SendSummaryReady tells the user that a finished meeting's transcript was saved.
func (c *APNsClient) SendSummaryReady(deviceToken, meetingID, meetingName string) error {
	p := payload.NewPayload().
		AlertTitle("Meeting summary saved").
		AlertBody(fmt.Sprintf("The transcript of %q is ready.", meetingName)).
		Sound("default").
		Custom("notification_type", "summary_ready").
		Custom("meeting_id", meetingID)
	return c.push("summary notification", deviceToken, p)
}

// SendInsightsReady tells the user that financial insights were generated.
func (c *APNsClient) SendInsightsReady(deviceToken, meetingID string, topics []string) error {
	body := "No financial topics were detected."
	if len(topics) > 0 {
		body = "Topics: " + strings.Join(topics, ", ")
	}
	p := payload.NewPayload().
		AlertTitle("Financial insights ready").
		AlertBody(body).
		Sound("default").
		Custom("notification_type", "insights_ready").
		Custom("meeting_id", meetingID).
		Custom("topic_count", len(topics))
	return c.push("insights notification", deviceToken, p)
}

func tokenPrefix(t string) string {
	if len(t) > 16 {
		return t[:16]
	}
	return t
}

// TokenStore looks up a user's registered devices.
type TokenStore interface {
	GetUserPushTokens(ctx context.Context, userID string) ([]store.DevicePushToken, error)
}

// Pusher fans notifications out to every device of a user.
type Pusher struct {
	apns   *APNsClient
	tokens TokenStore
	logger *log.Logger
}

// NewPusher creates a Pusher. A nil APNs client makes every call a no-op.
func NewPusher(apns *APNsClient, tokens TokenStore, logger *log.Logger) *Pusher {
	return &Pusher{apns: apns, tokens: tokens, logger: logger}
}

func (p *Pusher) each(ctx context.Context, userID string, send func(deviceToken string) error) {
	if p == nil || p.apns == nil || p.tokens == nil {
		return
	}
	tokens, err := p.tokens.GetUserPushTokens(ctx, userID)
	if err != nil {
		p.logger.Printf("push: failed to load tokens for user %s: %v", userID, err)
		return
	}
	for _, t := range tokens {
		if err := send(t.Token); err != nil {
			p.logger.Printf("push: device %s...: %v", tokenPrefix(t.Token), err)
		}
	}
}

// NotifySummaryReady pushes a summary-saved notification to all of the user's devices.
func (p *Pusher) NotifySummaryReady(ctx context.Context, userID, meetingID, meetingName string) {
	p.each(ctx, userID, func(deviceToken string) error {
		return p.apns.SendSummaryReady(deviceToken, meetingID, meetingName)
	})
}

// NotifyInsightsReady pushes an insights-ready notification to all of the user's devices.
func (p *Pusher) NotifyInsightsReady(ctx context.Context, userID, meetingID string, topics []string) {
	p.each(ctx, userID, func(deviceToken string) error {
		return p.apns.SendInsightsReady(deviceToken, meetingID, topics)
	})
}
