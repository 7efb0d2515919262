package notify

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/zalando/go-keyring"

	"github.com/stackpilot/stackpilot/pkg/engine"
)

// Kinds lists every notification kind a handler can be registered for.
var Kinds = []engine.NotificationKind{
	engine.NotifyRelease,
	engine.NotifyInstanceUp,
	engine.NotifyInstanceDown,
}

// Message is a rendered notification handed to a Handler.
type Message struct {
	Kind   engine.NotificationKind
	Text   string
	Status engine.NotificationStatus
	Fields engine.Manifest
}

// Handler delivers a message to one channel.
type Handler func(ctx context.Context, msg Message) error

// Service routes notifications to the handler registered for their kind and
// falls back to the console when none is registered. It implements
// engine.Notifier.
type Service struct {
	// AppName prefixes every message.
	AppName string

	mu       sync.RWMutex
	handlers map[engine.NotificationKind]Handler
	console  engine.Reporter
	events   engine.EventRecorder
	logger   zerolog.Logger
}

var _ engine.Notifier = (*Service)(nil)

// NewService creates a service with no handlers. console may be nil, in which
// case unrouted notifications are only logged.
func NewService(appName string, console engine.Reporter, logger zerolog.Logger) *Service {
	return &Service{
		AppName:  appName,
		handlers: make(map[engine.NotificationKind]Handler),
		console:  console,
		logger:   logger.With().Str("component", "notify").Logger(),
	}
}

// NewFromConfig creates a service with a Slack handler for every kind that
// has a webhook in cfg or in the keyring.
func NewFromConfig(cfg Config, appName string, console engine.Reporter, logger zerolog.Logger) (*Service, error) {
	s := NewService(appName, console, logger)

	for _, kind := range Kinds {
		url, err := webhookFor(cfg, kind)
		if err != nil {
			return nil, err
		}
		if url == "" {
			s.logger.Debug().Str("kind", string(kind)).Msg("no webhook configured")
			continue
		}
		hook := &SlackWebhook{
			URL:       url,
			Channel:   cfg.Channel,
			Username:  cfg.Username,
			IconEmoji: cfg.IconEmoji,
			Timeout:   cfg.Timeout,
		}
		s.Register(kind, hook.Send)
	}

	if len(s.Kinds()) == 0 && console != nil {
		console.Warnf("Slack notifications disabled. No webhook configured.")
	}
	return s, nil
}

// webhookFor resolves the webhook URL for kind.
func webhookFor(cfg Config, kind engine.NotificationKind) (string, error) {
	url := cfg.Webhooks[string(kind)]
	if url == "" {
		url = cfg.Webhooks["default"]
	}

	if name, ok := strings.CutPrefix(url, KeyringPrefix); ok {
		service := cfg.KeyringService
		if service == "" {
			service = DefaultKeyringService
		}
		secret, err := keyring.Get(service, name)
		if err != nil {
			return "", engine.NewCredentialsError(fmt.Sprintf("webhook %q not found in keyring", name), err).
				WithResource(string(kind))
		}
		return secret, nil
	}
	if url != "" || cfg.KeyringService == "" {
		return url, nil
	}

	// Unconfigured kinds may still have a webhook stored under their own name.
	secret, err := keyring.Get(cfg.KeyringService, string(kind))
	if err != nil {
		return "", nil
	}
	return secret, nil
}

// SetEvents records a notification_sent event for every delivered message.
func (s *Service) SetEvents(events engine.EventRecorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = events
}

// Register installs handler for kind, replacing any previous one.
func (s *Service) Register(kind engine.NotificationKind, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = handler
}

// Kinds returns the kinds with a registered handler, sorted.
func (s *Service) Kinds() []engine.NotificationKind {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kinds := make([]engine.NotificationKind, 0, len(s.handlers))
	for k := range s.handlers {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Notify implements engine.Notifier.
func (s *Service) Notify(ctx context.Context, n engine.Notification) error {
	msg := Message{
		Kind:   n.Kind,
		Text:   s.text(n.Title),
		Status: n.Status,
		Fields: n.Manifest,
	}

	s.mu.RLock()
	handler, ok := s.handlers[n.Kind]
	events := s.events
	s.mu.RUnlock()

	if !ok {
		s.printConsole(msg)
		return nil
	}

	if err := handler(ctx, msg); err != nil {
		s.printConsole(msg)
		return fmt.Errorf("failed to deliver %s notification: %w", n.Kind, err)
	}

	s.logger.Debug().Str("kind", string(n.Kind)).Str("status", string(n.Status)).Msg("notification sent")
	if events != nil {
		events.Record(ctx, "notification_sent", msg.Text, map[string]any{
			"kind":   string(n.Kind),
			"status": string(n.Status),
		})
	}
	return nil
}

func (s *Service) text(title string) string {
	if s.AppName == "" {
		return title
	}
	return s.AppName + ": " + title
}

func (s *Service) printConsole(msg Message) {
	if s.console == nil {
		s.logger.Info().Str("kind", string(msg.Kind)).Msg(msg.Text)
		return
	}
	s.console.Infof("%s", msg.Text)
	if len(msg.Fields) > 0 {
		s.console.Block("Manifest", msg.Fields.String())
	}
}
