package notification

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"savitAPI/internal/types/notification"
)

// Sender is the subset of the messaging client the push provider needs.
type Sender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type FCMService struct {
	client Sender
}

// NewFCMService prefers base64 credentials from FCM_SERVICE_ACCOUNT_JSON and
// falls back to the service account file at credentialsFile.
func NewFCMService(ctx context.Context, credentialsFile string) (*FCMService, error) {
	var opt option.ClientOption

	if encoded := os.Getenv("FCM_SERVICE_ACCOUNT_JSON"); encoded != "" {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("failed to decode FCM_SERVICE_ACCOUNT_JSON: %w", err)
		}
		opt = option.WithCredentialsJSON(decoded)
		log.Println("FCM: using credentials from FCM_SERVICE_ACCOUNT_JSON")
	} else {
		if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("firebase credentials file %s not found and FCM_SERVICE_ACCOUNT_JSON is not set", credentialsFile)
		}
		opt = option.WithCredentialsFile(credentialsFile)
		log.Printf("FCM: using credentials file %s", credentialsFile)
	}

	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get messaging client: %w", err)
	}

	return &FCMService{client: client}, nil
}

// NewFCMServiceWithSender wires an already built client.
func NewFCMServiceWithSender(sender Sender) *FCMService {
	return &FCMService{client: sender}
}

// SendPush sends one message per token. /batch is not used since the legacy
// endpoint returns 404. Partial failure counts as success.
func (s *FCMService) SendPush(ctx context.Context, tokens []notification.DeviceToken, title, body string, data map[string]any) error {
	if len(tokens) == 0 {
		return nil
	}

	stringData := make(map[string]string, len(data))
	for k, v := range data {
		stringData[k] = fmt.Sprintf("%v", v)
	}

	sent, failed := 0, 0
	for _, t := range tokens {
		_, err := s.client.Send(ctx, buildMessage(t, title, body, stringData))
		if err != nil {
			log.Printf("FCM: failed to send to %s token: %v", platformOf(t), err)
			failed++
			continue
		}
		sent++
	}

	log.Printf("FCM: sent %d messages, %d failed", sent, failed)

	if sent == 0 && failed > 0 {
		return fmt.Errorf("all %d push notifications failed", failed)
	}
	return nil
}

func buildMessage(t notification.DeviceToken, title, body string, data map[string]string) *messaging.Message {
	msg := &messaging.Message{
		Token: t.Token,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: data,
	}

	switch platformOf(t) {
	case "ios":
		msg.APNS = &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: "default"},
			},
		}
	default:
		msg.Android = &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound: "default",
			},
		}
	}
	return msg
}

func platformOf(t notification.DeviceToken) string {
	if t.Platform == "" {
		return "android"
	}
	return t.Platform
}
