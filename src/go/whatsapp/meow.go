package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCompanionReg"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"

	"whatsapp-relay/src/go/config"
	"whatsapp-relay/src/go/session"
)

// repairDelay is the pause between an expired pairing session and the next one.
const repairDelay = 5 * time.Second

// MeowEngine is the whatsmeow implementation of Engine. The session is
// persisted in SQLite so a restart reconnects without a new QR scan.
type MeowEngine struct {
	mu       sync.Mutex
	client   *whatsmeow.Client
	logger   *logrus.Logger
	handlers []func(Event)
	cancel   context.CancelFunc
}

func NewMeowEngine(ctx context.Context, dbConfig config.DatabaseConfig, logger *logrus.Logger) (*MeowEngine, error) {
	store.DeviceProps.PlatformType = waCompanionReg.DeviceProps_CHROME.Enum()
	store.SetOSInfo("Windows - Relay", store.GetWAVersion())

	// Ensure database directory exists
	dbDir := filepath.Dir(dbConfig.Path)
	if dbDir != "" && dbDir != "." {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := "file:" + dbConfig.Path + "?_pragma=foreign_keys(1)&_journal_mode=WAL&_busy_timeout=30000"
	container, err := sqlstore.New(ctx, "sqlite", dsn, newEngineLogger(logger, "Database"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	e := &MeowEngine{
		client: whatsmeow.NewClient(deviceStore, newEngineLogger(logger, "WhatsApp")),
		logger: logger,
	}
	e.client.AddEventHandler(e.handleEvent)
	return e, nil
}

// HasExistingSession returns true if there's a stored session that can be used to auto-connect
func (e *MeowEngine) HasExistingSession() bool {
	return e.client.Store != nil && e.client.Store.ID != nil
}

func (e *MeowEngine) Subscribe(handler func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
}

func (e *MeowEngine) emit(evt Event) {
	e.mu.Lock()
	handlers := make([]func(Event), len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.Unlock()

	for _, h := range handlers {
		h(evt)
	}
}

// Connect reconnects a stored session, or starts QR pairing in the
// background when no session exists yet.
func (e *MeowEngine) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()

	if e.HasExistingSession() {
		e.logger.Info("Existing session found, connecting...")
		if err := e.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}
		return nil
	}

	e.logger.Info("No existing session found, starting pairing")
	go func() {
		if err := e.pair(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.logger.Errorf("Pairing failed: %v", err)
		}
	}()
	return nil
}

func (e *MeowEngine) pair(ctx context.Context) error {
	for ctx.Err() == nil {
		qrChan, err := e.client.GetQRChannel(ctx)
		if err != nil {
			if errors.Is(err, whatsmeow.ErrQRStoreContainsID) {
				return e.client.Connect()
			}
			return fmt.Errorf("failed to get QR channel: %w", err)
		}

		if err := e.client.Connect(); err != nil {
			return fmt.Errorf("failed to connect: %w", err)
		}

		for evt := range qrChan {
			switch evt.Event {
			case "code":
				e.logger.Debug("QR code received")
				e.emit(QRIssued{Code: evt.Code})
			case "success":
				e.logger.Info("Pairing successful")
				return nil
			case "timeout":
				e.logger.Warn("QR code expired without being scanned")
				e.emit(Disconnected{Reason: "qr timeout"})
			default:
				e.logger.Warnf("QR event: %s (%v)", evt.Event, evt.Error)
			}
		}

		e.client.Disconnect()
		if err := sleepContext(ctx, repairDelay); err != nil {
			return err
		}
		e.logger.Info("Restarting pairing")
	}
	return ctx.Err()
}

func (e *MeowEngine) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		e.emit(Ready{Account: e.accountInfo()})
	case *events.Disconnected:
		e.emit(Disconnected{Reason: "connection closed"})
	case *events.StreamReplaced:
		e.emit(Disconnected{Reason: "stream replaced"})
	case *events.ConnectFailure:
		e.logger.Errorf("Connection failure: %+v", v)
		e.emit(Disconnected{Reason: v.Reason.String()})
	case *events.LoggedOut:
		e.logger.Warnf("Logged out (on connect: %v): %s", v.OnConnect, v.Reason.String())
		e.emit(Disconnected{Reason: "logged out: " + v.Reason.String()})
	case *events.TemporaryBan:
		e.logger.Errorf("Temporary ban received: %s", v.String())
		e.emit(Disconnected{Reason: v.String()})
	case *events.Message:
		e.emit(MessageReceived{Message: e.rawMessage(v)})
	default:
		e.logger.Debugf("Unhandled event type: %T", evt)
	}
}

func (e *MeowEngine) accountInfo() session.AccountInfo {
	return accountFromDevice(e.client.Store)
}

func accountFromDevice(device *store.Device) session.AccountInfo {
	if device == nil {
		return session.AccountInfo{}
	}
	info := session.AccountInfo{
		Platform: device.Platform,
		PushName: device.PushName,
	}
	if device.ID != nil {
		info.Phone = device.ID.User
	}
	return info
}

// rawMessage flattens a whatsmeow message into the engine-neutral form.
func (e *MeowEngine) rawMessage(v *events.Message) RawMessage {
	// Resolve LID to phone number (LIDs can appear in both group and individual chats)
	senderPhone := v.Info.Sender.User
	if v.Info.Sender.Server == types.HiddenUserServer && e.client.Store.LIDs != nil {
		pn, err := e.client.Store.LIDs.GetPNForLID(context.Background(), v.Info.Sender)
		if err == nil && pn.User != "" {
			senderPhone = pn.User
		} else if err != nil {
			e.logger.Debugf("Could not resolve LID %s: %v", v.Info.Sender, err)
		}
	}

	return RawMessage{
		ID:         v.Info.ID,
		ChatID:     v.Info.Chat.String(),
		SenderID:   senderPhone,
		SenderName: v.Info.PushName,
		Body:       messageText(v.Message),
		Timestamp:  v.Info.Timestamp,
		IsFromMe:   v.Info.IsFromMe,
	}
}

// messageText returns the text of a message or the caption of a media message.
func messageText(msg *waE2E.Message) string {
	switch {
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.GetExtendedTextMessage() != nil:
		return msg.GetExtendedTextMessage().GetText()
	case msg.GetImageMessage() != nil:
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage() != nil:
		return msg.GetVideoMessage().GetCaption()
	case msg.GetDocumentMessage() != nil:
		return msg.GetDocumentMessage().GetCaption()
	default:
		return ""
	}
}

func (e *MeowEngine) Send(ctx context.Context, to, body string) error {
	if !e.client.IsConnected() {
		return fmt.Errorf("WhatsApp not connected")
	}

	jid, err := normalizeToJID(to)
	if err != nil {
		return err
	}

	resp, err := e.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(body),
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}

	e.logger.Debugf("Message %s delivered to server for %s", resp.ID, jid.String())
	return nil
}

func (e *MeowEngine) Disconnect() {
	e.mu.Lock()
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	e.mu.Unlock()

	if e.client != nil {
		e.client.Disconnect()
	}
}
