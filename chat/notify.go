package chat

import "log/slog"

// Notification is a transient toast for the presentation layer.
type Notification struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Notifier receives toasts and connection state changes.
type Notifier interface {
	Notify(n Notification)
	ConnectionChanged(s ConnectionStatus)
}

// LogNotifier writes notifications to the default logger.
type LogNotifier struct{}

func (LogNotifier) Notify(n Notification) {
	slog.Info("notification", slog.String("component", "chat"), slog.String("title", n.Title), slog.String("message", n.Message))
}

func (LogNotifier) ConnectionChanged(s ConnectionStatus) {
	slog.Debug("connection state", slog.String("component", "chat"), slog.String("channel", s.ChannelName), slog.String("state", string(s.State)))
}

// MultiNotifier fans out to several notifiers.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(n Notification) {
	for _, x := range m {
		x.Notify(n)
	}
}

func (m MultiNotifier) ConnectionChanged(s ConnectionStatus) {
	for _, x := range m {
		x.ConnectionChanged(s)
	}
}
