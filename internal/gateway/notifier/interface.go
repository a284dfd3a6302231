// Package notifier pushes operator alerts for strategy lifecycle events.
package notifier

// TextNotifier is intentionally small so callers can depend on it without
// importing a concrete transport (e.g. Telegram).
type TextNotifier interface {
	SendText(text string) error
}
